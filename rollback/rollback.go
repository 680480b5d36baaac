// Package rollback implements the inverse of txupdater.Apply (§4.4):
// given the TransactionStateChange journal entry recorded for a
// transaction, it restores every pre-spend input entry, deletes the
// output entries the transaction created, undoes an etching, and walks
// back mint/burn counters — then removes the journal entry itself so it
// cannot be reverted twice.
package rollback

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagRollback)

// Cache is the subset of updatercache.Cache's API Rollback writes through to.
type Cache interface {
	StateChange(txid chainhash.Hash) (runes.TransactionStateChange, bool, er.R)
	DeleteStateChange(txid chainhash.Hash)
	SetTxOut(op wire.OutPoint, entry runes.TxOutEntry)
	DeleteTxOut(op wire.OutPoint)
	RuneByID(id runes.RuneId) (runes.RuneEntry, bool, er.R)
	SetRune(entry runes.RuneEntry)
	DeleteRune(id runes.RuneId)
	DeleteRuneID(name runes.Rune)
	SetRuneCount(n uint64)
	DeleteBlocksAbove(height uint64)
}

// RevertTransaction undoes every effect txupdater.Apply recorded for
// txid, and removes the journal entry. It is a no-op if the transaction
// left no recorded journal entry (it had no effect worth tracking).
func RevertTransaction(cache Cache, txid chainhash.Hash) er.R {
	change, ok, err := cache.StateChange(txid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for op, entry := range change.SpentInputs {
		cache.SetTxOut(op, entry)
	}
	for idx := range change.Outputs {
		cache.DeleteTxOut(wire.OutPoint{Hash: txid, Index: idx})
	}

	if change.Minted != nil {
		if entry, ok, err := cache.RuneByID(change.Minted.RuneId); err != nil {
			return err
		} else if ok {
			if change.Mempool {
				entry.PendingMints = entry.PendingMints.Sub(runes.Uint128FromUint64(1))
			} else {
				entry.Mints = entry.Mints.Sub(runes.Uint128FromUint64(1))
			}
			cache.SetRune(entry)
		}
	}
	for id, amount := range change.Burned {
		if entry, ok, err := cache.RuneByID(id); err != nil {
			return err
		} else if ok {
			if change.Mempool {
				entry.PendingBurns = entry.PendingBurns.Sub(amount)
			} else {
				entry.Burned = entry.Burned.Sub(amount)
			}
			cache.SetRune(entry)
		}
	}

	if change.Etched != nil {
		cache.DeleteRune(change.Etched.Id)
		cache.DeleteRuneID(change.Etched.Entry.SpacedRune.Rune)
		cache.SetRuneCount(change.Etched.Entry.Number)
	}

	cache.DeleteStateChange(txid)
	return nil
}

// RevertBlock undoes every transaction confirmed at height, given the
// txids in their original application order; they are reverted in
// reverse so a later transaction's spend of an earlier transaction's
// own-block output is restored before that output's creation is itself
// undone.
func RevertBlock(cache Cache, height uint64, txids []chainhash.Hash) er.R {
	log.Debugf("reverting block %d (%d transactions)", height, len(txids))
	for i := len(txids) - 1; i >= 0; i-- {
		if err := RevertTransaction(cache, txids[i]); err != nil {
			return err
		}
	}
	return nil
}

// BlockTxids resolves the txids that were indexed at height, in the order
// they were originally applied. The caller (Updater) supplies this from
// whatever it used to fetch/apply the block in the first place.
type BlockTxids func(height uint64) ([]chainhash.Hash, er.R)

// RevertRange undoes blocks [height-depth+1, height], highest first
// (REDESIGN R1: the original's revert_block used a depth-sized 1..depth
// loop whose relationship to absolute height was implicit; here the
// absolute range reverted is explicit and exercised directly by tests).
// depth is assumed bounded well below height by the caller's configured
// maximum recoverable reorg depth, so height-depth+1 does not underflow
// in practice; a revert reaching all the way back past block 0 is not
// supported.
func RevertRange(cache Cache, height uint64, depth uint64, txidsAt BlockTxids) er.R {
	if depth == 0 {
		return nil
	}
	start := height - depth + 1
	for h := height; h >= start; h-- {
		txids, err := txidsAt(h)
		if err != nil {
			return err
		}
		if err := RevertBlock(cache, h, txids); err != nil {
			return err
		}
		if h == 0 {
			break
		}
	}
	if start > 0 {
		cache.DeleteBlocksAbove(start - 1)
	} else {
		cache.DeleteBlocksAbove(0)
	}
	return nil
}
