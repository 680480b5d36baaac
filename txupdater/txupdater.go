// Package txupdater implements TransactionUpdater (§4.2): it applies one
// transaction's decoded runeparser.ParseResult to the cache, marking or
// deleting spent inputs, installing a newly-etched rune, advancing
// mint/burn counters, batching address-index changes, and recording the
// journal entry Rollback needs to reverse all of it exactly once.
package txupdater

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/addressupdater"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/eventbus"
	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runeparser"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagTxUpdater)

// Cache is the subset of updatercache.Cache's API TransactionUpdater
// writes through to.
type Cache interface {
	TxOut(op wire.OutPoint) (runes.TxOutEntry, bool, er.R)
	SetTxOut(op wire.OutPoint, entry runes.TxOutEntry)
	DeleteTxOut(op wire.OutPoint)
	SetRune(entry runes.RuneEntry)
	SetRuneID(name runes.Rune, id runes.RuneId)
	RuneByID(id runes.RuneId) (runes.RuneEntry, bool, er.R)
	RuneCount() (uint64, er.R)
	SetRuneCount(n uint64)
	SetRawTx(txid chainhash.Hash, raw []byte)
	SetTxBlock(txid chainhash.Hash, block runes.BlockId)
	SetStateChange(txid chainhash.Hash, change runes.TransactionStateChange)
	AddEvent(e eventbus.Event)
}

func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prev := tx.TxIn[0].PreviousOutPoint
	return prev.Index == 0xffffffff && prev.Hash == chainhash.Hash{}
}

// IsCoinbase reports whether tx is a coinbase transaction, exported so the
// Updater can decide whether to resolve input scripts before calling Apply.
func IsCoinbase(tx *wire.MsgTx) bool { return isCoinbase(tx) }

// Apply commits tx's effects to cache. block is nil for a mempool (not yet
// confirmed) application, or the confirming block for a block application.
// mempool must agree with block == nil; it is passed explicitly (rather
// than inferred) so a future direct-ingestion path cannot silently get it
// backwards. When mempool is true, mint/burn effects adjust a RuneEntry's
// PendingMints/PendingBurns counters instead of its confirmed Mints/Burned
// counters (§3, §4.2 items 4-5); Rollback reverses whichever pair the
// journal entry records. inputScripts must supply the script_pubkey of
// every non-coinbase input's previous outpoint when address indexing is
// enabled; the Updater resolves them by fetching each input's previous
// transaction from the ChainClient. result may be nil if
// the transaction carried no runestone at all, in which case only plain
// value/address bookkeeping (spend-tracking, address-index upkeep, raw-tx
// persistence) is performed.
func Apply(
	cache Cache,
	addrBatch *addressupdater.Batch,
	settings runes.Settings,
	block *runes.BlockId,
	mempool bool,
	tx *wire.MsgTx,
	result *runeparser.ParseResult,
	inputScripts map[wire.OutPoint][]byte,
) er.R {
	txid := tx.TxHash()
	coinbase := isCoinbase(tx)

	change := runes.TransactionStateChange{
		SpentInputs: make(map[wire.OutPoint]runes.TxOutEntry),
		Outputs:     make(map[uint32]runes.TxOutEntry),
		Burned:      make(map[runes.RuneId]runes.Uint128),
		IsCoinbase:  coinbase,
		Mempool:     mempool,
	}

	if !coinbase {
		for _, in := range tx.TxIn {
			op := in.PreviousOutPoint
			entry, ok, err := cache.TxOut(op)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			change.SpentInputs[op] = entry
			if settings.IndexSpentOutputs {
				entry.Spent = true
				cache.SetTxOut(op, entry)
			} else {
				cache.DeleteTxOut(op)
			}
			if settings.IndexAddresses {
				if script, ok := inputScripts[op]; ok {
					addrBatch.Remove(script, op)
				}
			}
		}
	}

	var runeOutputs map[uint32][]runes.RuneAmount
	if result != nil {
		runeOutputs = result.Outputs

		if result.Etched != nil {
			cache.SetRune(result.Etched.Entry)
			cache.SetRuneID(result.Etched.Entry.SpacedRune.Rune, result.Etched.Id)
			cache.SetRuneCount(result.Etched.Entry.Number + 1)
			change.Etched = &runes.EtchingChange{Id: result.Etched.Id, Entry: result.Etched.Entry}
			cache.AddEvent(eventbus.RuneEtched(result.Etched.Id))
		}

		if result.Mint != nil {
			entry, ok, err := cache.RuneByID(result.Mint.RuneId)
			if err != nil {
				return err
			}
			if !ok && result.Etched != nil && result.Etched.Id == result.Mint.RuneId {
				entry, ok = result.Etched.Entry, true
			}
			if ok {
				if mempool {
					entry.PendingMints = entry.PendingMints.Add(runes.Uint128FromUint64(1))
				} else {
					entry.Mints = entry.Mints.Add(runes.Uint128FromUint64(1))
				}
				cache.SetRune(entry)
				change.Minted = result.Mint
				cache.AddEvent(eventbus.RuneMinted(result.Mint.RuneId, result.Mint.Amount))
			}
		}

		for id, amount := range result.Burned {
			entry, ok, err := cache.RuneByID(id)
			if err != nil {
				return err
			}
			if !ok && result.Etched != nil && result.Etched.Id == id {
				entry, ok = result.Etched.Entry, true
			}
			if !ok {
				continue
			}
			if mempool {
				entry.PendingBurns = entry.PendingBurns.Add(amount)
			} else {
				entry.Burned = entry.Burned.Add(amount)
			}
			cache.SetRune(entry)
			change.Burned[id] = amount
			cache.AddEvent(eventbus.RuneBurned(id, amount))
		}
	}

	// Every output gets a TxOutEntry, not just outputs that received a
	// rune allocation: a later transaction's ordinary BTC input may spend
	// any of this transaction's outputs, and Parse's missing-input check
	// needs to find it regardless of whether it ever carried runes.
	for i, out := range tx.TxOut {
		idx := uint32(i)
		entry := runes.TxOutEntry{
			Value: uint64(out.Value),
			Runes: runeOutputs[idx],
		}
		op := wire.OutPoint{Hash: txid, Index: idx}
		cache.SetTxOut(op, entry)
		change.Outputs[idx] = entry
		if settings.IndexAddresses {
			addrBatch.Add(out.PkScript, op)
		}
	}

	if settings.IndexBitcoinTransactions {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return er.E(err)
		}
		cache.SetRawTx(txid, buf.Bytes())
		if block != nil {
			cache.SetTxBlock(txid, *block)
		}
	}

	if hasEffect(&change) {
		log.Tracef("recording state change for %s: %d spent, %d outputs, etched=%v minted=%v burned=%d",
			txid, len(change.SpentInputs), len(change.Outputs), change.Etched != nil, change.Minted != nil, len(change.Burned))
		cache.SetStateChange(txid, change)
	}

	return nil
}

func hasEffect(c *runes.TransactionStateChange) bool {
	return len(c.SpentInputs) > 0 ||
		len(c.Outputs) > 0 ||
		c.Etched != nil ||
		c.Minted != nil ||
		len(c.Burned) > 0
}
