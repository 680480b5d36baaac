// Package runeparser implements the pure transaction-to-rune-effects
// decoder (§4.1): given a transaction and a snapshot of current rune
// state, it locates and decodes the runestone, resolves edicts against
// input balances, validates etchings and mints, and reports the
// resulting per-output balance allocations. It performs no writes of its
// own; TransactionUpdater applies its ParseResult to the cache.
package runeparser

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/runes"
)

// Err identifies a kind of error from Parse.
var Err er.ErrorType = er.NewErrorType("runeparser.Err")

// ErrMissingInput indicates an input outpoint referenced by the
// transaction has no recorded TxOutEntry in the cache: the indexer has
// lost track of an output it should know about.
var ErrMissingInput = Err.Code("ErrMissingInput")

// BalanceSource is the read-only view into current rune state Parse
// needs. UpdaterCache implements this; tests use it or a hand-built
// fake.
type BalanceSource interface {
	TxOut(op wire.OutPoint) (runes.TxOutEntry, bool, er.R)
	RuneByID(id runes.RuneId) (runes.RuneEntry, bool, er.R)
	RuneIDByName(name runes.Rune) (runes.RuneId, bool, er.R)

	// RuneCount returns the number of runes etched so far, used to assign
	// the next etching's RuneEntry.Number.
	RuneCount() (uint64, er.R)
}

// EtchedRune is the etching effect a ParseResult may carry: the
// newly-assigned id and the entry to insert for it.
type EtchedRune struct {
	Id    runes.RuneId
	Entry runes.RuneEntry
}

// ParseResult is the effect of one transaction on rune state, before it
// has been applied to the cache.
type ParseResult struct {
	Etched         *EtchedRune
	Mint           *runes.RuneAmount
	Outputs        map[uint32][]runes.RuneAmount
	Burned         map[runes.RuneId]runes.Uint128
	HasRuneUpdates bool
}

// selfEtchId is the sentinel an edict uses to refer to "the rune this
// transaction etches", resolved once the etching (if any) is assigned its
// real id.
var selfEtchId = runes.RuneId{Block: 0, Tx: 0}

func isCoinbase(tx *wire.MsgTx) bool {
	if len(tx.TxIn) != 1 {
		return false
	}
	prev := tx.TxIn[0].PreviousOutPoint
	return prev.Index == 0xffffffff && prev.Hash == chainhash.Hash{}
}

// Parse decodes tx's runestone (if any) and resolves its effects against
// the current state exposed by source. height/txIndex place the
// transaction for the purpose of assigning a new RuneId on etching, and
// blockTime (the confirming block's header time, or the current wall-clock
// time for a mempool transaction) is stamped onto a new etching's
// RuneEntry.Timestamp. isMempool controls whether a mint that is
// valid now but would exceed a term's cap once earlier pending mempool
// mints are accounted for is rejected (the pending counters are
// mempool-only headroom).
func Parse(
	source BalanceSource,
	height uint64,
	txIndex uint32,
	blockTime uint64,
	tx *wire.MsgTx,
	isMempool bool,
) (*ParseResult, er.R) {
	runestone, found := DecodeRunestone(tx)
	if !found {
		return nil, nil
	}

	inputSums := make(map[runes.RuneId]runes.Uint128)
	if !isCoinbase(tx) {
		for _, in := range tx.TxIn {
			txOut, ok, err := source.TxOut(in.PreviousOutPoint)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrMissingInput.New(in.PreviousOutPoint.String(), nil)
			}
			for _, ra := range txOut.Runes {
				inputSums[ra.RuneId] = inputSums[ra.RuneId].Add(ra.Amount)
			}
		}
	}

	result := &ParseResult{
		Outputs: make(map[uint32][]runes.RuneAmount),
		Burned:  make(map[runes.RuneId]runes.Uint128),
	}

	if runestone.Cenotaph {
		for id, amount := range inputSums {
			result.Burned[id] = amount
		}
		result.HasRuneUpdates = len(inputSums) > 0
		return result, nil
	}

	available := make(map[runes.RuneId]runes.Uint128, len(inputSums))
	for id, amount := range inputSums {
		available[id] = amount
	}

	var etchedId *runes.RuneId
	if runestone.Etching != nil && runestone.Etching.Rune != nil {
		_, taken, err := source.RuneIDByName(*runestone.Etching.Rune)
		if err != nil {
			return nil, err
		}
		if !taken {
			count, err := source.RuneCount()
			if err != nil {
				return nil, err
			}
			id := runes.RuneId{Block: height, Tx: txIndex}
			entry := runes.RuneEntry{
				Id:           id,
				Number:       count,
				Timestamp:    blockTime,
				EtchingTxid:  tx.TxHash(),
				SpacedRune:   runes.SpacedRune{Rune: *runestone.Etching.Rune, Spacers: runestone.Etching.Spacers},
				Symbol:       runestone.Etching.Symbol,
				Divisibility: runestone.Etching.Divisibility,
				Premine:      runestone.Etching.Premine,
				Terms:        runestone.Etching.Terms,
				Turbo:        runestone.Etching.Turbo,
			}
			result.Etched = &EtchedRune{Id: id, Entry: entry}
			etchedId = &id
			if !entry.Premine.IsZero() {
				available[id] = available[id].Add(entry.Premine)
			}
		}
	}

	if runestone.Mint != nil {
		mintId := *runestone.Mint
		entry, ok, err := source.RuneByID(mintId)
		if err != nil {
			return nil, err
		}
		if ok && entry.Terms != nil {
			mintsSoFar := entry.Mints
			if isMempool {
				mintsSoFar = mintsSoFar.Add(entry.PendingMints)
			}
			if entry.Terms.Mintable(height, mintId.Block, mintsSoFar) {
				amount := runes.Uint128FromUint64(0)
				if entry.Terms.Amount != nil {
					amount = *entry.Terms.Amount
				}
				result.Mint = &runes.RuneAmount{RuneId: mintId, Amount: amount}
				available[mintId] = available[mintId].Add(amount)
			}
		}
	}

	nonOpReturn := firstNonOpReturnOutput(tx)

	for _, edict := range runestone.Edicts {
		id := edict.ID
		if id == selfEtchId {
			if etchedId == nil {
				continue
			}
			id = *etchedId
		}
		if int(edict.Output) >= len(tx.TxOut) {
			continue
		}
		bal, ok := available[id]
		if !ok || bal.IsZero() {
			continue
		}
		amount := edict.Amount
		if amount.IsZero() || amount.Cmp(bal) > 0 {
			amount = bal
		}
		available[id] = bal.Sub(amount)
		if amount.IsZero() {
			continue
		}
		result.Outputs[edict.Output] = append(result.Outputs[edict.Output], runes.RuneAmount{RuneId: id, Amount: amount})
	}

	var pointer *uint32
	if runestone.Pointer != nil && int(*runestone.Pointer) < len(tx.TxOut) {
		pointer = runestone.Pointer
	} else if nonOpReturn != nil {
		pointer = nonOpReturn
	}

	for id, remaining := range available {
		if remaining.IsZero() {
			continue
		}
		if pointer != nil {
			result.Outputs[*pointer] = append(result.Outputs[*pointer], runes.RuneAmount{RuneId: id, Amount: remaining})
		} else {
			result.Burned[id] = result.Burned[id].Add(remaining)
		}
	}

	result.HasRuneUpdates = result.Etched != nil || result.Mint != nil || len(result.Outputs) > 0 || len(result.Burned) > 0
	return result, nil
}

func firstNonOpReturnOutput(tx *wire.MsgTx) *uint32 {
	for i, out := range tx.TxOut {
		if len(out.PkScript) > 0 && out.PkScript[0] == txscript.OP_RETURN {
			continue
		}
		idx := uint32(i)
		return &idx
	}
	return nil
}
