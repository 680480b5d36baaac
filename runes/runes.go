// Package runes holds the data model shared by every component of the
// indexer core (§3 of the specification): block identity, rune identity
// and metadata, per-output rune balances, the per-transaction journal
// entry used for rollback, and the settings view the core consumes.
//
// Types here are plain values with no storage or RPC dependency of their
// own; (de)serialization and persistence live in the chainio/boltstore
// packages, the way the teacher keeps its models free of database
// concerns and lets the indexers package own bucket encoding.
package runes

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockId identifies a block by height and hash. Created when a block is
// indexed, destroyed on reorg rollback.
type BlockId struct {
	Height uint64
	Hash   chainhash.Hash
}

func (b BlockId) String() string {
	return fmt.Sprintf("%d:%s", b.Height, b.Hash)
}

// RuneId is the identity of a rune, assigned at etching and immutable
// thereafter: the height and in-block transaction index of the etching
// transaction.
type RuneId struct {
	Block uint64
	Tx    uint32
}

func (r RuneId) String() string {
	return fmt.Sprintf("%d:%d", r.Block, r.Tx)
}

// Less orders RuneIds the way they are assigned: by block then by
// in-block tx index.
func (r RuneId) Less(o RuneId) bool {
	if r.Block != o.Block {
		return r.Block < o.Block
	}
	return r.Tx < o.Tx
}

// SpacedRune is a rune's base-26 name together with the spacer bitmap used
// to render it with bullet separators (e.g. "UNCOMMON•GOODS").
type SpacedRune struct {
	Rune    Rune
	Spacers uint32
}

// Rune is the base-26 numeric encoding of a rune's name.
type Rune uint128

func (s SpacedRune) String() string {
	name := s.Rune.String()
	var out []byte
	for i, c := range []byte(name) {
		out = append(out, c)
		if i < len(name)-1 && s.Spacers&(1<<uint(i)) != 0 {
			out = append(out, "\xe2\x80\xa2"...) // U+2022 BULLET
		}
	}
	return string(out)
}

// Terms is a rune's optional mint policy.
type Terms struct {
	Amount      *uint128
	Cap         *uint128
	StartHeight *uint64
	EndHeight   *uint64
	StartOffset *uint64
	EndOffset   *uint64
}

// MintWindow resolves (StartHeight/StartOffset, EndHeight/EndOffset)
// against the rune's etching height into absolute [start, end) block
// bounds. Offsets are relative to the etching height.
func (t *Terms) MintWindow(etchingHeight uint64) (start, end *uint64) {
	if t == nil {
		return nil, nil
	}
	start = t.StartHeight
	if t.StartOffset != nil {
		s := etchingHeight + *t.StartOffset
		if start == nil || s > *start {
			start = &s
		}
	}
	end = t.EndHeight
	if t.EndOffset != nil {
		e := etchingHeight + *t.EndOffset
		if end == nil || e < *end {
			end = &e
		}
	}
	return start, end
}

// Mintable reports whether a mint at the given height is within the
// term's window and under its cap, given the confirmed+pending mint count
// so far.
func (t *Terms) Mintable(height uint64, etchingHeight uint64, mintsSoFar uint128) bool {
	if t == nil {
		return false
	}
	if t.Cap != nil && mintsSoFar.Cmp(*t.Cap) >= 0 {
		return false
	}
	start, end := t.MintWindow(etchingHeight)
	if start != nil && height < *start {
		return false
	}
	if end != nil && height >= *end {
		return false
	}
	return true
}

// RuneEntry is the persisted metadata and supply state for one rune.
type RuneEntry struct {
	Id            RuneId
	Number        uint64
	EtchingTxid   chainhash.Hash
	SpacedRune    SpacedRune
	Symbol        *rune32
	Divisibility  uint8
	Premine       uint128
	Terms         *Terms
	Mints         uint128
	Burned        uint128
	PendingMints  uint128
	PendingBurns  uint128
	Turbo         bool
	Timestamp     uint64
	InscriptionId *InscriptionId
}

// rune32 is an alias kept distinct from the builtin rune type name clash
// with Rune above; it holds a single Unicode scalar symbol.
type rune32 = int32

// Supply returns the rune's confirmed circulating supply:
// premine + mints*amount - burned.
func (e *RuneEntry) Supply() uint128 {
	supply := e.Premine
	if e.Terms != nil && e.Terms.Amount != nil {
		supply = supply.Add(e.Mints.Mul(*e.Terms.Amount))
	}
	return supply.Sub(e.Burned)
}

// InscriptionId references an inscription (out of the Ordinals theory,
// carried here only as an opaque optional pointer on RuneEntry).
type InscriptionId struct {
	Txid  chainhash.Hash
	Index uint32
}

// Inscription is the minimal projection of an Ordinals inscription this
// indexer tracks: which rune, if any, it etched. Inscription content and
// the rest of the Ordinals data model are out of scope; this exists only
// so RuneEntry.InscriptionId can be resolved back to the rune it names.
type Inscription struct {
	Id     InscriptionId
	RuneId *RuneId
}

// RuneAmount is a balance of one rune, used both in TxOutEntry.Runes and
// in address summaries.
type RuneAmount struct {
	RuneId RuneId
	Amount uint128
}

// TxOutEntry is the indexed view of one transaction output: its rune
// allocations, its satoshi value, and whether it has been spent in the
// confirmed view (or, when index_spent_outputs is disabled, its absence
// entirely signals "spent").
type TxOutEntry struct {
	Runes []RuneAmount
	Value uint64
	Spent bool
}

func (t *TxOutEntry) HasRunes() bool { return len(t.Runes) > 0 }

// TransactionStateChange is the journal entry recorded for every indexed
// transaction, sufficient to reverse its effects exactly once. SpentInputs
// captures each input's pre-spend entry (not just its outpoint) so
// rollback can restore it verbatim even when index_spent_outputs is off
// and the live entry was deleted rather than flagged.
type TransactionStateChange struct {
	SpentInputs map[wire.OutPoint]TxOutEntry
	Outputs     map[uint32]TxOutEntry
	Etched      *EtchingChange
	Minted      *RuneAmount
	Burned      map[RuneId]uint128
	IsCoinbase  bool

	// Mempool records whether this entry was written by a mempool
	// (unconfirmed) application of TransactionUpdater: Minted/Burned
	// above then adjusted a RuneEntry's PendingMints/PendingBurns
	// counters rather than its confirmed Mints/Burned counters, and
	// Rollback must reverse the same pair.
	Mempool bool
}

// EtchingChange records the rune a transaction etched, for rollback.
type EtchingChange struct {
	Id    RuneId
	Entry RuneEntry
}

// Settings is the (externally-owned) process configuration the core
// consumes. It is fixed at startup; §6 describes the feature-flag
// validation performed against a populated Store.
type Settings struct {
	Chain                    *chaincfg.Params
	IndexSpentOutputs        bool
	IndexAddresses           bool
	IndexBitcoinTransactions bool
	CommitInterval           uint64
	MainLoopIntervalMs       uint64
	MaxRecoverableReorgDepth uint64
	MempoolGracePeriodMs     uint64
}
