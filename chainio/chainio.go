// Package chainio defines the storage and chain-client contracts the
// indexer core is built against (§6 of the specification), along with the
// pure aggregation logic (feature-flag validation, address/tx-status
// views) that sits on top of them. Concrete implementations live in
// sibling packages (boltstore for persistence, chainiotest for unit-test
// fakes); chainio itself holds no database or RPC code, the way the
// teacher keeps database.Db an interface and leaves ffldb to implement it.
package chainio

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/runes"
)

// Err identifies a kind of error from a Store or ChainClient implementation.
var Err er.ErrorType = er.NewErrorType("chainio.Err")

var (
	// ErrNotFound indicates the requested key has no entry in the store.
	ErrNotFound = Err.Code("ErrNotFound")

	// ErrCorruption indicates a stored value could not be decoded.
	ErrCorruption = Err.Code("ErrCorruption")

	// ErrIO indicates the underlying storage engine returned an I/O error.
	ErrIO = Err.Code("ErrIO")

	// ErrInvalidIndex indicates the store's feature flags are incompatible
	// with the settings the embedder supplied, and cannot be reconciled
	// without dropping and rebuilding the index.
	ErrInvalidIndex = Err.Code("ErrInvalidIndex")
)

// Store is the persistence contract the updater core is built against
// (§6). An implementation must make WriteBatch atomic: either every
// write in a batch is visible or none are.
type Store interface {
	// BlockCount returns the height of the highest indexed block, or
	// ErrNotFound if no block has been indexed yet.
	BlockCount() (uint64, er.R)

	// BlockHash returns the hash indexed at height.
	BlockHash(height uint64) (chainhash.Hash, er.R)

	// BlockHeight returns the height indexed for hash.
	BlockHeight(hash chainhash.Hash) (uint64, er.R)

	// TxOut returns the indexed view of an output. When mempool is true,
	// the result reflects mempool-pending spends/creations layered over
	// the confirmed view; when false, it reflects the confirmed view
	// only.
	TxOut(op wire.OutPoint, mempool bool) (runes.TxOutEntry, er.R)

	// TxOuts is a bulk form of TxOut.
	TxOuts(ops []wire.OutPoint, mempool bool) (map[wire.OutPoint]runes.TxOutEntry, er.R)

	// Rune returns a rune's entry by id.
	Rune(id runes.RuneId) (runes.RuneEntry, er.R)

	// RuneCount returns the number of runes etched so far, used to assign
	// the next etching's RuneEntry.Number. A store that has never etched
	// a rune returns 0, not ErrNotFound.
	RuneCount() (uint64, er.R)

	// RuneID resolves a rune's base-26 name to its id.
	RuneID(rune runes.Rune) (runes.RuneId, er.R)

	// Inscription returns an inscription by id.
	Inscription(id runes.InscriptionId) (runes.Inscription, er.R)

	// ScriptPubkeyOutpoints returns the set of outpoints an address's
	// script_pubkey currently controls. When mempool is true, pending
	// mempool changes are layered in.
	ScriptPubkeyOutpoints(script []byte, mempool bool) ([]wire.OutPoint, er.R)

	// MempoolTxids returns every txid currently tracked in the mempool
	// set.
	MempoolTxids() ([]chainhash.Hash, er.R)

	// IsTxInMempool reports whether txid is in the mempool set.
	IsTxInMempool(txid chainhash.Hash) (bool, er.R)

	// TransactionRaw returns a transaction's serialized bytes. When
	// mempool is true and the tx is unconfirmed, the mempool copy is
	// returned.
	TransactionRaw(txid chainhash.Hash, mempool bool) ([]byte, er.R)

	// TransactionConfirmingBlock returns the block a transaction was
	// confirmed in, or ErrNotFound if it is unconfirmed or unknown.
	TransactionConfirmingBlock(txid chainhash.Hash) (runes.BlockId, er.R)

	// TransactionStateChange returns the journal entry recorded when
	// txid was indexed, used to reverse it on reorg.
	TransactionStateChange(txid chainhash.Hash) (runes.TransactionStateChange, er.R)

	// IsIndexSpentOutputs, IsIndexAddresses and IsIndexBitcoinTransactions
	// return the feature flag the store was built with, and ok=false if
	// the store predates flag tracking (fresh store).
	IsIndexSpentOutputs() (value bool, ok bool, err er.R)
	IsIndexAddresses() (value bool, ok bool, err er.R)
	IsIndexBitcoinTransactions() (value bool, ok bool, err er.R)

	SetIndexSpentOutputs(bool) er.R
	SetIndexAddresses(bool) er.R
	SetIndexBitcoinTransactions(bool) er.R

	// WriteBatch atomically applies a set of changes. Called by
	// UpdaterCache.Flush and by rollback at reorg boundaries.
	WriteBatch(*Batch) er.R
}

// Batch is the unit of atomic persistence UpdaterCache accumulates and
// flushes (§4.3). Fields are additive/overwrite maps; a nil map means no
// change of that kind.
type Batch struct {
	BlockCount *uint64
	Blocks     map[uint64]chainhash.Hash // height -> hash, also reverse-indexed
	TxOuts     map[wire.OutPoint]runes.TxOutEntry
	DeleteTxOuts []wire.OutPoint
	Runes      map[runes.RuneId]runes.RuneEntry
	DeleteRunes []runes.RuneId
	RuneIDs    map[runes.Rune]runes.RuneId
	DeleteRuneIDs []runes.Rune
	AddressAdd map[string][]wire.OutPoint // script_pubkey (string-keyed) -> outpoints added
	AddressDel map[string][]wire.OutPoint
	MempoolAdd []chainhash.Hash
	MempoolDel []chainhash.Hash
	RawTxs     map[chainhash.Hash][]byte
	TxBlocks   map[chainhash.Hash]runes.BlockId
	StateChanges map[chainhash.Hash]runes.TransactionStateChange
	DeleteStateChanges []chainhash.Hash
	DeleteBlocksAbove *uint64
	RuneCount  *uint64
}

// NewBatch returns an empty batch with its maps initialized.
func NewBatch() *Batch {
	return &Batch{
		Blocks:       make(map[uint64]chainhash.Hash),
		TxOuts:       make(map[wire.OutPoint]runes.TxOutEntry),
		Runes:        make(map[runes.RuneId]runes.RuneEntry),
		RuneIDs:      make(map[runes.Rune]runes.RuneId),
		AddressAdd:   make(map[string][]wire.OutPoint),
		AddressDel:   make(map[string][]wire.OutPoint),
		RawTxs:       make(map[chainhash.Hash][]byte),
		TxBlocks:     make(map[chainhash.Hash]runes.BlockId),
		StateChanges: make(map[chainhash.Hash]runes.TransactionStateChange),
	}
}

// IsEmpty reports whether the batch has no pending changes at all.
func (b *Batch) IsEmpty() bool {
	return b.BlockCount == nil &&
		len(b.Blocks) == 0 &&
		len(b.TxOuts) == 0 &&
		len(b.DeleteTxOuts) == 0 &&
		len(b.Runes) == 0 &&
		len(b.DeleteRunes) == 0 &&
		len(b.RuneIDs) == 0 &&
		len(b.DeleteRuneIDs) == 0 &&
		len(b.AddressAdd) == 0 &&
		len(b.AddressDel) == 0 &&
		len(b.MempoolAdd) == 0 &&
		len(b.MempoolDel) == 0 &&
		len(b.RawTxs) == 0 &&
		len(b.TxBlocks) == 0 &&
		len(b.StateChanges) == 0 &&
		len(b.DeleteStateChanges) == 0 &&
		b.DeleteBlocksAbove == nil &&
		b.RuneCount == nil
}

// ChainClient is the read-only Bitcoin Core RPC surface the updater
// consumes (§4.5). No RPC-backed implementation lives in this module;
// the embedder supplies one, and chainiotest provides a fake for tests.
type ChainClient interface {
	GetBlockCount() (int64, er.R)
	GetBlockHash(height int64) (chainhash.Hash, er.R)
	GetBlock(hash chainhash.Hash) (*wire.MsgBlock, er.R)
	GetRawTransaction(txid chainhash.Hash) (*wire.MsgTx, er.R)
	GetRawMempool() ([]chainhash.Hash, er.R)
}
