// Package storelock implements StoreWithLock (§5): a reader-writer
// wrapper around a chainio.Store giving the out-of-scope query surface
// many concurrent snapshot reads while the Updater holds exactly one
// writer at a time during flush or rollback. No operation here holds the
// write lock across an RPC call — the Updater always finishes talking to
// its ChainClient before taking the write lock to commit.
package storelock

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagStoreLock)

// Store wraps a chainio.Store with a sync.RWMutex: every read method
// takes a read lock (so arbitrarily many readers run concurrently), and
// Write takes the exclusive write lock for the duration of the callback
// it's given, the same shape the teacher's database.Db uses for its
// View/Update transaction pair.
type Store struct {
	mu    sync.RWMutex
	inner chainio.Store
}

// New wraps inner.
func New(inner chainio.Store) *Store {
	return &Store{inner: inner}
}

// Write takes the exclusive lock and runs fn against the wrapped store.
// fn must not itself call back into any method on this Store (that would
// deadlock on the non-reentrant RWMutex) and must not perform a blocking
// RPC call while holding it (§5: no write lock held across an RPC call).
func (s *Store) Write(fn func(chainio.Store) er.R) er.R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.inner)
}

// Read takes a shared read lock and runs fn against the wrapped store,
// giving the caller (the out-of-scope query server) a stable snapshot
// view for the duration of fn: no writer can interleave mutations while
// any reader holds the lock.
func (s *Store) Read(fn func(chainio.Store) er.R) er.R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.inner)
}

var _ chainio.Store = (*Store)(nil)

func (s *Store) BlockCount() (uint64, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.BlockCount()
}

func (s *Store) BlockHash(height uint64) (chainhash.Hash, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.BlockHash(height)
}

func (s *Store) BlockHeight(hash chainhash.Hash) (uint64, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.BlockHeight(hash)
}

func (s *Store) TxOut(op wire.OutPoint, mempool bool) (runes.TxOutEntry, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.TxOut(op, mempool)
}

func (s *Store) TxOuts(ops []wire.OutPoint, mempool bool) (map[wire.OutPoint]runes.TxOutEntry, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.TxOuts(ops, mempool)
}

func (s *Store) Rune(id runes.RuneId) (runes.RuneEntry, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Rune(id)
}

func (s *Store) RuneID(rune runes.Rune) (runes.RuneId, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.RuneID(rune)
}

func (s *Store) RuneCount() (uint64, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.RuneCount()
}

func (s *Store) Inscription(id runes.InscriptionId) (runes.Inscription, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.Inscription(id)
}

func (s *Store) ScriptPubkeyOutpoints(script []byte, mempool bool) ([]wire.OutPoint, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.ScriptPubkeyOutpoints(script, mempool)
}

func (s *Store) MempoolTxids() ([]chainhash.Hash, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.MempoolTxids()
}

func (s *Store) IsTxInMempool(txid chainhash.Hash) (bool, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.IsTxInMempool(txid)
}

func (s *Store) TransactionRaw(txid chainhash.Hash, mempool bool) ([]byte, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.TransactionRaw(txid, mempool)
}

func (s *Store) TransactionConfirmingBlock(txid chainhash.Hash) (runes.BlockId, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.TransactionConfirmingBlock(txid)
}

func (s *Store) TransactionStateChange(txid chainhash.Hash) (runes.TransactionStateChange, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.TransactionStateChange(txid)
}

func (s *Store) IsIndexSpentOutputs() (bool, bool, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.IsIndexSpentOutputs()
}

func (s *Store) IsIndexAddresses() (bool, bool, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.IsIndexAddresses()
}

func (s *Store) IsIndexBitcoinTransactions() (bool, bool, er.R) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner.IsIndexBitcoinTransactions()
}

func (s *Store) SetIndexSpentOutputs(v bool) er.R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetIndexSpentOutputs(v)
}

func (s *Store) SetIndexAddresses(v bool) er.R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetIndexAddresses(v)
}

func (s *Store) SetIndexBitcoinTransactions(v bool) er.R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetIndexBitcoinTransactions(v)
}

// WriteBatch takes the exclusive write lock for the duration of the
// underlying atomic batch application — the one operation §5 names
// explicitly as never overlapping a concurrent reader.
func (s *Store) WriteBatch(b *chainio.Batch) er.R {
	log.Tracef("acquiring write lock for batch flush")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.WriteBatch(b)
}
