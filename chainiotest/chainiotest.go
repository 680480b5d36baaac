// Package chainiotest provides in-memory fakes of the chainio.Store and
// chainio.ChainClient contracts for use in unit tests, the way the
// teacher's database package is tested against an in-memory driver
// rather than a real on-disk engine.
package chainiotest

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/runes"
)

// MemStore is a fully in-memory chainio.Store used by package tests
// across the module; every method holds an internal mutex.
type MemStore struct {
	mu sync.Mutex

	blockCount  *uint64
	hashToHeigt map[chainhash.Hash]uint64
	heightToHash map[uint64]chainhash.Hash

	txOuts map[wire.OutPoint]runes.TxOutEntry

	runeEntries map[runes.RuneId]runes.RuneEntry
	runeIDs     map[runes.Rune]runes.RuneId
	runeCount   *uint64

	inscriptions map[runes.InscriptionId]runes.Inscription

	addressIndex map[string]map[wire.OutPoint]struct{}

	mempool map[chainhash.Hash]struct{}

	rawTxs     map[chainhash.Hash][]byte
	txBlocks   map[chainhash.Hash]runes.BlockId
	stateChanges map[chainhash.Hash]runes.TransactionStateChange

	flagSpentOutputs, flagAddresses, flagBitcoinTxs       *bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		hashToHeigt:  make(map[chainhash.Hash]uint64),
		heightToHash: make(map[uint64]chainhash.Hash),
		txOuts:       make(map[wire.OutPoint]runes.TxOutEntry),
		runeEntries:  make(map[runes.RuneId]runes.RuneEntry),
		runeIDs:      make(map[runes.Rune]runes.RuneId),
		inscriptions: make(map[runes.InscriptionId]runes.Inscription),
		addressIndex: make(map[string]map[wire.OutPoint]struct{}),
		mempool:      make(map[chainhash.Hash]struct{}),
		rawTxs:       make(map[chainhash.Hash][]byte),
		txBlocks:     make(map[chainhash.Hash]runes.BlockId),
		stateChanges: make(map[chainhash.Hash]runes.TransactionStateChange),
	}
}

var _ chainio.Store = (*MemStore)(nil)

func (m *MemStore) BlockCount() (uint64, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blockCount == nil {
		return 0, chainio.ErrNotFound.Default()
	}
	return *m.blockCount, nil
}

func (m *MemStore) BlockHash(height uint64) (chainhash.Hash, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.heightToHash[height]
	if !ok {
		return chainhash.Hash{}, chainio.ErrNotFound.Default()
	}
	return h, nil
}

func (m *MemStore) BlockHeight(hash chainhash.Hash) (uint64, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashToHeigt[hash]
	if !ok {
		return 0, chainio.ErrNotFound.Default()
	}
	return h, nil
}

func (m *MemStore) TxOut(op wire.OutPoint, mempool bool) (runes.TxOutEntry, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txOuts[op]
	if !ok {
		return runes.TxOutEntry{}, chainio.ErrNotFound.Default()
	}
	return t, nil
}

func (m *MemStore) TxOuts(ops []wire.OutPoint, mempool bool) (map[wire.OutPoint]runes.TxOutEntry, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[wire.OutPoint]runes.TxOutEntry, len(ops))
	for _, op := range ops {
		if t, ok := m.txOuts[op]; ok {
			out[op] = t
		}
	}
	return out, nil
}

func (m *MemStore) Rune(id runes.RuneId) (runes.RuneEntry, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runeEntries[id]
	if !ok {
		return runes.RuneEntry{}, chainio.ErrNotFound.Default()
	}
	return e, nil
}

func (m *MemStore) RuneCount() (uint64, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runeCount == nil {
		return 0, nil
	}
	return *m.runeCount, nil
}

func (m *MemStore) RuneID(rune runes.Rune) (runes.RuneId, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.runeIDs[rune]
	if !ok {
		return runes.RuneId{}, chainio.ErrNotFound.Default()
	}
	return id, nil
}

func (m *MemStore) Inscription(id runes.InscriptionId) (runes.Inscription, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.inscriptions[id]
	if !ok {
		return runes.Inscription{}, chainio.ErrNotFound.Default()
	}
	return i, nil
}

func (m *MemStore) ScriptPubkeyOutpoints(script []byte, mempool bool) ([]wire.OutPoint, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.addressIndex[string(script)]
	if !ok {
		return nil, nil
	}
	out := make([]wire.OutPoint, 0, len(set))
	for op := range set {
		out = append(out, op)
	}
	return out, nil
}

func (m *MemStore) MempoolTxids() ([]chainhash.Hash, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainhash.Hash, 0, len(m.mempool))
	for txid := range m.mempool {
		out = append(out, txid)
	}
	return out, nil
}

func (m *MemStore) IsTxInMempool(txid chainhash.Hash) (bool, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mempool[txid]
	return ok, nil
}

func (m *MemStore) TransactionRaw(txid chainhash.Hash, mempool bool) ([]byte, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rawTxs[txid]
	if !ok {
		return nil, chainio.ErrNotFound.Default()
	}
	return b, nil
}

func (m *MemStore) TransactionConfirmingBlock(txid chainhash.Hash) (runes.BlockId, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.txBlocks[txid]
	if !ok {
		return runes.BlockId{}, chainio.ErrNotFound.Default()
	}
	return b, nil
}

func (m *MemStore) TransactionStateChange(txid chainhash.Hash) (runes.TransactionStateChange, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.stateChanges[txid]
	if !ok {
		return runes.TransactionStateChange{}, chainio.ErrNotFound.Default()
	}
	return c, nil
}

func (m *MemStore) IsIndexSpentOutputs() (bool, bool, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagSpentOutputs == nil {
		return false, false, nil
	}
	return *m.flagSpentOutputs, true, nil
}

func (m *MemStore) IsIndexAddresses() (bool, bool, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagAddresses == nil {
		return false, false, nil
	}
	return *m.flagAddresses, true, nil
}

func (m *MemStore) IsIndexBitcoinTransactions() (bool, bool, er.R) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flagBitcoinTxs == nil {
		return false, false, nil
	}
	return *m.flagBitcoinTxs, true, nil
}

func (m *MemStore) SetIndexSpentOutputs(v bool) er.R {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagSpentOutputs = &v
	return nil
}

func (m *MemStore) SetIndexAddresses(v bool) er.R {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagAddresses = &v
	return nil
}

func (m *MemStore) SetIndexBitcoinTransactions(v bool) er.R {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagBitcoinTxs = &v
	return nil
}

// WriteBatch applies every field of a batch in one critical section,
// giving MemStore the same atomicity contract a real engine's
// transaction would provide.
func (m *MemStore) WriteBatch(b *chainio.Batch) er.R {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.BlockCount != nil {
		m.blockCount = b.BlockCount
	}
	if b.RuneCount != nil {
		m.runeCount = b.RuneCount
	}
	for height, hash := range b.Blocks {
		m.heightToHash[height] = hash
		m.hashToHeigt[hash] = height
	}
	if b.DeleteBlocksAbove != nil {
		for height, hash := range m.heightToHash {
			if height > *b.DeleteBlocksAbove {
				delete(m.heightToHash, height)
				delete(m.hashToHeigt, hash)
			}
		}
	}
	for op, t := range b.TxOuts {
		m.txOuts[op] = t
	}
	for _, op := range b.DeleteTxOuts {
		delete(m.txOuts, op)
	}
	for id, e := range b.Runes {
		m.runeEntries[id] = e
	}
	for _, id := range b.DeleteRunes {
		delete(m.runeEntries, id)
	}
	for r, id := range b.RuneIDs {
		m.runeIDs[r] = id
	}
	for _, r := range b.DeleteRuneIDs {
		delete(m.runeIDs, r)
	}
	for script, ops := range b.AddressAdd {
		set, ok := m.addressIndex[script]
		if !ok {
			set = make(map[wire.OutPoint]struct{})
			m.addressIndex[script] = set
		}
		for _, op := range ops {
			set[op] = struct{}{}
		}
	}
	for script, ops := range b.AddressDel {
		set, ok := m.addressIndex[script]
		if ok {
			for _, op := range ops {
				delete(set, op)
			}
		}
	}
	for _, txid := range b.MempoolAdd {
		m.mempool[txid] = struct{}{}
	}
	for _, txid := range b.MempoolDel {
		delete(m.mempool, txid)
	}
	for txid, raw := range b.RawTxs {
		m.rawTxs[txid] = raw
	}
	for txid, block := range b.TxBlocks {
		m.txBlocks[txid] = block
	}
	for txid, change := range b.StateChanges {
		m.stateChanges[txid] = change
	}
	for _, txid := range b.DeleteStateChanges {
		delete(m.stateChanges, txid)
	}
	return nil
}
