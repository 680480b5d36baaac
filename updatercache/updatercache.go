// Package updatercache implements the write-through, write-back cache
// UpdaterCache (§4.3): a read-aside layer over chainio.Store that
// accumulates pending mutations and flushes them as a single atomic
// batch, releasing queued events to the EventBus only once that flush
// has succeeded.
package updatercache

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/eventbus"
	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagCache)

// Cache is the pending-mutation buffer layered over a chainio.Store.
// Not safe for concurrent use; the Updater serializes all access to it
// on its single index-loop worker (§5).
type Cache struct {
	store chainio.Store

	pending *chainio.Batch
	events  []eventbus.Event

	bufferedBlocks uint64
}

// New wraps store with an empty pending-mutation buffer.
func New(store chainio.Store) *Cache {
	return &Cache{store: store, pending: chainio.NewBatch()}
}

// TxOut satisfies runeparser.BalanceSource: pending writes shadow the
// underlying store, and a pending delete shadows a still-present stored
// entry.
func (c *Cache) TxOut(op wire.OutPoint) (runes.TxOutEntry, bool, er.R) {
	if t, ok := c.pending.TxOuts[op]; ok {
		return t, true, nil
	}
	for _, deleted := range c.pending.DeleteTxOuts {
		if deleted == op {
			return runes.TxOutEntry{}, false, nil
		}
	}
	t, err := c.store.TxOut(op, true)
	if err != nil {
		if chainio.ErrNotFound.Is(err) {
			return runes.TxOutEntry{}, false, nil
		}
		return runes.TxOutEntry{}, false, err
	}
	return t, true, nil
}

// RuneByID satisfies runeparser.BalanceSource.
func (c *Cache) RuneByID(id runes.RuneId) (runes.RuneEntry, bool, er.R) {
	if e, ok := c.pending.Runes[id]; ok {
		return e, true, nil
	}
	for _, deleted := range c.pending.DeleteRunes {
		if deleted == id {
			return runes.RuneEntry{}, false, nil
		}
	}
	e, err := c.store.Rune(id)
	if err != nil {
		if chainio.ErrNotFound.Is(err) {
			return runes.RuneEntry{}, false, nil
		}
		return runes.RuneEntry{}, false, err
	}
	return e, true, nil
}

// RuneIDByName satisfies runeparser.BalanceSource.
func (c *Cache) RuneIDByName(name runes.Rune) (runes.RuneId, bool, er.R) {
	if id, ok := c.pending.RuneIDs[name]; ok {
		return id, true, nil
	}
	for _, deleted := range c.pending.DeleteRuneIDs {
		if deleted == name {
			return runes.RuneId{}, false, nil
		}
	}
	id, err := c.store.RuneID(name)
	if err != nil {
		if chainio.ErrNotFound.Is(err) {
			return runes.RuneId{}, false, nil
		}
		return runes.RuneId{}, false, err
	}
	return id, true, nil
}

// RuneCount returns the pending etched-rune count if one has been set this
// flush cycle, else the store's count.
func (c *Cache) RuneCount() (uint64, er.R) {
	if c.pending.RuneCount != nil {
		return *c.pending.RuneCount, nil
	}
	return c.store.RuneCount()
}

// SetRuneCount records the new etched-rune count, to be applied atomically
// with the rest of the transaction's effects on the next flush.
func (c *Cache) SetRuneCount(n uint64) {
	c.pending.RuneCount = &n
}

// BlockCount returns the pending tip if one has been set this flush
// cycle, else the store's tip.
func (c *Cache) BlockCount() (uint64, er.R) {
	if c.pending.BlockCount != nil {
		return *c.pending.BlockCount, nil
	}
	return c.store.BlockCount()
}

// BlockHash returns the hash indexed at height, checking pending writes
// first.
func (c *Cache) BlockHash(height uint64) (chainhash.Hash, er.R) {
	if h, ok := c.pending.Blocks[height]; ok {
		return h, nil
	}
	return c.store.BlockHash(height)
}

// SetBlockTip records the new tip height/hash, to be applied atomically
// with the rest of the block's effects on the next flush.
func (c *Cache) SetBlockTip(height uint64, hash chainhash.Hash) {
	h := height
	c.pending.BlockCount = &h
	c.pending.Blocks[height] = hash
	c.bufferedBlocks++
}

// DeleteBlocksAbove schedules removal of every block-height entry above
// height, used when a reorg resets the tip backwards.
func (c *Cache) DeleteBlocksAbove(height uint64) {
	h := height
	c.pending.DeleteBlocksAbove = &h
	c.pending.BlockCount = &h
}

func (c *Cache) SetTxOut(op wire.OutPoint, entry runes.TxOutEntry) {
	c.pending.TxOuts[op] = entry
}

func (c *Cache) DeleteTxOut(op wire.OutPoint) {
	delete(c.pending.TxOuts, op)
	c.pending.DeleteTxOuts = append(c.pending.DeleteTxOuts, op)
}

func (c *Cache) SetRune(entry runes.RuneEntry) {
	c.pending.Runes[entry.Id] = entry
}

func (c *Cache) SetRuneID(name runes.Rune, id runes.RuneId) {
	c.pending.RuneIDs[name] = id
}

// DeleteRune removes a rune's entry entirely, used by rollback to undo an
// etching.
func (c *Cache) DeleteRune(id runes.RuneId) {
	delete(c.pending.Runes, id)
	c.pending.DeleteRunes = append(c.pending.DeleteRunes, id)
}

// DeleteRuneID removes a rune name's id mapping entirely, used by
// rollback to undo an etching.
func (c *Cache) DeleteRuneID(name runes.Rune) {
	delete(c.pending.RuneIDs, name)
	c.pending.DeleteRuneIDs = append(c.pending.DeleteRuneIDs, name)
}

func (c *Cache) AddAddressOutpoint(scriptPubkey []byte, op wire.OutPoint) {
	c.pending.AddressAdd[string(scriptPubkey)] = append(c.pending.AddressAdd[string(scriptPubkey)], op)
}

func (c *Cache) RemoveAddressOutpoint(scriptPubkey []byte, op wire.OutPoint) {
	c.pending.AddressDel[string(scriptPubkey)] = append(c.pending.AddressDel[string(scriptPubkey)], op)
}

// MempoolTxids returns the current mempool set, layering pending
// additions/removals over the store's recorded set.
func (c *Cache) MempoolTxids() ([]chainhash.Hash, er.R) {
	stored, err := c.store.MempoolTxids()
	if err != nil {
		return nil, err
	}
	set := make(map[chainhash.Hash]struct{}, len(stored))
	for _, t := range stored {
		set[t] = struct{}{}
	}
	for _, t := range c.pending.MempoolAdd {
		set[t] = struct{}{}
	}
	for _, t := range c.pending.MempoolDel {
		delete(set, t)
	}
	out := make([]chainhash.Hash, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out, nil
}

func (c *Cache) AddMempoolTxid(txid chainhash.Hash) {
	c.pending.MempoolAdd = append(c.pending.MempoolAdd, txid)
}

func (c *Cache) RemoveMempoolTxid(txid chainhash.Hash) {
	c.pending.MempoolDel = append(c.pending.MempoolDel, txid)
}

func (c *Cache) SetRawTx(txid chainhash.Hash, raw []byte) {
	c.pending.RawTxs[txid] = raw
}

func (c *Cache) SetTxBlock(txid chainhash.Hash, block runes.BlockId) {
	c.pending.TxBlocks[txid] = block
}

func (c *Cache) SetStateChange(txid chainhash.Hash, change runes.TransactionStateChange) {
	c.pending.StateChanges[txid] = change
}

// StateChange returns a journal entry, checking pending writes first.
// ok=false if neither the pending buffer nor the store has it.
func (c *Cache) StateChange(txid chainhash.Hash) (runes.TransactionStateChange, bool, er.R) {
	if sc, ok := c.pending.StateChanges[txid]; ok {
		return sc, true, nil
	}
	for _, deleted := range c.pending.DeleteStateChanges {
		if deleted == txid {
			return runes.TransactionStateChange{}, false, nil
		}
	}
	sc, err := c.store.TransactionStateChange(txid)
	if err != nil {
		if chainio.ErrNotFound.Is(err) {
			return runes.TransactionStateChange{}, false, nil
		}
		return runes.TransactionStateChange{}, false, err
	}
	return sc, true, nil
}

func (c *Cache) DeleteStateChange(txid chainhash.Hash) {
	delete(c.pending.StateChanges, txid)
	c.pending.DeleteStateChanges = append(c.pending.DeleteStateChanges, txid)
}

// AddEvent queues an event to be released once the current pending
// mutations flush successfully.
func (c *Cache) AddEvent(e eventbus.Event) {
	c.events = append(c.events, e)
}

// ShouldFlush reports whether enough blocks have been buffered to force
// a commit (§4.3's flush policy's block-count clause; the explicit flush
// points after mempool sync/new-tx ingestion/shutdown are the caller's
// responsibility to invoke directly).
func (c *Cache) ShouldFlush(commitInterval uint64) bool {
	return c.bufferedBlocks >= commitInterval
}

// Flush applies every pending mutation to the store as one atomic batch.
// On success, the pending buffer is reset and queued events become
// retrievable via DrainEvents; on failure the pending buffer is left
// intact (so a retry can be attempted) and queued events are dropped,
// per §4.3's at-most-once-on-success event contract.
func (c *Cache) Flush() er.R {
	if c.pending.IsEmpty() {
		return nil
	}
	if err := c.store.WriteBatch(c.pending); err != nil {
		log.Errorf("flush failed, dropping %d queued events: %v", len(c.events), err)
		c.events = nil
		return err
	}
	c.pending = chainio.NewBatch()
	c.bufferedBlocks = 0
	return nil
}

// DrainEvents returns and clears every event queued since the last
// successful flush.
func (c *Cache) DrainEvents() []eventbus.Event {
	out := c.events
	c.events = nil
	return out
}
