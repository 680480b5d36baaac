// Package addressupdater batches per-script-pubkey outpoint
// additions/removals within one transaction (or one mempool pass),
// grouped by script until Commit writes them to the cache, and tracks
// which scripts were actually touched so the caller can emit one
// AddressModified event per script per batch instead of one per outpoint.
package addressupdater

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/rlog"
)

var log = rlog.Logger(rlog.TagAddressUpdater)

// Cache is the subset of updatercache.Cache's API AddressUpdater writes
// through to.
type Cache interface {
	AddAddressOutpoint(scriptPubkey []byte, op wire.OutPoint)
	RemoveAddressOutpoint(scriptPubkey []byte, op wire.OutPoint)
}

// Batch accumulates address-index mutations for a single unit of work
// (one transaction, or one mempool reconciliation pass) before they are
// committed to the cache.
type Batch struct {
	add    map[string][]wire.OutPoint
	remove map[string][]wire.OutPoint
	// touched preserves script insertion order so TouchedScripts is
	// deterministic for tests and for stable event ordering.
	touched   []string
	touchedOK map[string]struct{}
}

// NewBatch returns an empty address-index batch.
func NewBatch() *Batch {
	return &Batch{
		add:       make(map[string][]wire.OutPoint),
		remove:    make(map[string][]wire.OutPoint),
		touchedOK: make(map[string]struct{}),
	}
}

func (b *Batch) touch(script []byte) {
	key := string(script)
	if _, ok := b.touchedOK[key]; ok {
		return
	}
	b.touchedOK[key] = struct{}{}
	b.touched = append(b.touched, key)
}

// Add records that op was created with the given script_pubkey.
func (b *Batch) Add(script []byte, op wire.OutPoint) {
	key := string(script)
	b.add[key] = append(b.add[key], op)
	b.touch(script)
}

// Remove records that op (previously owned by script_pubkey) was spent.
func (b *Batch) Remove(script []byte, op wire.OutPoint) {
	key := string(script)
	b.remove[key] = append(b.remove[key], op)
	b.touch(script)
}

// TouchedScripts returns every script_pubkey (as raw bytes) that had an
// addition or removal recorded, in the order first touched.
func (b *Batch) TouchedScripts() [][]byte {
	out := make([][]byte, len(b.touched))
	for i, key := range b.touched {
		out[i] = []byte(key)
	}
	return out
}

// Commit writes every accumulated mutation through to cache, script by
// script, with one cache call per recorded outpoint.
func (b *Batch) Commit(cache Cache) {
	if len(b.touched) > 0 {
		log.Tracef("committing address-index changes for %d scripts", len(b.touched))
	}
	for key, ops := range b.add {
		script := []byte(key)
		for _, op := range ops {
			cache.AddAddressOutpoint(script, op)
		}
	}
	for key, ops := range b.remove {
		script := []byte(key)
		for _, op := range ops {
			cache.RemoveAddressOutpoint(script, op)
		}
	}
}

// ScriptTxids groups txids for AddressModified events: callers build
// this alongside a Batch when they need "which transactions touched this
// address" rather than just "which addresses were touched".
type ScriptTxids struct {
	byScript map[string]map[chainhash.Hash]struct{}
}

func NewScriptTxids() *ScriptTxids {
	return &ScriptTxids{byScript: make(map[string]map[chainhash.Hash]struct{})}
}

func (s *ScriptTxids) Add(script []byte, txid chainhash.Hash) {
	key := string(script)
	set, ok := s.byScript[key]
	if !ok {
		set = make(map[chainhash.Hash]struct{})
		s.byScript[key] = set
	}
	set[txid] = struct{}{}
}

// Txids returns the txid set recorded for script.
func (s *ScriptTxids) Txids(script []byte) []chainhash.Hash {
	set, ok := s.byScript[string(script)]
	if !ok {
		return nil
	}
	out := make([]chainhash.Hash, 0, len(set))
	for txid := range set {
		out = append(out, txid)
	}
	return out
}
