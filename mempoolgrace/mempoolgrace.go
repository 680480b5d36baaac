// Package mempoolgrace implements MempoolGrace (§4.6): a debouncer that
// suppresses a mempool removal until a txid has been missing from the
// node's mempool view for at least a configured grace period, so that a
// transaction which drops out of bitcoind's RPC response for a single
// poll and returns on the next does not churn TransactionsReplaced
// events or an unnecessary rollback/reapply.
package mempoolgrace

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcrunes/runeindexer/rlog"
)

var log = rlog.Logger(rlog.TagMempoolGrace)

// Clock is injected rather than called as time.Now directly (REDESIGN
// R2) so debounce timing can be driven deterministically in tests
// without a real time.Sleep.
type Clock func() time.Time

// Grace tracks, for every txid currently believed to be in the mempool,
// the last time it was observed (added or re-observed) there. It is safe
// for concurrent use, though in practice only the Updater's single index
// loop calls it.
type Grace struct {
	mu         sync.Mutex
	clock      Clock
	period     time.Duration
	lastSeenAt map[chainhash.Hash]time.Time
}

// New returns a Grace with the given debounce period. A nil clock
// defaults to time.Now.
func New(period time.Duration, clock Clock) *Grace {
	if clock == nil {
		clock = time.Now
	}
	return &Grace{
		clock:      clock,
		period:     period,
		lastSeenAt: make(map[chainhash.Hash]time.Time),
	}
}

// MarkAsAdded records that txid was just (re-)observed in the mempool,
// resetting its debounce clock. Called both when a tx is newly indexed
// into the mempool and whenever it is found still present on a later
// poll after having been a removal candidate.
func (g *Grace) MarkAsAdded(txid chainhash.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastSeenAt[txid] = g.clock()
}

// ShouldRemove reports whether txid, having been found missing from the
// node's current mempool view, has been missing long enough that the
// removal should actually be applied. A txid never tracked by
// MarkAsAdded is treated as immediately removable — Grace only debounces
// txids it has itself seen added.
func (g *Grace) ShouldRemove(txid chainhash.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen, ok := g.lastSeenAt[txid]
	if !ok {
		return true
	}
	return g.clock().Sub(seen) >= g.period
}

// Forget drops txid's bookkeeping entirely, called once a removal has
// actually been applied (or the txid confirmed, which removes it from
// mempool scope by a different path) so the map does not grow unbounded.
func (g *Grace) Forget(txid chainhash.Hash) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lastSeenAt, txid)
}

// Tracked reports whether txid currently has debounce bookkeeping,
// exposed for tests.
func (g *Grace) Tracked(txid chainhash.Hash) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.lastSeenAt[txid]
	return ok
}

// Len reports how many txids are currently tracked.
func (g *Grace) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.lastSeenAt)
	log.Tracef("tracking %d mempool txids for debounce", n)
	return n
}
