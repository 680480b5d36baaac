// Package blockfetcher implements the parallel prefetch pipeline named
// BlockFetcher in §4.5: a pool of worker goroutines retrieve blocks from
// a chainio.ChainClient concurrently (RPC round-trips dominate indexing
// latency far more than CPU), while a single sequencer hands them to the
// Updater's tip-follow loop strictly in height order over a bounded
// channel, so reorg detection and index_block never observe a block out
// of sequence even though they were not necessarily fetched in sequence.
//
// The height-ordered reassembly buffer is a queue.PriorityQueue
// (github.com/golang-collections/go-datastructures/queue), the same
// library family the teacher's go.mod already carries for its own
// indexer-adjacent ring/priority buffers; ordering workers' out-of-order
// completions back into sequence is exactly what a priority queue keyed
// on height is for.
package blockfetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/golang-collections/go-datastructures/queue"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/rlog"
)

var log = rlog.Logger(rlog.TagBlockFetcher)

// Result is one fetched block, or the error encountered fetching it.
// Height-ordered delivery means a caller can stop consuming at the first
// error without missing an earlier failure.
type Result struct {
	Height uint64
	Hash   chainhash.Hash
	Block  *wire.MsgBlock
	Err    er.R
}

// item adapts a Result for queue.PriorityQueue, which orders by
// ascending Compare result.
type item struct{ r Result }

func (i item) Compare(other queue.Item) int {
	o := other.(item)
	switch {
	case i.r.Height < o.r.Height:
		return -1
	case i.r.Height > o.r.Height:
		return 1
	default:
		return 0
	}
}

// Fetch retrieves blocks [start, end] (inclusive) from client using
// workers concurrent goroutines, and returns a channel that yields them
// strictly in ascending height order. The channel is closed once every
// height has been delivered, immediately after the first error (which is
// still delivered before closing), or when ctx is cancelled (the caller
// abandoned the sweep, e.g. because it detected a reorg partway through
// and needs to stop consuming before resyncing from a different height).
// bufSize is the capacity of the returned channel and the initial size
// hint of the reassembly queue; the queue itself is unbounded, so workers
// are not held back by how far ahead of the consumer they have fetched.
func Fetch(ctx context.Context, client chainio.ChainClient, start, end uint64, workers, bufSize int) <-chan Result {
	out := make(chan Result, bufSize)
	if start > end {
		close(out)
		return out
	}
	if workers < 1 {
		workers = 1
	}

	pq := queue.NewPriorityQueue(bufSize, false)
	var stop int32

	var wg sync.WaitGroup
	heights := make(chan uint64, end-start+1)
	for h := start; h <= end; h++ {
		heights <- h
	}
	close(heights)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range heights {
				if atomic.LoadInt32(&stop) != 0 || ctx.Err() != nil {
					return
				}
				r := fetchOne(client, h)
				if err := pq.Put(item{r}); err != nil {
					log.Debugf("prefetch queue disposed while putting height %d: %v", h, err)
					return
				}
				if r.Err != nil {
					atomic.StoreInt32(&stop, 1)
					return
				}
			}
		}()
	}

	// Disposing the queue is how an abandoned ctx unblocks the sequencer
	// currently parked in a blocking Get. Every wg.Add
	// above happened-before this goroutine is created, so its wg.Wait
	// (inside doneCh) cannot race the counter going up.
	go func() {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&stop, 1)
			pq.Dispose()
		case <-doneCh(&wg):
		}
	}()

	go func() {
		defer close(out)
		for h := start; h <= end; h++ {
			for {
				if ctx.Err() != nil {
					return
				}
				items, err := pq.Get(1)
				if err != nil {
					// Disposed mid-wait: ctx was cancelled.
					return
				}
				got := items[0].(item).r
				if got.Height == h {
					out <- got
					if got.Err != nil {
						return
					}
					break
				}
				// Arrived out of order ahead of the height we're
				// waiting on: put it back and give the missing
				// fetch a moment to land.
				if err := pq.Put(item{got}); err != nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}
		wg.Wait()
		pq.Dispose()
	}()

	return out
}

// doneCh adapts a sync.WaitGroup into a channel closed once every worker
// has exited, so the ctx-watcher goroutine above can stop waiting on
// ctx.Done() once there is nothing left to cancel.
func doneCh(wg *sync.WaitGroup) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	return ch
}

func fetchOne(client chainio.ChainClient, height uint64) Result {
	hash, err := client.GetBlockHash(int64(height))
	if err != nil {
		return Result{Height: height, Err: err}
	}
	block, err := client.GetBlock(hash)
	if err != nil {
		return Result{Height: height, Hash: hash, Err: err}
	}
	return Result{Height: height, Hash: hash, Block: block}
}
