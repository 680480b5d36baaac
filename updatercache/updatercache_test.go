package updatercache

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/chainiotest"
	"github.com/btcrunes/runeindexer/eventbus"
	"github.com/btcrunes/runeindexer/runes"
)

func TestTxOutReadThroughStore(t *testing.T) {
	store := chainiotest.NewMemStore()
	op := wire.OutPoint{Index: 1}

	cache := New(store)
	_, ok, err := cache.TxOut(op)
	require.Nil(t, err)
	require.False(t, ok)

	cache.SetTxOut(op, runes.TxOutEntry{Value: 500})
	entry, ok, err := cache.TxOut(op)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(500), entry.Value)
}

func TestDeleteTxOutShadowsStoredEntry(t *testing.T) {
	store := chainiotest.NewMemStore()
	op := wire.OutPoint{Index: 2}

	cache := New(store)
	cache.SetTxOut(op, runes.TxOutEntry{Value: 100})
	require.Nil(t, cache.Flush())

	cache2 := New(store)
	cache2.DeleteTxOut(op)
	_, ok, err := cache2.TxOut(op)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestShouldFlushOnCommitInterval(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := New(store)

	require.False(t, cache.ShouldFlush(3))
	cache.SetBlockTip(1, chainhash.Hash{})
	cache.SetBlockTip(2, chainhash.Hash{})
	require.False(t, cache.ShouldFlush(3))
	cache.SetBlockTip(3, chainhash.Hash{})
	require.True(t, cache.ShouldFlush(3))
}

func TestFlushResetsPendingAndReleasesEvents(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := New(store)

	cache.SetBlockTip(10, chainhash.Hash{})
	cache.AddEvent(eventbus.NewBlock(10, chainhash.Hash{}))

	require.Nil(t, cache.Flush())
	require.False(t, cache.ShouldFlush(1))

	events := cache.DrainEvents()
	require.Len(t, events, 1)
	require.Equal(t, eventbus.KindNewBlock, events[0].Kind)

	count, err := store.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(10), count)
}

func TestEventsRetainedOnFlushSuccess(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := New(store)
	cache.AddEvent(eventbus.NewBlock(1, chainhash.Hash{}))

	// A non-empty batch that MemStore accepts: the queued event stays
	// available to DrainEvents after the flush.
	cache.SetBlockTip(1, chainhash.Hash{})
	require.Nil(t, cache.Flush())
	require.Len(t, cache.DrainEvents(), 1)
}

func TestRuneByIDReadThrough(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := New(store)
	id := runes.RuneId{Block: 1, Tx: 0}

	_, ok, err := cache.RuneByID(id)
	require.Nil(t, err)
	require.False(t, ok)

	cache.SetRune(runes.RuneEntry{Id: id, Premine: runes.Uint128FromUint64(7)})
	entry, ok, err := cache.RuneByID(id)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, "7", entry.Premine.String())
}
