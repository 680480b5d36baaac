package blockfetcher

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/chainiotest"
)

func buildChain(t *testing.T, n int) *chainiotest.MemChainClient {
	t.Helper()
	client := chainiotest.NewMemChainClient()
	for i := 0; i < n; i++ {
		b := wire.NewMsgBlock(&wire.BlockHeader{})
		tx := wire.NewMsgTx(2)
		tx.AddTxOut(wire.NewTxOut(int64(i), []byte{0x00}))
		b.AddTransaction(tx)
		client.AppendBlock(b)
	}
	return client
}

func TestFetchDeliversInHeightOrder(t *testing.T) {
	client := buildChain(t, 20)

	ch := Fetch(context.Background(), client, 0, 19, 5, 4)

	var got []uint64
	for r := range ch {
		require.Nil(t, r.Err)
		got = append(got, r.Height)
	}
	require.Len(t, got, 20)
	for i, h := range got {
		require.Equal(t, uint64(i), h)
	}
}

func TestFetchSingleHeight(t *testing.T) {
	client := buildChain(t, 1)
	ch := Fetch(context.Background(), client, 0, 0, 3, 2)
	var count int
	for r := range ch {
		require.Nil(t, r.Err)
		require.Equal(t, uint64(0), r.Height)
		count++
	}
	require.Equal(t, 1, count)
}

func TestFetchEmptyRangeClosesImmediately(t *testing.T) {
	client := buildChain(t, 1)
	ch := Fetch(context.Background(), client, 5, 3, 2, 2)
	_, ok := <-ch
	require.False(t, ok)
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	client := buildChain(t, 50)
	ctx, cancel := context.WithCancel(context.Background())
	ch := Fetch(ctx, client, 0, 49, 2, 2)

	// Drain a couple then cancel; the channel must still close.
	<-ch
	cancel()
	for range ch {
	}
}
