package storelock

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/chainiotest"
	"github.com/btcrunes/runeindexer/er"
)

func TestWriteExcludesConcurrentReaders(t *testing.T) {
	inner := chainiotest.NewMemStore()
	s := New(inner)

	var wg sync.WaitGroup
	started := make(chan struct{})
	release := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := s.Write(func(store chainio.Store) er.R {
			close(started)
			<-release
			h := uint64(7)
			return store.WriteBatch(&chainio.Batch{BlockCount: &h, Blocks: map[uint64]chainhash.Hash{}})
		})
		require.Nil(t, err)
	}()

	<-started
	readDone := make(chan struct{})
	go func() {
		_, _ = s.BlockCount()
		close(readDone)
	}()

	select {
	case <-readDone:
		t.Fatal("read should not complete while writer holds the lock")
	default:
	}

	close(release)
	wg.Wait()
	<-readDone

	count, err := s.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(7), count)
}
