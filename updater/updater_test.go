package updater

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/chainiotest"
	"github.com/btcrunes/runeindexer/eventbus"
	"github.com/btcrunes/runeindexer/metrics"
	"github.com/btcrunes/runeindexer/runes"
)

func testSettings() runes.Settings {
	return runes.Settings{
		IndexSpentOutputs:        true,
		IndexAddresses:           false,
		IndexBitcoinTransactions: false,
		CommitInterval:           2,
		MainLoopIntervalMs:       1,
		MaxRecoverableReorgDepth: 6,
		MempoolGracePeriodMs:     500,
	}
}

func coinbaseTx(salt int) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff}})
	tx.AddTxOut(wire.NewTxOut(int64(salt), []byte{0x51}))
	return tx
}

func buildBlock(prev chainhash.Hash, salt int) *wire.MsgBlock {
	b := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev})
	b.AddTransaction(coinbaseTx(salt))
	return b
}

func buildChain(n int) *chainiotest.MemChainClient {
	client := chainiotest.NewMemChainClient()
	var prev chainhash.Hash
	for h := 0; h < n; h++ {
		prev = client.AppendBlock(buildBlock(prev, h))
	}
	return client
}

func TestUpdateToTipIndexesBlocksInOrder(t *testing.T) {
	client := buildChain(6)
	store := chainiotest.NewMemStore()
	bus := eventbus.New(16)
	sub := bus.Subscribe()
	u := New(client, store, bus, metrics.Noop{}, testSettings())

	ctx := context.Background()
	require.Nil(t, u.UpdateToTip(ctx))

	tip, err := store.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(5), tip)
	require.True(t, u.IsAtTip())

	var heights []uint64
drain:
	for {
		select {
		case e := <-sub.Events():
			if e.Kind == eventbus.KindNewBlock {
				heights = append(heights, e.Height)
			}
		default:
			break drain
		}
	}
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5}, heights)
}

func TestUpdateToTipHandlesRecoverableReorg(t *testing.T) {
	client := buildChain(6)
	store := chainiotest.NewMemStore()
	u := New(client, store, nil, metrics.Noop{}, testSettings())
	ctx := context.Background()

	require.Nil(t, u.UpdateToTip(ctx))
	tip, err := store.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(5), tip)

	ancestorHash, err := store.BlockHash(3)
	require.Nil(t, err)

	newB4 := buildBlock(ancestorHash, 104)
	h4 := newB4.BlockHash()
	newB5 := buildBlock(h4, 105)
	h5 := newB5.BlockHash()
	newB6 := buildBlock(h5, 106)

	client.Reorg(3, []*wire.MsgBlock{newB4, newB5, newB6})

	// First call: BlockFetcher only sees height 6 (tip+1..chainTip), whose
	// prev_blockhash no longer matches the stored chain; detect_reorg
	// walks back, finds the common ancestor at height 3, and the sweep is
	// abandoned after the revert so the caller can resync.
	require.Nil(t, u.UpdateToTip(ctx))
	tipAfterRevert, err := store.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(3), tipAfterRevert)

	// Second call resyncs blocks 4, 5, 6 from the new chain.
	require.Nil(t, u.UpdateToTip(ctx))
	finalTip, err := store.BlockCount()
	require.Nil(t, err)
	require.Equal(t, uint64(6), finalTip)

	gotH4, err := store.BlockHash(4)
	require.Nil(t, err)
	require.Equal(t, h4, gotH4)
	gotH6, err := store.BlockHash(6)
	require.Nil(t, err)
	require.Equal(t, newB6.BlockHash(), gotH6)
}

func TestIndexMempoolAddsAndDebouncesRemoval(t *testing.T) {
	client := chainiotest.NewMemChainClient()
	client.AppendBlock(buildBlock(chainhash.Hash{}, 0))
	store := chainiotest.NewMemStore()
	bus := eventbus.New(16)
	sub := bus.Subscribe()
	u := New(client, store, bus, metrics.Noop{}, testSettings())

	now := time.Unix(1000, 0)
	u.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.Nil(t, u.UpdateToTip(ctx))

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	txid := client.AddMempoolTx(tx)

	require.Nil(t, u.UpdateToTip(ctx))

	inMempool, err := store.IsTxInMempool(txid)
	require.Nil(t, err)
	require.True(t, inMempool)

	var added []chainhash.Hash
drainAdded:
	for {
		select {
		case e := <-sub.Events():
			if e.Kind == eventbus.KindTransactionsAdded {
				added = append(added, e.Txids...)
			}
		default:
			break drainAdded
		}
	}
	require.Contains(t, added, txid)

	// Tx drops out of the node's mempool view, but grace period (500ms)
	// hasn't elapsed: it must remain tracked.
	client.SetMempool(nil)
	require.Nil(t, u.UpdateToTip(ctx))
	inMempool, err = store.IsTxInMempool(txid)
	require.Nil(t, err)
	require.True(t, inMempool)

	// Advance past the grace period: now it should actually be removed.
	now = now.Add(600 * time.Millisecond)
	require.Nil(t, u.UpdateToTip(ctx))
	inMempool, err = store.IsTxInMempool(txid)
	require.Nil(t, err)
	require.False(t, inMempool)

	var replaced []chainhash.Hash
drainReplaced:
	for {
		select {
		case e := <-sub.Events():
			if e.Kind == eventbus.KindTransactionsReplaced {
				replaced = append(replaced, e.Txids...)
			}
		default:
			break drainReplaced
		}
	}
	require.Contains(t, replaced, txid)
}

func TestIndexNewTxPublishesImmediately(t *testing.T) {
	client := chainiotest.NewMemChainClient()
	client.AppendBlock(buildBlock(chainhash.Hash{}, 0))
	store := chainiotest.NewMemStore()
	bus := eventbus.New(16)
	sub := bus.Subscribe()
	u := New(client, store, bus, metrics.Noop{}, testSettings())

	ctx := context.Background()
	require.Nil(t, u.UpdateToTip(ctx))

	// The initial sync of block 0 publishes NewBlock first.
	initial := <-sub.Events()
	require.Equal(t, eventbus.KindNewBlock, initial.Kind)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}})
	tx.AddTxOut(wire.NewTxOut(500, []byte{0x51}))
	txid := tx.TxHash()

	require.Nil(t, u.IndexNewTx(tx))

	inMempool, err := store.IsTxInMempool(txid)
	require.Nil(t, err)
	require.True(t, inMempool)

	e := <-sub.Events()
	require.Equal(t, eventbus.KindTransactionsAdded, e.Kind)
	require.Equal(t, []chainhash.Hash{txid}, e.Txids)
}

func TestTopoSortMempoolTxsOrdersParentsFirst(t *testing.T) {
	parent := wire.NewMsgTx(2)
	parent.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}})
	parent.AddTxOut(wire.NewTxOut(1, []byte{0x51}))
	parentId := parent.TxHash()

	child := wire.NewMsgTx(2)
	child.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parentId, Index: 0}})
	child.AddTxOut(wire.NewTxOut(1, []byte{0x51}))
	childId := child.TxHash()

	set := map[chainhash.Hash]*wire.MsgTx{parentId: parent, childId: child}
	order := topoSortMempoolTxs(set)

	require.Len(t, order, 2)
	require.Equal(t, parentId, order[0].TxHash())
	require.Equal(t, childId, order[1].TxHash())
}
