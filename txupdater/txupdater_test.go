package txupdater

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/addressupdater"
	"github.com/btcrunes/runeindexer/chainiotest"
	"github.com/btcrunes/runeindexer/runeparser"
	"github.com/btcrunes/runeindexer/runes"
	"github.com/btcrunes/runeindexer/updatercache"
)

func settings(spent, addresses, btcTx bool) runes.Settings {
	return runes.Settings{
		IndexSpentOutputs:        spent,
		IndexAddresses:           addresses,
		IndexBitcoinTransactions: btcTx,
	}
}

func TestApplyMarksInputSpentWhenIndexingEnabled(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	prevOp := wire.OutPoint{Index: 0}
	cache.SetTxOut(prevOp, runes.TxOutEntry{Value: 1000})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOp})
	tx.AddTxOut(wire.NewTxOut(900, []byte{0x00}))

	addrBatch := addressupdater.NewBatch()
	err := Apply(cache, addrBatch, settings(true, false, false), nil, false, tx, nil, nil)
	require.Nil(t, err)

	entry, ok, err := cache.TxOut(prevOp)
	require.Nil(t, err)
	require.True(t, ok)
	require.True(t, entry.Spent)
}

func TestApplyDeletesInputWhenSpentIndexingDisabled(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	prevOp := wire.OutPoint{Index: 1}
	cache.SetTxOut(prevOp, runes.TxOutEntry{Value: 500})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOp})
	tx.AddTxOut(wire.NewTxOut(400, []byte{0x00}))

	addrBatch := addressupdater.NewBatch()
	err := Apply(cache, addrBatch, settings(false, false, false), nil, false, tx, nil, nil)
	require.Nil(t, err)

	_, ok, err := cache.TxOut(prevOp)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestApplyWritesEtchAndOutputs(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 99}})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))

	runeId := runes.RuneId{Block: 10, Tx: 1}
	etchEntry := runes.RuneEntry{Id: runeId, Premine: runes.Uint128FromUint64(100)}

	result := &runeparser.ParseResult{
		Etched: &runeparser.EtchedRune{Id: runeId, Entry: etchEntry},
		Outputs: map[uint32][]runes.RuneAmount{
			0: {{RuneId: runeId, Amount: runes.Uint128FromUint64(100)}},
		},
		HasRuneUpdates: true,
	}

	addrBatch := addressupdater.NewBatch()
	err := Apply(cache, addrBatch, settings(true, true, false), nil, false, tx, result, nil)
	require.Nil(t, err)

	entry, ok, err := cache.RuneByID(runeId)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, "100", entry.Premine.String())

	outEntry, ok, err := cache.TxOut(wire.OutPoint{Hash: tx.TxHash(), Index: 0})
	require.Nil(t, err)
	require.True(t, ok)
	require.Len(t, outEntry.Runes, 1)

	require.Len(t, addrBatch.TouchedScripts(), 1)

	events := cache.DrainEvents()
	require.Len(t, events, 1)
}

func TestApplyPersistsRawTxWhenEnabled(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 0xffffffff, Hash: chainhash.Hash{}}, Sequence: 0xffffffff})
	tx.TxIn[0].PreviousOutPoint.Index = 0xffffffff
	tx.AddTxOut(wire.NewTxOut(5000000000, []byte{0x00}))

	block := runes.BlockId{Height: 5, Hash: chainhash.Hash{}}
	addrBatch := addressupdater.NewBatch()
	err := Apply(cache, addrBatch, settings(true, false, true), &block, false, tx, nil, nil)
	require.Nil(t, err)
	require.Nil(t, cache.Flush())

	raw, err := store.TransactionRaw(tx.TxHash(), false)
	require.Nil(t, err)
	require.NotEmpty(t, raw)

	confirming, err := store.TransactionConfirmingBlock(tx.TxHash())
	require.Nil(t, err)
	require.Equal(t, uint64(5), confirming.Height)
}

func TestApplyMempoolMintAndBurnUsePendingCounters(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	runeId := runes.RuneId{Block: 1, Tx: 0}
	cache.SetRune(runes.RuneEntry{Id: runeId})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 55}})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))

	result := &runeparser.ParseResult{
		Mint:           &runes.RuneAmount{RuneId: runeId, Amount: runes.Uint128FromUint64(7)},
		Burned:         map[runes.RuneId]runes.Uint128{runeId: runes.Uint128FromUint64(3)},
		Outputs:        map[uint32][]runes.RuneAmount{},
		HasRuneUpdates: true,
	}

	addrBatch := addressupdater.NewBatch()
	err := Apply(cache, addrBatch, settings(true, false, false), nil, true, tx, result, nil)
	require.Nil(t, err)

	entry, ok, err := cache.RuneByID(runeId)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, "0", entry.Mints.String())
	require.Equal(t, "1", entry.PendingMints.String())
	require.Equal(t, "0", entry.Burned.String())
	require.Equal(t, "3", entry.PendingBurns.String())
}

func TestApplyRemovesInputAddressOutpoint(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	prevOp := wire.OutPoint{Index: 3}
	script := []byte{0x76, 0xa9}
	cache.SetTxOut(prevOp, runes.TxOutEntry{Value: 10})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOp})
	tx.AddTxOut(wire.NewTxOut(5, []byte{0x00}))

	addrBatch := addressupdater.NewBatch()
	inputScripts := map[wire.OutPoint][]byte{prevOp: script}
	err := Apply(cache, addrBatch, settings(true, true, false), nil, false, tx, nil, inputScripts)
	require.Nil(t, err)

	// One script touched by the spent input, one by the tx's own output:
	// every output now registers in the address index, not just
	// rune-bearing ones.
	require.Len(t, addrBatch.TouchedScripts(), 2)
}
