package rollback

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/addressupdater"
	"github.com/btcrunes/runeindexer/chainiotest"
	"github.com/btcrunes/runeindexer/runeparser"
	"github.com/btcrunes/runeindexer/runes"
	"github.com/btcrunes/runeindexer/txupdater"
	"github.com/btcrunes/runeindexer/updatercache"
)

func TestRevertTransactionRestoresSpentInput(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	prevOp := wire.OutPoint{Index: 0}
	cache.SetTxOut(prevOp, runes.TxOutEntry{Value: 100})

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevOp})
	tx.AddTxOut(wire.NewTxOut(90, []byte{0x00}))

	settings := runes.Settings{IndexSpentOutputs: true}
	addrBatch := addressupdater.NewBatch()
	runeId := runes.RuneId{Block: 1, Tx: 0}
	result := &runeparser.ParseResult{
		Outputs: map[uint32][]runes.RuneAmount{
			0: {{RuneId: runeId, Amount: runes.Uint128FromUint64(5)}},
		},
		HasRuneUpdates: true,
	}
	require.Nil(t, txupdater.Apply(cache, addrBatch, settings, nil, false, tx, result, nil))

	entry, ok, err := cache.TxOut(prevOp)
	require.Nil(t, err)
	require.True(t, ok)
	require.True(t, entry.Spent)

	require.Nil(t, RevertTransaction(cache, tx.TxHash()))

	entry, ok, err = cache.TxOut(prevOp)
	require.Nil(t, err)
	require.True(t, ok)
	require.False(t, entry.Spent)

	_, ok, err = cache.TxOut(wire.OutPoint{Hash: tx.TxHash(), Index: 0})
	require.Nil(t, err)
	require.False(t, ok)

	_, ok, err = cache.StateChange(tx.TxHash())
	require.Nil(t, err)
	require.False(t, ok)
}

func TestRevertTransactionUndoesEtching(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 77}})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x00}))

	runeId := runes.RuneId{Block: 5, Tx: 0}
	rn, _ := runes.RuneFromString("TESTRUNE")
	entry := runes.RuneEntry{Id: runeId, SpacedRune: runes.SpacedRune{Rune: rn}, Premine: runes.Uint128FromUint64(50)}

	settings := runes.Settings{IndexAddresses: false}
	addrBatch := addressupdater.NewBatch()
	result := &runeparser.ParseResult{
		Etched: &runeparser.EtchedRune{Id: runeId, Entry: entry},
		Outputs: map[uint32][]runes.RuneAmount{
			0: {{RuneId: runeId, Amount: runes.Uint128FromUint64(50)}},
		},
		HasRuneUpdates: true,
	}
	require.Nil(t, txupdater.Apply(cache, addrBatch, settings, nil, false, tx, result, nil))

	_, ok, err := cache.RuneByID(runeId)
	require.Nil(t, err)
	require.True(t, ok)

	require.Nil(t, RevertTransaction(cache, tx.TxHash()))

	_, ok, err = cache.RuneByID(runeId)
	require.Nil(t, err)
	require.False(t, ok)

	_, ok, err = cache.RuneIDByName(rn)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestRevertBlockProcessesInReverseOrder(t *testing.T) {
	store := chainiotest.NewMemStore()
	cache := updatercache.New(store)

	tx1 := wire.NewMsgTx(2)
	tx1.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Index: 200}})
	tx1.AddTxOut(wire.NewTxOut(100, []byte{0x00}))

	runeId := runes.RuneId{Block: 1, Tx: 0}
	settings := runes.Settings{}
	addrBatch := addressupdater.NewBatch()
	result1 := &runeparser.ParseResult{
		Outputs: map[uint32][]runes.RuneAmount{
			0: {{RuneId: runeId, Amount: runes.Uint128FromUint64(10)}},
		},
		HasRuneUpdates: true,
	}
	require.Nil(t, txupdater.Apply(cache, addrBatch, settings, nil, false, tx1, result1, nil))

	tx1Out := wire.OutPoint{Hash: tx1.TxHash(), Index: 0}
	tx2 := wire.NewMsgTx(2)
	tx2.AddTxIn(&wire.TxIn{PreviousOutPoint: tx1Out})
	tx2.AddTxOut(wire.NewTxOut(90, []byte{0x00}))
	result2 := &runeparser.ParseResult{
		Outputs: map[uint32][]runes.RuneAmount{
			0: {{RuneId: runeId, Amount: runes.Uint128FromUint64(10)}},
		},
		HasRuneUpdates: true,
	}
	require.Nil(t, txupdater.Apply(cache, addrBatch, settings, nil, false, tx2, result2, nil))

	err := RevertBlock(cache, 1, []chainhash.Hash{tx1.TxHash(), tx2.TxHash()})
	require.Nil(t, err)

	_, ok, err := cache.TxOut(tx1Out)
	require.Nil(t, err)
	require.False(t, ok, "tx1's output must be fully gone, not resurrected by tx2's revert")
}
