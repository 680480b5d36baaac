package runeparser

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/runes"
)

type fakeSource struct {
	txOuts    map[wire.OutPoint]runes.TxOutEntry
	runesByID map[runes.RuneId]runes.RuneEntry
	idsByName map[runes.Rune]runes.RuneId
	runeCount uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		txOuts:    make(map[wire.OutPoint]runes.TxOutEntry),
		runesByID: make(map[runes.RuneId]runes.RuneEntry),
		idsByName: make(map[runes.Rune]runes.RuneId),
	}
}

func (f *fakeSource) TxOut(op wire.OutPoint) (runes.TxOutEntry, bool, er.R) {
	t, ok := f.txOuts[op]
	return t, ok, nil
}

func (f *fakeSource) RuneByID(id runes.RuneId) (runes.RuneEntry, bool, er.R) {
	e, ok := f.runesByID[id]
	return e, ok, nil
}

func (f *fakeSource) RuneIDByName(name runes.Rune) (runes.RuneId, bool, er.R) {
	id, ok := f.idsByName[name]
	return id, ok, nil
}

func (f *fakeSource) RuneCount() (uint64, er.R) {
	return f.runeCount, nil
}

func buildTxWithInputAndRunestone(prevOut wire.OutPoint, script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(0, script))
	tx.AddTxOut(wire.NewTxOut(546, []byte{txscript.OP_TRUE}))
	return tx
}

func TestParseEtchingWithPremine(t *testing.T) {
	source := newFakeSource()
	prevOut := wire.OutPoint{Index: 0}
	source.txOuts[prevOut] = runes.TxOutEntry{Value: 10000}

	script := buildRunestoneScript(t,
		tagFlags, flagEtching,
		tagRune, 777,
		tagPremine, 1000,
		tagPointer, 1,
		tagBody,
	)
	tx := buildTxWithInputAndRunestone(prevOut, script)

	source.runeCount = 5

	result, err := Parse(source, 840000, 0, 1700000000, tx, false)
	require.Nil(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Etched)
	require.Equal(t, runes.RuneId{Block: 840000, Tx: 0}, result.Etched.Id)
	require.Equal(t, "1000", result.Etched.Entry.Premine.String())
	require.Equal(t, uint64(5), result.Etched.Entry.Number)
	require.Equal(t, uint64(1700000000), result.Etched.Entry.Timestamp)
	require.Len(t, result.Outputs[1], 1)
	require.Equal(t, "1000", result.Outputs[1][0].Amount.String())
}

func TestParseMintRespectsCap(t *testing.T) {
	source := newFakeSource()
	runeId := runes.RuneId{Block: 1, Tx: 0}
	cap := runes.Uint128FromUint64(1)
	amount := runes.Uint128FromUint64(100)
	source.runesByID[runeId] = runes.RuneEntry{
		Id:     runeId,
		Terms:  &runes.Terms{Cap: &cap, Amount: &amount},
		Mints:  runes.Uint128FromUint64(1), // already at cap
	}

	script := buildRunestoneScript(t, tagMint, mintField(runeId), tagBody)
	tx := buildTxWithInputAndRunestone(wire.OutPoint{}, script)
	source.txOuts[wire.OutPoint{}] = runes.TxOutEntry{}

	result, err := Parse(source, 2, 0, 0, tx, false)
	require.Nil(t, err)
	require.Nil(t, result.Mint, "mint at cap must be rejected")
}

func TestParseMintUnderCap(t *testing.T) {
	source := newFakeSource()
	runeId := runes.RuneId{Block: 1, Tx: 0}
	cap := runes.Uint128FromUint64(10)
	amount := runes.Uint128FromUint64(100)
	source.runesByID[runeId] = runes.RuneEntry{
		Id:    runeId,
		Terms: &runes.Terms{Cap: &cap, Amount: &amount},
		Mints: runes.Uint128FromUint64(1),
	}

	script := buildRunestoneScript(t, tagMint, mintField(runeId), tagBody)
	tx := buildTxWithInputAndRunestone(wire.OutPoint{}, script)
	source.txOuts[wire.OutPoint{}] = runes.TxOutEntry{}

	result, err := Parse(source, 2, 0, 0, tx, false)
	require.Nil(t, err)
	require.NotNil(t, result.Mint)
	require.Equal(t, "100", result.Mint.Amount.String())
}

func TestParseCenotaphBurnsInputBalances(t *testing.T) {
	source := newFakeSource()
	runeId := runes.RuneId{Block: 1, Tx: 0}
	prevOut := wire.OutPoint{Index: 0}
	source.txOuts[prevOut] = runes.TxOutEntry{
		Runes: []runes.RuneAmount{{RuneId: runeId, Amount: runes.Uint128FromUint64(500)}},
	}

	script := buildRunestoneScript(t, tagBody, 1, 2, 3) // malformed (not a multiple of 4)
	tx := buildTxWithInputAndRunestone(prevOut, script)

	result, err := Parse(source, 2, 0, 0, tx, false)
	require.Nil(t, err)
	require.True(t, result.HasRuneUpdates)
	require.Equal(t, "500", result.Burned[runeId].String())
	require.Empty(t, result.Outputs)
}

func TestParseMissingInputErrors(t *testing.T) {
	source := newFakeSource()
	script := buildRunestoneScript(t, tagBody)
	tx := buildTxWithInputAndRunestone(wire.OutPoint{Index: 99}, script)

	_, err := Parse(source, 2, 0, 0, tx, false)
	require.NotNil(t, err)
	require.True(t, ErrMissingInput.Is(err))
}

// mintField packs a RuneId into the single-field encoding DecodeRunestone
// expects for tagMint (see runestone.go).
func mintField(id runes.RuneId) uint64 {
	return uint64(id.Tx)<<32 | id.Block
}
