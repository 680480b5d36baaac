package runeparser

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcrunes/runeindexer/runes"
)

func buildRunestoneScript(t *testing.T, ints ...uint64) []byte {
	t.Helper()
	var payload []byte
	for _, v := range ints {
		payload = append(payload, encodeVarint(runes.Uint128FromUint64(v))...)
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_RETURN)
	b.AddOp(protocolMagic)
	b.AddData(payload)
	script, err := b.Script()
	require.NoError(t, err)
	return script
}

func txWithRunestone(t *testing.T, script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, script))
	tx.AddTxOut(wire.NewTxOut(546, []byte{txscript.OP_TRUE}))
	return tx
}

func TestDecodeRunestoneAbsent(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{txscript.OP_TRUE}))
	_, found := DecodeRunestone(tx)
	require.False(t, found)
}

func TestDecodeRunestoneEtching(t *testing.T) {
	script := buildRunestoneScript(t,
		tagFlags, flagEtching,
		tagRune, 123456,
		tagDivisibility, 2,
		tagPremine, 1000,
		tagBody,
	)
	tx := txWithRunestone(t, script)

	rs, found := DecodeRunestone(tx)
	require.True(t, found)
	require.False(t, rs.Cenotaph)
	require.NotNil(t, rs.Etching)
	require.Equal(t, uint8(2), rs.Etching.Divisibility)
	require.Equal(t, "1000", rs.Etching.Premine.String())
}

func TestDecodeRunestoneMalformedTrailingEdictIsCenotaph(t *testing.T) {
	script := buildRunestoneScript(t, tagBody, 1, 2, 3) // not a multiple of 4
	tx := txWithRunestone(t, script)

	rs, found := DecodeRunestone(tx)
	require.True(t, found)
	require.True(t, rs.Cenotaph)
}

func TestDecodeRunestoneUnknownOddTagIsCenotaph(t *testing.T) {
	script := buildRunestoneScript(t, 127, 1, tagBody)
	tx := txWithRunestone(t, script)

	rs, found := DecodeRunestone(tx)
	require.True(t, found)
	require.True(t, rs.Cenotaph)
}

func TestDecodeRunestoneEdicts(t *testing.T) {
	script := buildRunestoneScript(t,
		tagBody,
		10, 5, 100, 1, // id {10,5}, amount 100, output 1
	)
	tx := txWithRunestone(t, script)

	rs, found := DecodeRunestone(tx)
	require.True(t, found)
	require.False(t, rs.Cenotaph)
	require.Len(t, rs.Edicts, 1)
	require.Equal(t, runes.RuneId{Block: 10, Tx: 5}, rs.Edicts[0].ID)
	require.Equal(t, "100", rs.Edicts[0].Amount.String())
	require.Equal(t, uint32(1), rs.Edicts[0].Output)
}
