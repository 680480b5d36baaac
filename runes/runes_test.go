package runes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuneNameRoundTrip(t *testing.T) {
	cases := []struct {
		n    uint64
		name string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{701, "ZZ"},
		{702, "AAA"},
	}
	for _, c := range cases {
		r := Rune(Uint128FromUint64(c.n))
		require.Equal(t, c.name, r.String())

		parsed, ok := RuneFromString(c.name)
		require.True(t, ok)
		require.Equal(t, r, parsed)
	}
}

func TestRuneFromStringRejectsNonAlpha(t *testing.T) {
	_, ok := RuneFromString("ABC123")
	require.False(t, ok)
}

func TestSpacedRuneString(t *testing.T) {
	r, ok := RuneFromString("UNCOMMONGOODS")
	require.True(t, ok)
	sr := SpacedRune{Rune: r, Spacers: 1 << 7}
	require.Equal(t, "UNCOMMON•GOODS", sr.String())
}

func TestTermsMintWindow(t *testing.T) {
	startOffset := uint64(10)
	endHeight := uint64(1000)
	terms := &Terms{StartOffset: &startOffset, EndHeight: &endHeight}
	start, end := terms.MintWindow(100)
	require.Equal(t, uint64(110), *start)
	require.Equal(t, uint64(1000), *end)
}

func TestTermsMintable(t *testing.T) {
	cap := Uint128FromUint64(5)
	startHeight := uint64(100)
	terms := &Terms{Cap: &cap, StartHeight: &startHeight}

	require.False(t, terms.Mintable(50, 0, Uint128FromUint64(0)), "before window")
	require.True(t, terms.Mintable(150, 0, Uint128FromUint64(4)), "under cap, in window")
	require.False(t, terms.Mintable(150, 0, Uint128FromUint64(5)), "at cap")
}

func TestRuneEntrySupply(t *testing.T) {
	amount := Uint128FromUint64(100)
	entry := &RuneEntry{
		Premine: Uint128FromUint64(1000),
		Terms:   &Terms{Amount: &amount},
		Mints:   Uint128FromUint64(3),
		Burned:  Uint128FromUint64(50),
	}
	// 1000 + 3*100 - 50 = 1250
	require.Equal(t, "1250", entry.Supply().String())
}

func TestUint128Arithmetic(t *testing.T) {
	a := Uint128FromUint64(10)
	b := Uint128FromUint64(3)

	require.Equal(t, "13", a.Add(b).String())
	require.Equal(t, "7", a.Sub(b).String())
	require.Equal(t, "30", a.Mul(b).String())
	require.Equal(t, 1, a.Cmp(b))
	require.True(t, Uint128FromUint64(0).IsZero())
}

func TestUint128FromString(t *testing.T) {
	v, ok := Uint128FromString("340282366920938463463374607431768211455")
	require.True(t, ok)
	require.Equal(t, MaxUint128(), v)
}

func TestTxOutEntryHasRunes(t *testing.T) {
	var e TxOutEntry
	require.False(t, e.HasRunes())
	e.Runes = append(e.Runes, RuneAmount{Amount: Uint128FromUint64(1)})
	require.True(t, e.HasRunes())
}
