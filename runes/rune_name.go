package runes

import (
	"strings"

	"github.com/holiman/uint256"
)

// runeAlphabet is the 26-letter alphabet runes are named over.
const runeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// String renders a Rune's base-26 numeric value as its textual name:
// 0 => "A", 25 => "Z", 26 => "AA", 27 => "AB", ..., matching the
// modified bijective base-26 numbering the Runes protocol uses (each
// additional letter represents 26^n more names than a naive spreadsheet-
// column scheme, since "A" and "AA" must both be valid distinct names).
func (r Rune) String() string {
	n := uint128(r).v
	var out []byte
	one := uint256.NewInt(1)
	// Shift to 1-based so the loop below is plain bijective base-26.
	n.Add(&n, one)
	twentySix := uint256.NewInt(26)
	q, m := new(uint256.Int), new(uint256.Int)
	for !n.IsZero() {
		n.Sub(&n, one)
		q.DivMod(&n, twentySix, m)
		out = append([]byte{runeAlphabet[m.Uint64()]}, out...)
		n = *q
	}
	return string(out)
}

// RuneFromString parses a spaced or unspaced rune name (spacers are
// stripped by the caller before decoding the numeric value; this parses
// only the letters) back into its base-26 numeric value.
func RuneFromString(s string) (Rune, bool) {
	s = strings.ToUpper(s)
	acc := Uint128FromUint64(0)
	twentySix := Uint128FromUint64(26)
	one := Uint128FromUint64(1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			return Rune{}, false
		}
		if i > 0 {
			acc = acc.Add(one)
		}
		acc = acc.Mul(twentySix)
		acc = acc.Add(Uint128FromUint64(uint64(c - 'A')))
	}
	return Rune(acc), true
}
