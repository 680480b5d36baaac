package runes

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// uint128 is the rune-amount arithmetic type. The Runes protocol defines
// balances, supplies and caps as unsigned 128-bit integers; Go has no
// native u128, and the ecosystem's answer to fixed-width big integers is
// holiman/uint256 (the same library the EVM-family examples in this
// corpus use for 256-bit arithmetic) rather than math/big, which would
// force a heap allocation and arbitrary-precision bookkeeping for a value
// that is always exactly 128 bits wide. uint128 wraps a uint256.Int and
// simply never uses its upper 128 bits.
type uint128 struct {
	v uint256.Int
}

// Uint128 is the exported name other packages use to hold a uint128
// value in a struct field or function signature; it is the identical
// type under an exported alias; every method below is reachable either
// way.
type Uint128 = uint128

// Uint128FromUint64 builds a uint128 from a plain machine integer value,
// e.g. a premine or edict amount already decoded from a varint.
func Uint128FromUint64(x uint64) uint128 {
	var u uint128
	u.v.SetUint64(x)
	return u
}

// Uint128FromString constructs a uint128 from a base-10 string, used when
// decoding an amount carried as a decimal string (e.g. over the out-of-
// scope JSON query surface, or in test fixtures).
func Uint128FromString(s string) (uint128, bool) {
	var u uint128
	_, ok := u.v.FromDecimal(s)
	return u, ok == nil
}

// MaxUint128 is the maximum representable 128-bit value, used as an
// unbounded mint cap.
func MaxUint128() uint128 {
	var u uint128
	u.v.SetAllOne()
	u.v.Rsh(&u.v, 128)
	return u
}

func (a uint128) Add(b uint128) uint128 {
	var out uint128
	out.v.Add(&a.v, &b.v)
	return out
}

func (a uint128) Sub(b uint128) uint128 {
	var out uint128
	out.v.Sub(&a.v, &b.v)
	return out
}

func (a uint128) Mul(b uint128) uint128 {
	var out uint128
	out.v.Mul(&a.v, &b.v)
	return out
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func (a uint128) Cmp(b uint128) int {
	return a.v.Cmp(&b.v)
}

// DivMod returns the quotient and remainder of a / d.
func (a uint128) DivMod(d uint128) (q uint128, r uint128) {
	var qOut, rOut uint128
	qOut.v.DivMod(&a.v, &d.v, &rOut.v)
	return qOut, rOut
}

// Div returns the quotient of a / d, discarding the remainder.
func (a uint128) Div(d uint128) uint128 {
	q, _ := a.DivMod(d)
	return q
}

func (a uint128) IsZero() bool { return a.v.IsZero() }

func (a uint128) Uint64() uint64 { return a.v.Uint64() }

func (a uint128) String() string { return a.v.Dec() }

func (a uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.v.Dec())
}

func (a *uint128) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	_, err := a.v.FromDecimal(s)
	return err
}

// GobEncode and GobDecode let uint128 (and Rune, which shares its
// underlying layout) nest inside gob-encoded records despite wrapping an
// unexported uint256.Int: boltstore persists RuneEntry and friends with
// encoding/gob, the same way math/big.Int makes itself gob-safe.
func (a uint128) GobEncode() ([]byte, error) {
	b := a.v.Bytes32()
	return b[:], nil
}

func (a *uint128) GobDecode(data []byte) error {
	a.v.SetBytes(data)
	return nil
}

func (r Rune) GobEncode() ([]byte, error) { return uint128(r).GobEncode() }

func (r *Rune) GobDecode(data []byte) error { return (*uint128)(r).GobDecode(data) }
