package runeparser

import "github.com/btcrunes/runeindexer/runes"

// decodeVarints splits data into the sequence of LEB128 (7-bits-per-byte,
// high bit = continuation) unsigned integers it encodes, the wire
// encoding a runestone's integer fields use. A truncated final varint
// (continuation bit set on the last byte) is reported via ok=false: the
// runestone is malformed and must be treated as a cenotaph.
func decodeVarints(data []byte) (values []runes.Uint128, ok bool) {
	i := 0
	for i < len(data) {
		v, n, valid := decodeVarint(data[i:])
		if !valid {
			return values, false
		}
		values = append(values, v)
		i += n
	}
	return values, true
}

// decodeVarint decodes a single LEB128 uint128 starting at data[0],
// returning the value, the number of bytes consumed, and whether the
// encoding was complete and did not overflow 128 bits.
func decodeVarint(data []byte) (value runes.Uint128, n int, ok bool) {
	value = runes.Uint128FromUint64(0)
	base := runes.Uint128FromUint64(128)
	weight := runes.Uint128FromUint64(1)
	for i := 0; i < len(data); i++ {
		b := data[i]
		if i >= 19 {
			// 19 groups of 7 bits is already more than 128 bits; any
			// longer encoding cannot be a valid value.
			return runes.Uint128FromUint64(0), 0, false
		}
		// LEB128 is little-endian: the first group is the least
		// significant.
		chunk := runes.Uint128FromUint64(uint64(b & 0x7f))
		value = value.Add(chunk.Mul(weight))
		if value.Cmp(runes.MaxUint128()) > 0 {
			return runes.Uint128FromUint64(0), 0, false
		}
		weight = weight.Mul(base)
		if b&0x80 == 0 {
			return value, i + 1, true
		}
	}
	return runes.Uint128FromUint64(0), 0, false
}

// encodeVarint is the inverse of decodeVarint, used by tests to build
// synthetic runestone payloads.
func encodeVarint(v runes.Uint128) []byte {
	var digits []byte
	base := runes.Uint128FromUint64(128)
	for {
		q, r := v.DivMod(base)
		digits = append(digits, byte(r.Uint64()))
		v = q
		if v.IsZero() {
			break
		}
	}
	for i := 0; i < len(digits)-1; i++ {
		digits[i] |= 0x80
	}
	return digits
}
