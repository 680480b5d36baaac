package boltstore

import (
	"bytes"
	"encoding/gob"
)

// encodeGob and decodeGob serialize the runes package's value types for
// storage as a bbolt value. gob is the stdlib's own answer to this: none
// of the teacher's or the corpus's dependencies address generic
// Go-struct-to-bytes encoding for an embedded KV value (ffldb's own
// records are hand-packed because every one of them has a fixed,
// performance-critical layout; these records don't), and runes.Uint128
// already makes itself gob-safe the same way math/big.Int does, via
// GobEncode/GobDecode, so nested RuneEntry/TransactionStateChange values
// round-trip correctly through the default struct encoder.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
