package runeparser

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/runes"
)

// protocolMagic is the opcode immediately following OP_RETURN that marks
// a runestone payload, mirroring the single-byte protocol discriminator
// real alt-protocols built on OP_RETURN (Runes, among others) use to
// avoid colliding with unrelated OP_RETURN traffic.
const protocolMagic = txscript.OP_13

// Runestone tags. Even tags are ignored when unrecognized; odd tags
// force cenotaph semantics when unrecognized, the same asymmetry the
// protocol uses so new even fields can be added without breaking old
// parsers while odd fields can be used to deliberately force a cenotaph
// forward-compatibility upgrade path.
const (
	tagBody         = 0
	tagDivisibility = 1
	tagFlags        = 2
	tagSpacers      = 3
	tagRune         = 4
	tagSymbol       = 5
	tagPremine      = 6
	tagCap          = 8
	tagAmount       = 10
	tagHeightStart  = 12
	tagHeightEnd    = 14
	tagOffsetStart  = 16
	tagOffsetEnd    = 18
	tagMint         = 20
	tagPointer      = 22
)

const (
	flagEtching = 1 << 0
	flagTerms   = 1 << 1
	flagTurbo   = 1 << 2
)

// Edict is a single balance allocation instruction decoded from a
// runestone's body.
type Edict struct {
	ID     runes.RuneId
	Amount runes.Uint128
	Output uint32
}

// Etching is the decoded issuance instruction carried by a runestone
// that creates a new rune, if any.
type Etching struct {
	Rune         *runes.Rune
	Spacers      uint32
	Symbol       *int32
	Divisibility uint8
	Premine      runes.Uint128
	Terms        *runes.Terms
	Turbo        bool
}

// Runestone is the fully decoded content of one transaction's runestone
// output.
type Runestone struct {
	Edicts   []Edict
	Etching  *Etching
	Mint     *runes.RuneId
	Pointer  *uint32
	Cenotaph bool
}

// locateRunestone finds the runestone payload within a transaction: the
// first output whose script is OP_RETURN <protocolMagic> <data pushes...>.
// Returns found=false if no such output exists at all (a plain, rune-less
// transaction).
func locateRunestone(tx *wire.MsgTx) (payload []byte, found bool, malformed bool) {
	for _, out := range tx.TxOut {
		tok := txscript.MakeScriptTokenizer(0, out.PkScript)
		if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
			continue
		}
		if !tok.Next() || tok.Opcode() != protocolMagic {
			continue
		}
		var data []byte
		bad := false
		for tok.Next() {
			if tok.Data() == nil && tok.Opcode() != txscript.OP_0 {
				bad = true
				continue
			}
			data = append(data, tok.Data()...)
		}
		if tok.Err() != nil {
			bad = true
		}
		return data, true, bad
	}
	return nil, false, false
}

// DecodeRunestone parses tx's runestone, if any. ok=false means the
// transaction carries no runestone output at all; a malformed payload is
// not reported as an error but as a Runestone with Cenotaph=true, per the
// protocol's cenotaph rule.
func DecodeRunestone(tx *wire.MsgTx) (*Runestone, bool) {
	payload, found, malformedScript := locateRunestone(tx)
	if !found {
		return nil, false
	}

	rs := &Runestone{}
	if malformedScript {
		rs.Cenotaph = true
	}

	ints, complete := decodeVarints(payload)
	if !complete {
		rs.Cenotaph = true
	}

	fields := make(map[uint64]runes.Uint128)
	i := 0
	for i < len(ints) {
		tag := ints[i].Uint64()
		if tag == tagBody {
			i++
			break
		}
		if i+1 >= len(ints) {
			// A tag with no value left over falls through to the edict
			// length check below and makes the runestone a cenotaph.
			break
		}
		if _, known := knownTags[tag]; !known && tag%2 == 1 {
			rs.Cenotaph = true
		}
		// Repeated tags keep the first occurrence, mirroring how the
		// reference protocol resolves duplicate fields.
		if _, present := fields[tag]; !present {
			fields[tag] = ints[i+1]
		}
		i += 2
	}

	edictInts := ints[i:]
	if len(edictInts)%4 != 0 {
		rs.Cenotaph = true
	} else {
		var block, tx32 uint64
		for e := 0; e+3 < len(edictInts); e += 4 {
			block += edictInts[e].Uint64()
			tx32 += edictInts[e+1].Uint64()
			rs.Edicts = append(rs.Edicts, Edict{
				ID:     runes.RuneId{Block: block, Tx: uint32(tx32)},
				Amount: edictInts[e+2],
				Output: uint32(edictInts[e+3].Uint64()),
			})
		}
	}

	if v, ok := fields[tagPointer]; ok {
		p := uint32(v.Uint64())
		rs.Pointer = &p
	}
	if v, ok := fields[tagMint]; ok {
		// Mint packs block and tx into one field: the high 32 bits hold
		// tx, the low bits hold block, unlike an edict's delta-encoded id.
		tx32, block := v.DivMod(runes.Uint128FromUint64(1 << 32))
		id := runes.RuneId{Block: block.Uint64(), Tx: uint32(tx32.Uint64())}
		rs.Mint = &id
	}

	flagsVal, hasFlags := fields[tagFlags]
	flags := flagsVal.Uint64()
	if hasFlags && flags&flagEtching != 0 {
		etching := &Etching{Turbo: flags&flagTurbo != 0}
		if v, ok := fields[tagRune]; ok {
			r := runes.Rune(v)
			etching.Rune = &r
		}
		if v, ok := fields[tagSpacers]; ok {
			etching.Spacers = uint32(v.Uint64())
		}
		if v, ok := fields[tagSymbol]; ok {
			s := int32(v.Uint64())
			etching.Symbol = &s
		}
		if v, ok := fields[tagDivisibility]; ok {
			d := v.Uint64()
			if d > 38 {
				rs.Cenotaph = true
			}
			etching.Divisibility = uint8(d)
		}
		if v, ok := fields[tagPremine]; ok {
			etching.Premine = v
		}
		if flags&flagTerms != 0 {
			terms := &runes.Terms{}
			if v, ok := fields[tagAmount]; ok {
				terms.Amount = &v
			}
			if v, ok := fields[tagCap]; ok {
				terms.Cap = &v
			}
			if v, ok := fields[tagHeightStart]; ok {
				h := v.Uint64()
				terms.StartHeight = &h
			}
			if v, ok := fields[tagHeightEnd]; ok {
				h := v.Uint64()
				terms.EndHeight = &h
			}
			if v, ok := fields[tagOffsetStart]; ok {
				h := v.Uint64()
				terms.StartOffset = &h
			}
			if v, ok := fields[tagOffsetEnd]; ok {
				h := v.Uint64()
				terms.EndOffset = &h
			}
			etching.Terms = terms
		}
		rs.Etching = etching
	}

	if rs.Cenotaph {
		rs.Edicts = nil
		rs.Etching = nil
		rs.Mint = nil
	}

	return rs, true
}

var knownTags = map[uint64]struct{}{
	tagBody: {}, tagDivisibility: {}, tagFlags: {}, tagSpacers: {},
	tagRune: {}, tagSymbol: {}, tagPremine: {}, tagCap: {}, tagAmount: {},
	tagHeightStart: {}, tagHeightEnd: {}, tagOffsetStart: {}, tagOffsetEnd: {},
	tagMint: {}, tagPointer: {},
}
