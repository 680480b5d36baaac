// Package boltstore is a concrete chainio.Store backed by go.etcd.io/bbolt
// (§6): a single-file embedded database, the same engine family the
// teacher's database package abstracts over with its ffldb driver
// (database/ffldb wraps this exact library). Where ffldb lays out one
// flat-file blockstore plus a bbolt metadata index tuned for the
// consensus chainstate, boltstore keeps everything — blocks, outpoints,
// rune entries, the address index, the mempool set and the rollback
// journal — directly in bbolt buckets, since none of this indexer's
// records are large enough to need ffldb's flat-file side channel.
package boltstore

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/chainio"
	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagBoltStore)

var (
	bucketMeta         = []byte("meta")
	bucketHeightToHash = []byte("height_to_hash")
	bucketHashToHeight = []byte("hash_to_height")
	bucketTxOuts       = []byte("txouts")
	bucketRunes        = []byte("runes")
	bucketRuneIDs      = []byte("rune_ids")
	bucketInscriptions = []byte("inscriptions")
	bucketAddressIndex = []byte("address_index")
	bucketMempool      = []byte("mempool")
	bucketRawTxs       = []byte("raw_txs")
	bucketTxBlocks     = []byte("tx_blocks")
	bucketStateChanges = []byte("state_changes")

	allBuckets = [][]byte{
		bucketMeta, bucketHeightToHash, bucketHashToHeight, bucketTxOuts,
		bucketRunes, bucketRuneIDs, bucketInscriptions, bucketAddressIndex,
		bucketMempool, bucketRawTxs, bucketTxBlocks, bucketStateChanges,
	}
)

var (
	metaKeyBlockCount    = []byte("blockcount")
	metaKeyRuneCount     = []byte("runecount")
	metaKeyFlagSpent     = []byte("flag_index_spent_outputs")
	metaKeyFlagAddresses = []byte("flag_index_addresses")
	metaKeyFlagBtcTxs    = []byte("flag_index_bitcoin_transactions")
)

// Store is a chainio.Store over a single bbolt.DB file. Not safe for
// concurrent use from more than one goroutine without an external lock;
// callers embed it behind storelock.Store the same way ffldb is only
// ever reached through database.Db's own transaction serialization.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// every bucket this store needs exists, the way database.ffldb's Create
// initializes its metadata buckets on first use.
func Open(path string) (*Store, er.R) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, er.E(err)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, er.E(err)
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() er.R {
	if err := s.db.Close(); err != nil {
		return er.E(err)
	}
	return nil
}

var _ chainio.Store = (*Store)(nil)

func heightKey(height uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, height)
	return k
}

func outpointKey(op wire.OutPoint) []byte {
	k := make([]byte, chainhash.HashSize+4)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], op.Index)
	return k
}

func runeIdKey(id runes.RuneId) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, id.Block)
	binary.BigEndian.PutUint32(k[8:], id.Tx)
	return k
}

func inscriptionIdKey(id runes.InscriptionId) []byte {
	k := make([]byte, chainhash.HashSize+4)
	copy(k, id.Txid[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], id.Index)
	return k
}

func runeNameKey(r runes.Rune) ([]byte, error) {
	return r.GobEncode()
}

func (s *Store) BlockCount() (uint64, er.R) {
	var out uint64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyBlockCount)
		if v == nil {
			return nil
		}
		found = true
		out = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, er.E(err)
	}
	if !found {
		return 0, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) BlockHash(height uint64) (chainhash.Hash, er.R) {
	var out chainhash.Hash
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeightToHash).Get(heightKey(height))
		if v == nil {
			return nil
		}
		found = true
		copy(out[:], v)
		return nil
	})
	if err != nil {
		return chainhash.Hash{}, er.E(err)
	}
	if !found {
		return chainhash.Hash{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) BlockHeight(hash chainhash.Hash) (uint64, er.R) {
	var out uint64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHashToHeight).Get(hash[:])
		if v == nil {
			return nil
		}
		found = true
		out = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, er.E(err)
	}
	if !found {
		return 0, chainio.ErrNotFound.Default()
	}
	return out, nil
}

// TxOut returns the confirmed view; boltstore does not (yet) layer a
// separate mempool-pending output overlay, matching the accepted
// simplification chainiotest.MemStore already makes for the same
// interface parameter.
func (s *Store) TxOut(op wire.OutPoint, mempool bool) (runes.TxOutEntry, er.R) {
	var out runes.TxOutEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxOuts).Get(outpointKey(op))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.TxOutEntry{}, er.E(err)
	}
	if !found {
		return runes.TxOutEntry{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) TxOuts(ops []wire.OutPoint, mempool bool) (map[wire.OutPoint]runes.TxOutEntry, er.R) {
	out := make(map[wire.OutPoint]runes.TxOutEntry, len(ops))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxOuts)
		for _, op := range ops {
			v := b.Get(outpointKey(op))
			if v == nil {
				continue
			}
			var entry runes.TxOutEntry
			if err := decodeGob(v, &entry); err != nil {
				return err
			}
			out[op] = entry
		}
		return nil
	})
	if err != nil {
		return nil, er.E(err)
	}
	return out, nil
}

func (s *Store) Rune(id runes.RuneId) (runes.RuneEntry, er.R) {
	var out runes.RuneEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRunes).Get(runeIdKey(id))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.RuneEntry{}, er.E(err)
	}
	if !found {
		return runes.RuneEntry{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

// RuneCount returns 0, not ErrNotFound, for a store that has never etched a
// rune: unlike BlockCount, absence here is a legitimate zero, not a "nothing
// indexed yet" signal callers must special-case.
func (s *Store) RuneCount() (uint64, er.R) {
	var out uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyRuneCount)
		if v == nil {
			return nil
		}
		out = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, er.E(err)
	}
	return out, nil
}

func (s *Store) RuneID(rune runes.Rune) (runes.RuneId, er.R) {
	key, kerr := runeNameKey(rune)
	if kerr != nil {
		return runes.RuneId{}, er.E(kerr)
	}
	var out runes.RuneId
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRuneIDs).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.RuneId{}, er.E(err)
	}
	if !found {
		return runes.RuneId{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) Inscription(id runes.InscriptionId) (runes.Inscription, er.R) {
	var out runes.Inscription
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketInscriptions).Get(inscriptionIdKey(id))
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.Inscription{}, er.E(err)
	}
	if !found {
		return runes.Inscription{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

// ScriptPubkeyOutpoints reads the script's nested address-index bucket,
// the way the teacher's addrindex buckets outpoints per address rather
// than keeping one giant set keyed by a concatenated (script, outpoint)
// pair.
func (s *Store) ScriptPubkeyOutpoints(script []byte, mempool bool) ([]wire.OutPoint, er.R) {
	var out []wire.OutPoint
	err := s.db.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketAddressIndex).Bucket(script)
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, _ []byte) error {
			op, err := decodeOutpointKey(k)
			if err != nil {
				return err
			}
			out = append(out, op)
			return nil
		})
	})
	if err != nil {
		return nil, er.E(err)
	}
	return out, nil
}

func decodeOutpointKey(k []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	copy(op.Hash[:], k[:chainhash.HashSize])
	op.Index = binary.BigEndian.Uint32(k[chainhash.HashSize:])
	return op, nil
}

func (s *Store) MempoolTxids() ([]chainhash.Hash, er.R) {
	var out []chainhash.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMempool).ForEach(func(k, _ []byte) error {
			var h chainhash.Hash
			copy(h[:], k)
			out = append(out, h)
			return nil
		})
	})
	if err != nil {
		return nil, er.E(err)
	}
	return out, nil
}

func (s *Store) IsTxInMempool(txid chainhash.Hash) (bool, er.R) {
	var in bool
	err := s.db.View(func(tx *bolt.Tx) error {
		in = tx.Bucket(bucketMempool).Get(txid[:]) != nil
		return nil
	})
	if err != nil {
		return false, er.E(err)
	}
	return in, nil
}

func (s *Store) TransactionRaw(txid chainhash.Hash, mempool bool) ([]byte, er.R) {
	var out []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRawTxs).Get(txid[:])
		if v == nil {
			return nil
		}
		found = true
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, er.E(err)
	}
	if !found {
		return nil, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) TransactionConfirmingBlock(txid chainhash.Hash) (runes.BlockId, er.R) {
	var out runes.BlockId
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxBlocks).Get(txid[:])
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.BlockId{}, er.E(err)
	}
	if !found {
		return runes.BlockId{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) TransactionStateChange(txid chainhash.Hash) (runes.TransactionStateChange, er.R) {
	var out runes.TransactionStateChange
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStateChanges).Get(txid[:])
		if v == nil {
			return nil
		}
		found = true
		return decodeGob(v, &out)
	})
	if err != nil {
		return runes.TransactionStateChange{}, er.E(err)
	}
	if !found {
		return runes.TransactionStateChange{}, chainio.ErrNotFound.Default()
	}
	return out, nil
}

func (s *Store) flag(key []byte) (bool, bool, er.R) {
	var value bool
	ok := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(key)
		if v == nil {
			return nil
		}
		ok = true
		value = v[0] != 0
		return nil
	})
	if err != nil {
		return false, false, er.E(err)
	}
	return value, ok, nil
}

func (s *Store) setFlag(key []byte, v bool) er.R {
	b := byte(0)
	if v {
		b = 1
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(key, []byte{b})
	})
	if err != nil {
		return er.E(err)
	}
	return nil
}

func (s *Store) IsIndexSpentOutputs() (bool, bool, er.R) { return s.flag(metaKeyFlagSpent) }
func (s *Store) IsIndexAddresses() (bool, bool, er.R)    { return s.flag(metaKeyFlagAddresses) }
func (s *Store) IsIndexBitcoinTransactions() (bool, bool, er.R) {
	return s.flag(metaKeyFlagBtcTxs)
}

func (s *Store) SetIndexSpentOutputs(v bool) er.R        { return s.setFlag(metaKeyFlagSpent, v) }
func (s *Store) SetIndexAddresses(v bool) er.R            { return s.setFlag(metaKeyFlagAddresses, v) }
func (s *Store) SetIndexBitcoinTransactions(v bool) er.R { return s.setFlag(metaKeyFlagBtcTxs, v) }

// WriteBatch applies every field of b inside one bbolt read-write
// transaction: bbolt's transaction already gives atomicity and durability
// (fsync on commit), so this is a direct translation of Batch's fields
// into bucket mutations rather than its own ad-hoc commit protocol, the
// way database.Db's Update callback is the only place ffldb ever mutates
// state.
func (s *Store) WriteBatch(b *chainio.Batch) er.R {
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		heightToHash := tx.Bucket(bucketHeightToHash)
		hashToHeight := tx.Bucket(bucketHashToHeight)
		txOuts := tx.Bucket(bucketTxOuts)
		runeBkt := tx.Bucket(bucketRunes)
		runeIDs := tx.Bucket(bucketRuneIDs)
		addrIdx := tx.Bucket(bucketAddressIndex)
		mempool := tx.Bucket(bucketMempool)
		rawTxs := tx.Bucket(bucketRawTxs)
		txBlocks := tx.Bucket(bucketTxBlocks)
		stateChanges := tx.Bucket(bucketStateChanges)

		if b.BlockCount != nil {
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, *b.BlockCount)
			if err := meta.Put(metaKeyBlockCount, v); err != nil {
				return err
			}
		}
		for height, hash := range b.Blocks {
			if err := heightToHash.Put(heightKey(height), hash[:]); err != nil {
				return err
			}
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, height)
			if err := hashToHeight.Put(hash[:], v); err != nil {
				return err
			}
		}
		if b.RuneCount != nil {
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, *b.RuneCount)
			if err := meta.Put(metaKeyRuneCount, v); err != nil {
				return err
			}
		}
		if b.DeleteBlocksAbove != nil {
			c := heightToHash.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if binary.BigEndian.Uint64(k) > *b.DeleteBlocksAbove {
					if err := hashToHeight.Delete(v); err != nil {
						return err
					}
					if err := heightToHash.Delete(k); err != nil {
						return err
					}
				}
			}
		}
		for op, t := range b.TxOuts {
			raw, err := encodeGob(t)
			if err != nil {
				return err
			}
			if err := txOuts.Put(outpointKey(op), raw); err != nil {
				return err
			}
		}
		for _, op := range b.DeleteTxOuts {
			if err := txOuts.Delete(outpointKey(op)); err != nil {
				return err
			}
		}
		for id, e := range b.Runes {
			raw, err := encodeGob(e)
			if err != nil {
				return err
			}
			if err := runeBkt.Put(runeIdKey(id), raw); err != nil {
				return err
			}
		}
		for _, id := range b.DeleteRunes {
			if err := runeBkt.Delete(runeIdKey(id)); err != nil {
				return err
			}
		}
		for r, id := range b.RuneIDs {
			key, kerr := runeNameKey(r)
			if kerr != nil {
				return kerr
			}
			raw, err := encodeGob(id)
			if err != nil {
				return err
			}
			if err := runeIDs.Put(key, raw); err != nil {
				return err
			}
		}
		for _, r := range b.DeleteRuneIDs {
			key, kerr := runeNameKey(r)
			if kerr != nil {
				return kerr
			}
			if err := runeIDs.Delete(key); err != nil {
				return err
			}
		}
		for script, ops := range b.AddressAdd {
			sub, err := addrIdx.CreateBucketIfNotExists([]byte(script))
			if err != nil {
				return err
			}
			for _, op := range ops {
				if err := sub.Put(outpointKey(op), []byte{1}); err != nil {
					return err
				}
			}
		}
		for script, ops := range b.AddressDel {
			sub := addrIdx.Bucket([]byte(script))
			if sub == nil {
				continue
			}
			for _, op := range ops {
				if err := sub.Delete(outpointKey(op)); err != nil {
					return err
				}
			}
		}
		for _, txid := range b.MempoolAdd {
			if err := mempool.Put(txid[:], []byte{1}); err != nil {
				return err
			}
		}
		for _, txid := range b.MempoolDel {
			if err := mempool.Delete(txid[:]); err != nil {
				return err
			}
		}
		for txid, raw := range b.RawTxs {
			if err := rawTxs.Put(txid[:], raw); err != nil {
				return err
			}
		}
		for txid, block := range b.TxBlocks {
			raw, err := encodeGob(block)
			if err != nil {
				return err
			}
			if err := txBlocks.Put(txid[:], raw); err != nil {
				return err
			}
		}
		for txid, change := range b.StateChanges {
			raw, err := encodeGob(change)
			if err != nil {
				return err
			}
			if err := stateChanges.Put(txid[:], raw); err != nil {
				return err
			}
		}
		for _, txid := range b.DeleteStateChanges {
			if err := stateChanges.Delete(txid[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("WriteBatch failed: %v", err)
		return er.E(err)
	}
	return nil
}
