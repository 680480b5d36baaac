package chainio

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/btcrunes/runeindexer/er"
	"github.com/btcrunes/runeindexer/runes"
)

// ValidateIndexFlags reconciles the settings an embedder wants against
// the flags a Store was previously built with (§6, index_updater.rs's
// validate_index). A store that has never recorded a flag (ok=false)
// adopts whatever the settings ask for. A store that recorded "false"
// while settings now ask for "true" cannot be reconciled in place: the
// store is missing data the feature needs, and must be rebuilt or the
// feature disabled.
func ValidateIndexFlags(store Store, settings runes.Settings) er.R {
	if err := reconcileFlag(store.IsIndexSpentOutputs, store.SetIndexSpentOutputs,
		settings.IndexSpentOutputs, "index_spent_outputs"); err != nil {
		return err
	}
	if err := reconcileFlag(store.IsIndexAddresses, store.SetIndexAddresses,
		settings.IndexAddresses, "index_addresses"); err != nil {
		return err
	}
	if err := reconcileFlag(store.IsIndexBitcoinTransactions, store.SetIndexBitcoinTransactions,
		settings.IndexBitcoinTransactions, "index_bitcoin_transactions"); err != nil {
		return err
	}
	return nil
}

func reconcileFlag(
	get func() (bool, bool, er.R),
	set func(bool) er.R,
	want bool,
	name string,
) er.R {
	stored, ok, err := get()
	if err != nil {
		return err
	}
	switch {
	case want && ok && !stored:
		return ErrInvalidIndex.New(name+" is not set; disable it in settings or rebuild the index", nil)
	case want && !ok:
		return set(true)
	case !want && (ok && stored || !ok):
		return set(false)
	default:
		return nil
	}
}

// AddressData is the aggregated view of everything a script_pubkey
// currently controls: its total satoshi value, its rune balances summed
// across every owned output, and the individual outputs themselves.
type AddressData struct {
	Value   uint64
	Runes   []runes.RuneAmount
	Outputs []AddressTxOut
}

// AddressTxOut pairs an owned outpoint with its indexed entry and
// confirmation status.
type AddressTxOut struct {
	OutPoint wire.OutPoint
	TxOut    runes.TxOutEntry
	Status   TransactionStatus
}

// TransactionStatus reports a transaction's confirmation state: either
// unconfirmed, or confirmed at a specific BlockId.
type TransactionStatus struct {
	Confirmed bool
	Block     runes.BlockId
}

// Unconfirmed is the zero-value-equivalent status for a mempool
// transaction.
func Unconfirmed() TransactionStatus { return TransactionStatus{} }

// ScriptPubkeyOutpoints aggregates a script's owned outpoints into an
// AddressData view, mirroring get_script_pubkey_outpoints: fetch the
// owned outpoint set, batch-load their TxOutEntrys, sum rune balances
// across them, and attach each output's confirmation status.
func ScriptPubkeyOutpoints(store Store, script []byte, mempool bool) (AddressData, er.R) {
	outpoints, err := store.ScriptPubkeyOutpoints(script, mempool)
	if err != nil {
		return AddressData{}, err
	}
	txOuts, err := store.TxOuts(outpoints, mempool)
	if err != nil {
		return AddressData{}, err
	}

	runeTotals := make(map[runes.RuneId]runes.RuneAmount)
	var data AddressData
	for _, op := range outpoints {
		txOut, ok := txOuts[op]
		if !ok {
			continue
		}
		for _, ra := range txOut.Runes {
			if existing, ok := runeTotals[ra.RuneId]; ok {
				existing.Amount = existing.Amount.Add(ra.Amount)
				runeTotals[ra.RuneId] = existing
			} else {
				runeTotals[ra.RuneId] = ra
			}
		}
		data.Value += txOut.Value

		status, statusErr := TransactionStatusOf(store, op.Hash)
		if statusErr != nil && !ErrNotFound.Is(statusErr) {
			return AddressData{}, statusErr
		}
		data.Outputs = append(data.Outputs, AddressTxOut{OutPoint: op, TxOut: txOut, Status: status})
	}
	for _, ra := range runeTotals {
		data.Runes = append(data.Runes, ra)
	}
	return data, nil
}

// TransactionStatusOf mirrors get_transaction_status: look up the
// confirming block; if the transaction is not found there at all (never
// indexed), surface ErrNotFound rather than silently reporting it
// unconfirmed.
func TransactionStatusOf(store Store, txid chainhash.Hash) (TransactionStatus, er.R) {
	block, err := store.TransactionConfirmingBlock(txid)
	if err == nil {
		return TransactionStatus{Confirmed: true, Block: block}, nil
	}
	if !ErrNotFound.Is(err) {
		return TransactionStatus{}, err
	}
	if _, rawErr := store.TransactionRaw(txid, true); rawErr != nil {
		return TransactionStatus{}, rawErr
	}
	return Unconfirmed(), nil
}
