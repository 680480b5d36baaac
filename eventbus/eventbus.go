// Package eventbus implements the single-producer, multi-consumer typed
// event fan-out described in §4.8: the flush step is the sole producer;
// each subscriber gets its own bounded channel, and a full or
// unsubscribed channel simply drops the event rather than blocking
// indexing or buffering unbounded backlog.
package eventbus

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/btcrunes/runeindexer/rlog"
	"github.com/btcrunes/runeindexer/runes"
)

var log = rlog.Logger(rlog.TagEventBus)

// Kind identifies which variant an Event carries.
type Kind int

const (
	KindNewBlock Kind = iota
	KindTransactionsAdded
	KindTransactionsReplaced
	KindAddressModified
	KindRuneEtched
	KindRuneMinted
	KindRuneBurned
)

// Event is a tagged union over every event variant the core emits. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// KindNewBlock
	Height uint64
	Hash   chainhash.Hash

	// KindTransactionsAdded, KindTransactionsReplaced
	Txids []chainhash.Hash

	// KindAddressModified
	ScriptPubkey []byte

	// KindRuneEtched, KindRuneMinted, KindRuneBurned
	RuneId runes.RuneId
	Amount runes.Uint128
}

func NewBlock(height uint64, hash chainhash.Hash) Event {
	return Event{Kind: KindNewBlock, Height: height, Hash: hash}
}

func TransactionsAdded(txids []chainhash.Hash) Event {
	return Event{Kind: KindTransactionsAdded, Txids: txids}
}

func TransactionsReplaced(txids []chainhash.Hash) Event {
	return Event{Kind: KindTransactionsReplaced, Txids: txids}
}

func AddressModified(script []byte, txids []chainhash.Hash) Event {
	return Event{Kind: KindAddressModified, ScriptPubkey: script, Txids: txids}
}

func RuneEtched(id runes.RuneId) Event {
	return Event{Kind: KindRuneEtched, RuneId: id}
}

func RuneMinted(id runes.RuneId, amount runes.Uint128) Event {
	return Event{Kind: KindRuneMinted, RuneId: id, Amount: amount}
}

func RuneBurned(id runes.RuneId, amount runes.Uint128) Event {
	return Event{Kind: KindRuneBurned, RuneId: id, Amount: amount}
}

// Subscription is a consumer's bounded view onto the bus.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	closed bool
}

// Events returns the channel to range/select over.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes; in-flight sends to this subscription after Close
// are silently dropped.
func (s *Subscription) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.bus.remove(s)
}

// Bus is the single-producer multi-consumer fan-out. The zero value is
// not usable; construct with New.
type Bus struct {
	subs     map[*Subscription]struct{}
	capacity int
}

// New returns a Bus whose per-subscriber channels have the given
// capacity.
func New(capacity int) *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), capacity: capacity}
}

// Subscribe registers a new consumer. Not safe to call concurrently with
// Publish from multiple goroutines; the expected usage is subscribers
// registering at startup before the index loop begins publishing.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, b.capacity), bus: b}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish fans e out to every live subscriber. If the bus has no
// subscribers at all, e is dropped immediately rather than buffered
// anywhere (§4.8). A subscriber whose channel is full also has the event
// dropped for it specifically; other subscribers are unaffected.
func (b *Bus) Publish(e Event) {
	if len(b.subs) == 0 {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			log.Debugf("dropping event kind %d: subscriber channel full", e.Kind)
		}
	}
}
