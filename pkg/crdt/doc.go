// Package crdt is a replicated document made of nested maps, sequences and
// rich text, stored in an automerge document. Concurrent replicas converge
// once they have integrated the same set of changes, in any causal order.
//
// Reads are served from an in-memory mirror of the automerge state. Local
// writes update the mirror at once and are replayed into automerge when the
// transaction commits, so a failed transaction never reaches the replicated
// history.
package crdt

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/automerge/automerge-go"
)

var (
	ErrNestedTransaction = errors.New("crdt: transaction already in progress")
	ErrMalformedUpdate   = errors.New("crdt: malformed update")
	ErrUnsupportedValue  = errors.New("crdt: unsupported value")
	ErrOutOfRange        = errors.New("crdt: index out of range")
	ErrTypeMismatch      = errors.New("crdt: target has a different type")
)

// Origin tags a transaction with its source so observers can tell local
// writes from integrated remote updates. Local origins are stored as the
// commit message of the automerge change.
type Origin string

const (
	Local  Origin = "local"
	Remote Origin = "remote"
)

// Observer receives the events of one committed transaction.
type Observer func(tx *Transaction, events []Event)

// Doc is a single replica. It is not safe for concurrent use; owners
// serialize access.
type Doc struct {
	clientID uint64
	clock    uint64
	version  uint64

	am      *automerge.Doc
	applied map[automerge.ChangeHash]struct{}
	pending []*automerge.Change
	sv      StateVector

	roots map[string]*Map
	types map[ID]shared

	observers    map[int]Observer
	nextObserver int

	tx         *Transaction
	delivering bool
}

type Option func(*Doc)

// WithClientID fixes the replica id. Ids must be unique per replica and non
// zero.
func WithClientID(id uint64) Option {
	return func(d *Doc) {
		if id != 0 {
			d.clientID = id
		}
	}
}

func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		am:        automerge.New(),
		applied:   make(map[automerge.ChangeHash]struct{}),
		sv:        make(StateVector),
		roots:     make(map[string]*Map),
		types:     make(map[ID]shared),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(d)
	}
	for d.clientID == 0 {
		d.clientID = rand.Uint64()
	}
	if err := d.am.SetActorID(actorOf(d.clientID)); err != nil {
		// actorOf always yields an even number of hex digits
		panic(fmt.Sprintf("crdt: set actor: %v", err))
	}
	return d
}

func (d *Doc) ClientID() uint64 {
	return d.clientID
}

// Version changes whenever a change is integrated or a transaction is rolled
// back. Readers use it to invalidate derived caches.
func (d *Doc) Version() uint64 {
	return d.version
}

// GetMap returns the named root map, creating it on first use. Root maps exist
// on every replica without a change.
func (d *Doc) GetMap(name string) *Map {
	if m, ok := d.roots[name]; ok {
		return m
	}
	m := newMap(d, ID{}, nil, name)
	m.root = name
	m.loaded = true
	d.roots[name] = m
	return m
}

// Observe registers fn for every committed transaction that changed visible
// state. The returned func unsubscribes.
func (d *Doc) Observe(fn Observer) func() {
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = fn
	return func() {
		delete(d.observers, id)
	}
}

// Transact runs fn as one atomic transaction. Mutations require the
// transaction handle. If fn returns an error every mutation it made is undone
// and no event is delivered.
func (d *Doc) Transact(origin Origin, fn func(tx *Transaction) error) (err error) {
	if d.tx != nil || d.delivering {
		return ErrNestedTransaction
	}
	tx := newTransaction(d, origin)
	d.tx = tx

	defer func() {
		if r := recover(); r != nil {
			d.tx = nil
			if !tx.committed {
				d.rollback(tx)
			}
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		d.tx = nil
		d.rollback(tx)
		return err
	}
	d.tx = nil
	return d.commit(tx)
}

// rollback drops the mirror changes of tx by reloading the untouched
// automerge state.
func (d *Doc) rollback(tx *Transaction) {
	for t := range tx.created {
		delete(d.types, t.meta().id)
	}
	d.version++
	if len(tx.journal) == 0 {
		return
	}
	if err := d.reload(nil, true); err != nil {
		panic(fmt.Sprintf("crdt: reload after rollback: %v", err))
	}
}

func (d *Doc) commit(tx *Transaction) error {
	if len(tx.journal) == 0 {
		return nil
	}
	heads := d.am.Heads()
	if err := tx.replay(); err != nil {
		if rerr := d.restore(heads); rerr != nil {
			return fmt.Errorf("crdt: restore after %v: %w", err, rerr)
		}
		d.rollback(tx)
		return fmt.Errorf("crdt: commit: %w", err)
	}
	hash, err := d.am.Commit(string(tx.origin))
	if err != nil {
		if rerr := d.restore(heads); rerr != nil {
			return fmt.Errorf("crdt: restore after %v: %w", err, rerr)
		}
		d.rollback(tx)
		return fmt.Errorf("crdt: commit: %w", err)
	}
	change, err := d.am.Change(hash)
	if err != nil {
		return fmt.Errorf("crdt: read committed change: %w", err)
	}
	tx.update = change.Save()
	tx.committed = true
	d.applied[hash] = struct{}{}
	d.sv[d.clientID] = change.ActorSeq()
	d.version++
	d.deliver(tx, tx.events())
	return nil
}

// restore replaces the automerge document with its state at heads, dropping
// any operation that was written but not committed.
func (d *Doc) restore(heads []automerge.ChangeHash) error {
	var fresh *automerge.Doc
	if len(heads) == 0 {
		fresh = automerge.New()
	} else {
		var err error
		if fresh, err = d.am.Fork(heads...); err != nil {
			return err
		}
	}
	if err := fresh.SetActorID(actorOf(d.clientID)); err != nil {
		return err
	}
	d.am = fresh
	return nil
}

func (d *Doc) deliver(tx *Transaction, events []Event) {
	if len(events) == 0 || len(d.observers) == 0 {
		return
	}

	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	d.delivering = true
	defer func() { d.delivering = false }()
	for _, id := range ids {
		if fn, ok := d.observers[id]; ok {
			fn(tx, events)
		}
	}
}

func (d *Doc) nextID() ID {
	d.clock++
	return ID{Client: d.clientID, Clock: d.clock}
}

func (d *Doc) observeClock(id ID) {
	if id.Clock > d.clock {
		d.clock = id.Clock
	}
}

// ToJSON renders every root map as plain values. Text renders as its delta.
func (d *Doc) ToJSON() map[string]any {
	out := make(map[string]any, len(d.roots))
	for name, m := range d.roots {
		out[name] = m.ToJSON()
	}
	return out
}
