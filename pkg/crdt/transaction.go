package crdt

import "fmt"

// Transaction groups mutations so that they commit together as one automerge
// change and produce one batch of events. It is only valid inside the
// Transact callback.
type Transaction struct {
	doc       *Doc
	origin    Origin
	journal   []func() error
	update    []byte
	committed bool

	dirty   []shared
	isDirty map[shared]struct{}
	created map[shared]struct{}

	order []shared
	maps  map[*Map]map[string]any
	seqs  map[shared][]elementState
}

func newTransaction(d *Doc, origin Origin) *Transaction {
	return &Transaction{
		doc:     d,
		origin:  origin,
		isDirty: make(map[shared]struct{}),
		created: make(map[shared]struct{}),
		maps:    make(map[*Map]map[string]any),
		seqs:    make(map[shared][]elementState),
	}
}

func (tx *Transaction) Origin() Origin {
	return tx.origin
}

// Update returns the automerge changes this transaction committed or
// integrated. Peers apply it with Doc.ApplyUpdate. It is empty until the
// transaction commits.
func (tx *Transaction) Update() []byte {
	return tx.update
}

// Empty reports whether the transaction wrote or integrated nothing.
func (tx *Transaction) Empty() bool {
	return len(tx.journal) == 0 && len(tx.update) == 0
}

func (tx *Transaction) check(d *Doc) error {
	if tx == nil || tx.doc != d || d.tx != tx {
		return fmt.Errorf("crdt: mutation outside of its transaction")
	}
	return nil
}

// record queues the automerge writes matching a mirror mutation of t.
func (tx *Transaction) record(t shared, fn func() error) {
	tx.journal = append(tx.journal, fn)
	if _, ok := tx.isDirty[t]; !ok {
		tx.isDirty[t] = struct{}{}
		tx.dirty = append(tx.dirty, t)
	}
}

// replay writes the journal into automerge and moves the revision of every
// written nested type.
func (tx *Transaction) replay() error {
	for _, fn := range tx.journal {
		if err := fn(); err != nil {
			return err
		}
	}
	for _, t := range tx.dirty {
		b := t.meta()
		if b.am == nil {
			continue
		}
		if err := bumpRev(b.am); err != nil {
			return err
		}
	}
	for _, t := range tx.dirty {
		if b := t.meta(); b.am != nil {
			b.rev++
		}
	}
	return nil
}

func (tx *Transaction) markCreated(t shared) {
	tx.created[t] = struct{}{}
}

func (tx *Transaction) touch(t shared) bool {
	if _, ok := tx.created[t]; ok {
		return false
	}
	for _, seen := range tx.order {
		if seen == t {
			return true
		}
	}
	tx.order = append(tx.order, t)
	return true
}

func (tx *Transaction) touchMap(m *Map) {
	if !tx.touch(m) {
		return
	}
	if _, ok := tx.maps[m]; ok {
		return
	}
	snap := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		snap[k] = v
	}
	tx.maps[m] = snap
}

func (tx *Transaction) touchSeq(t shared, s *sequence) {
	if !tx.touch(t) {
		return
	}
	if _, ok := tx.seqs[t]; ok {
		return
	}
	tx.seqs[t] = s.snapshot()
}
