package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// decodeChanges parses an update buffer and checks that every change was
// written by a client of this package.
func decodeChanges(update []byte) ([]*automerge.Change, error) {
	changes, err := automerge.LoadChanges(update)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for _, ch := range changes {
		if _, err := clientOf(ch.ActorID()); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// EncodeStateAsUpdate encodes every integrated change. Applying the result
// to an empty document reproduces this document's state.
func (d *Doc) EncodeStateAsUpdate() []byte {
	changes, err := d.am.Changes()
	if err != nil {
		panic(fmt.Sprintf("crdt: list changes: %v", err))
	}
	return automerge.SaveChanges(changes)
}

// EncodeStateAsUpdateSince encodes the changes a peer holding sv is missing,
// in causal order.
func (d *Doc) EncodeStateAsUpdateSince(sv StateVector) []byte {
	changes, err := d.am.Changes()
	if err != nil {
		panic(fmt.Sprintf("crdt: list changes: %v", err))
	}
	missing := make([]*automerge.Change, 0, len(changes))
	for _, ch := range changes {
		client, err := clientOf(ch.ActorID())
		if err != nil || ch.ActorSeq() > sv[client] {
			missing = append(missing, ch)
		}
	}
	return automerge.SaveChanges(missing)
}

// StateVector reports how many changes were integrated per client.
func (d *Doc) StateVector() StateVector {
	sv := make(StateVector, len(d.sv))
	for k, v := range d.sv {
		sv[k] = v
	}
	return sv
}

// ApplyUpdate integrates a remote update inside a transaction tagged with
// origin. Changes whose dependencies are missing are parked until a later
// update provides them; duplicates are ignored.
func (d *Doc) ApplyUpdate(update []byte, origin Origin) error {
	if d.tx != nil || d.delivering {
		return ErrNestedTransaction
	}
	if len(update) == 0 {
		return nil
	}
	changes, err := decodeChanges(update)
	if err != nil {
		return err
	}

	queued := make(map[automerge.ChangeHash]struct{}, len(d.pending))
	for _, ch := range d.pending {
		queued[ch.Hash()] = struct{}{}
	}
	for _, ch := range changes {
		h := ch.Hash()
		if _, ok := d.applied[h]; ok {
			continue
		}
		if _, ok := queued[h]; ok {
			continue
		}
		queued[h] = struct{}{}
		d.pending = append(d.pending, ch)
	}

	integrated, applyErr := d.integratePending()
	if len(integrated) == 0 {
		return applyErr
	}

	tx := newTransaction(d, origin)
	tx.update = automerge.SaveChanges(integrated)
	tx.committed = true
	d.tx = tx
	err = d.reload(tx, false)
	d.tx = nil
	d.version++
	if err != nil {
		return fmt.Errorf("crdt: reload: %w", err)
	}
	d.deliver(tx, tx.events())
	return applyErr
}

// integratePending applies every parked change whose dependencies are known,
// until no more progress is made.
func (d *Doc) integratePending() ([]*automerge.Change, error) {
	var integrated []*automerge.Change
	var failed error
	for {
		progress := false
		var rest []*automerge.Change
		for _, ch := range d.pending {
			if !d.ready(ch) {
				rest = append(rest, ch)
				continue
			}
			if err := d.am.Apply(ch); err != nil {
				// a change automerge refuses is dropped, not parked
				failed = fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
				continue
			}
			h := ch.Hash()
			d.applied[h] = struct{}{}
			if client, err := clientOf(ch.ActorID()); err == nil && ch.ActorSeq() > d.sv[client] {
				d.sv[client] = ch.ActorSeq()
			}
			integrated = append(integrated, ch)
			progress = true
		}
		d.pending = rest
		if !progress || len(rest) == 0 {
			return integrated, failed
		}
	}
}

func (d *Doc) ready(ch *automerge.Change) bool {
	for _, dep := range ch.Dependencies() {
		if _, ok := d.applied[dep]; !ok {
			return false
		}
	}
	return true
}

// PendingCount reports how many received changes wait for dependencies.
func (d *Doc) PendingCount() int {
	return len(d.pending)
}

// MergeUpdates folds several update buffers into one.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	var all []*automerge.Change
	seen := make(map[automerge.ChangeHash]struct{})
	for _, u := range updates {
		if len(u) == 0 {
			continue
		}
		changes, err := decodeChanges(u)
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			h := ch.Hash()
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			all = append(all, ch)
		}
	}
	return automerge.SaveChanges(all), nil
}
