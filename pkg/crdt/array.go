package crdt

import (
	"encoding/json"
	"fmt"
)

// Array is a replicated sequence of primitive values.
type Array struct {
	base
	seq sequence
}

func newArray(d *Doc, id ID, parent *Map, key string) *Array {
	return &Array{base: base{doc: d, id: id, kind: kindArray, parent: parent, key: key}}
}

// Entry is a visible array element together with its id. Equal values held
// by different elements are distinct entries.
type Entry struct {
	ID    ID
	Value any
}

func (a *Array) Len() int {
	return a.seq.visibleLen()
}

func (a *Array) Get(index int) (any, bool) {
	vis := a.seq.visible()
	if index < 0 || index >= len(vis) {
		return nil, false
	}
	return vis[index].content, true
}

func (a *Array) ToSlice() []any {
	vis := a.seq.visible()
	out := make([]any, len(vis))
	for i, el := range vis {
		out[i] = el.content
	}
	return out
}

// Strings returns the string elements in order, skipping other values.
func (a *Array) Strings() []string {
	vis := a.seq.visible()
	out := make([]string, 0, len(vis))
	for _, el := range vis {
		if s, ok := el.content.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (a *Array) Entries() []Entry {
	vis := a.seq.visible()
	out := make([]Entry, len(vis))
	for i, el := range vis {
		out[i] = Entry{ID: el.id, Value: el.content}
	}
	return out
}

// IndexOf returns the visible index of the element with id, or -1.
func (a *Array) IndexOf(id ID) int {
	n := 0
	for _, el := range a.seq.elems {
		if el.hidden {
			continue
		}
		if el.id == id {
			return n
		}
		n++
	}
	return -1
}

func (a *Array) Insert(tx *Transaction, index int, values ...any) error {
	if err := tx.check(a.doc); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	norm := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			return fmt.Errorf("%w: nil array element", ErrUnsupportedValue)
		}
		n, err := normalize(v)
		if err != nil {
			return err
		}
		norm[i] = n
	}
	slot, err := a.seq.insertAt(index)
	if err != nil {
		return err
	}

	elems := make([]*element, len(norm))
	stored := make([]any, len(norm))
	for i, v := range norm {
		elems[i] = &element{id: a.doc.nextID(), content: v}
		raw, err := json.Marshal(arrayElement{ID: elems[i].id.String(), V: v})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		stored[i] = string(raw)
	}
	tx.touchSeq(a, &a.seq)
	a.seq.splice(slot, elems)
	tx.record(a, func() error {
		return a.seq.items.Insert(slot, stored...)
	})
	return nil
}

func (a *Array) Push(tx *Transaction, values ...any) error {
	return a.Insert(tx, a.Len(), values...)
}

func (a *Array) Delete(tx *Transaction, index, length int) error {
	if err := tx.check(a.doc); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	slots, err := a.seq.rangeAt(index, length)
	if err != nil {
		return err
	}
	a.seq.remove(tx, a, slots)
	return nil
}

// DeleteItems removes the given entries wherever they currently sit.
func (a *Array) DeleteItems(tx *Transaction, ids ...ID) error {
	if err := tx.check(a.doc); err != nil {
		return err
	}
	var slots []int
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if slot := a.seq.slotOf(id); slot >= 0 && !seen[slot] {
			seen[slot] = true
			slots = append(slots, slot)
		}
	}
	a.seq.remove(tx, a, slots)
	return nil
}
