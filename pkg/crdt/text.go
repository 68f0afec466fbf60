package crdt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/automerge/automerge-go"
)

// DeltaOp is one step of a rich-text delta. Insert holds either a string or
// an embed payload (map[string]any) that occupies a single position.
type DeltaOp struct {
	Insert     any            `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Len is the number of positions the op covers.
func (op DeltaOp) Len() int {
	switch v := op.Insert.(type) {
	case string:
		return utf8.RuneCountInString(v)
	case map[string]any:
		return 1
	}
	if op.Retain > 0 {
		return op.Retain
	}
	return op.Delete
}

// Text is replicated rich text. Each rune is one unit; embeds are one unit
// and can never be split by a concurrent edit. Every unit is an automerge map
// so concurrent formatting of different attributes merges.
type Text struct {
	base
	seq sequence
}

func newText(d *Doc, id ID, parent *Map, key string) *Text {
	return &Text{base: base{doc: d, id: id, kind: kindText, parent: parent, key: key}}
}

func (t *Text) Len() int {
	return t.seq.visibleLen()
}

// String returns the plain text with embeds left out.
func (t *Text) String() string {
	var b strings.Builder
	for _, el := range t.seq.visible() {
		if s, ok := el.content.(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// Delta returns the content as insert ops, merging adjacent runs that share
// attributes.
func (t *Text) Delta() []DeltaOp {
	var out []DeltaOp
	for _, el := range t.seq.visible() {
		out = appendDelta(out, DeltaOp{Insert: el.content, Attributes: copyAttrs(el.attrs)})
	}
	return out
}

func (t *Text) Insert(tx *Transaction, index int, s string, attrs map[string]any) error {
	if err := tx.check(t.doc); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	values := make([]any, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		values = append(values, string(r))
	}
	return t.insertValues(tx, index, values, attrs)
}

// InsertEmbed inserts an atomic inline element.
func (t *Text) InsertEmbed(tx *Transaction, index int, embed map[string]any, attrs map[string]any) error {
	if err := tx.check(t.doc); err != nil {
		return err
	}
	if len(embed) == 0 {
		return fmt.Errorf("%w: empty embed", ErrUnsupportedValue)
	}
	v, err := normalize(embed)
	if err != nil {
		return err
	}
	return t.insertValues(tx, index, []any{v}, attrs)
}

func (t *Text) insertValues(tx *Transaction, index int, values []any, attrs map[string]any) error {
	a, err := normalizeAttrs(attrs)
	if err != nil {
		return err
	}
	for k, v := range a {
		if v == nil {
			delete(a, k)
		}
	}
	if len(a) == 0 {
		a = nil
	}
	storedAttrs, err := encodeAttrs(a)
	if err != nil {
		return err
	}
	slot, err := t.seq.insertAt(index)
	if err != nil {
		return err
	}

	elems := make([]*element, len(values))
	for i, v := range values {
		elems[i] = &element{id: t.doc.nextID(), content: v, attrs: a}
	}
	var embed []byte
	if e, ok := values[0].(map[string]any); ok {
		raw, err := encodeValue(e)
		if err != nil {
			return err
		}
		embed = raw.([]byte)
	}
	tx.touchSeq(t, &t.seq)
	t.seq.splice(slot, elems)
	tx.record(t, func() error {
		for i, el := range elems {
			unit := automerge.NewMap()
			if err := t.seq.items.Insert(slot+i, unit); err != nil {
				return err
			}
			if err := unit.Set(keyID, el.id.String()); err != nil {
				return err
			}
			if s, ok := el.content.(string); ok {
				if err := unit.Set(unitText, s); err != nil {
					return err
				}
			} else if err := unit.Set(unitEmbed, embed); err != nil {
				return err
			}
			for k, v := range storedAttrs {
				if err := unit.Set(attrPrefix+k, v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return nil
}

func (t *Text) Delete(tx *Transaction, index, length int) error {
	if err := tx.check(t.doc); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	slots, err := t.seq.rangeAt(index, length)
	if err != nil {
		return err
	}
	t.seq.remove(tx, t, slots)
	return nil
}

// Format sets attributes on a range; a nil value removes the attribute.
// Embeds in the range keep no formatting.
func (t *Text) Format(tx *Transaction, index, length int, attrs map[string]any) error {
	if err := tx.check(t.doc); err != nil {
		return err
	}
	if length == 0 || len(attrs) == 0 {
		return nil
	}
	a, err := normalizeAttrs(attrs)
	if err != nil {
		return err
	}
	stored, err := encodeAttrs(a)
	if err != nil {
		return err
	}
	slots, err := t.seq.rangeAt(index, length)
	if err != nil {
		return err
	}
	for _, slot := range slots {
		el := t.seq.elems[slot]
		if el.isEmbed() {
			continue
		}
		changed := make(map[string]any)
		for k, v := range a {
			old, had := el.attrs[k]
			switch {
			case v == nil && had:
				changed[k] = nil
			case v != nil && (!had || !valuesEqual(old, v)):
				changed[k] = stored[k]
			}
		}
		if len(changed) == 0 {
			continue
		}
		tx.touchSeq(t, &t.seq)
		next := copyAttrs(el.attrs)
		for k := range changed {
			if a[k] == nil {
				delete(next, k)
				continue
			}
			if next == nil {
				next = make(map[string]any)
			}
			next[k] = a[k]
		}
		if len(next) == 0 {
			next = nil
		}
		el.attrs = next

		slot := slot
		tx.record(t, func() error {
			v, err := t.seq.items.Get(slot)
			if err != nil {
				return err
			}
			if v.Kind() != automerge.KindMap {
				return fmt.Errorf("%w: text unit is %v", ErrTypeMismatch, v.Kind())
			}
			unit := v.Map()
			for k, enc := range changed {
				if enc == nil {
					err = unit.Delete(attrPrefix + k)
				} else {
					err = unit.Set(attrPrefix+k, enc)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return nil
}

// ApplyDelta applies a change delta in one pass over the current content.
func (t *Text) ApplyDelta(tx *Transaction, delta []DeltaOp) error {
	pos := 0
	for _, op := range delta {
		switch {
		case op.Insert != nil:
			switch v := op.Insert.(type) {
			case string:
				if err := t.Insert(tx, pos, v, op.Attributes); err != nil {
					return err
				}
			case map[string]any:
				if err := t.InsertEmbed(tx, pos, v, op.Attributes); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: insert of %T", ErrUnsupportedValue, op.Insert)
			}
			pos += op.Len()
		case op.Retain > 0:
			if len(op.Attributes) > 0 {
				if err := t.Format(tx, pos, op.Retain, op.Attributes); err != nil {
					return err
				}
			} else if pos+op.Retain > t.Len() {
				return fmt.Errorf("%w: retain %d at %d", ErrOutOfRange, op.Retain, pos)
			}
			pos += op.Retain
		case op.Delete > 0:
			if err := t.Delete(tx, pos, op.Delete); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendDelta appends op, merging it into the previous op when both are
// string inserts, retains or deletes with equal attributes.
func appendDelta(delta []DeltaOp, op DeltaOp) []DeltaOp {
	n := len(delta)
	if n == 0 {
		return append(delta, op)
	}
	last := &delta[n-1]
	switch {
	case op.Delete > 0 && last.Delete > 0:
		last.Delete += op.Delete
		return delta
	case op.Retain > 0 && last.Retain > 0 && attrsEqual(op.Attributes, last.Attributes):
		last.Retain += op.Retain
		return delta
	case op.Insert != nil && last.Insert != nil && attrsEqual(op.Attributes, last.Attributes):
		ls, lok := last.Insert.(string)
		os, ook := op.Insert.(string)
		if lok && ook {
			last.Insert = ls + os
			return delta
		}
	}
	return append(delta, op)
}
