package crdt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"
)

type shared interface {
	meta() *base
}

type base struct {
	doc    *Doc
	id     ID
	kind   kind
	parent *Map
	key    string

	// am is the automerge map holding the type, nil for root maps
	am     *automerge.Map
	rev    int64
	loaded bool
}

func (b *base) meta() *base { return b }

// Path lists the map keys leading from the root map to this type.
func (b *base) Path() []string {
	var path []string
	for cur := b; cur.parent != nil; cur = &cur.parent.base {
		path = append(path, cur.key)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Attached reports whether the type is still reachable from its root: a
// concurrent overwrite of the key holding it detaches it.
func (b *base) Attached() bool {
	self := b
	for self.parent != nil {
		v, ok := self.parent.Get(self.key)
		if !ok {
			return false
		}
		s, ok := v.(shared)
		if !ok || s.meta() != self {
			return false
		}
		self = &self.parent.base
	}
	return true
}

// Map is a last-writer-wins map. Values are primitives or nested shared types.
type Map struct {
	base
	// root is the root name of a root map
	root    string
	entries map[string]any
}

func newMap(d *Doc, id ID, parent *Map, key string) *Map {
	return &Map{
		base:    base{doc: d, id: id, kind: kindMap, parent: parent, key: key},
		entries: make(map[string]any),
	}
}

// slot returns the automerge map and key that hold key of m.
func (m *Map) slot(key string) (*automerge.Map, string) {
	if m.root != "" {
		return m.doc.am.RootMap(), rootKey(m.root, key)
	}
	return m.am, key
}

// Get returns the current value: a primitive, *Map, *Array or *Text.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

func (m *Map) GetMap(key string) (*Map, bool) {
	out, ok := m.entries[key].(*Map)
	return out, ok
}

func (m *Map) GetArray(key string) (*Array, bool) {
	out, ok := m.entries[key].(*Array)
	return out, ok
}

func (m *Map) GetText(key string) (*Text, bool) {
	out, ok := m.entries[key].(*Text)
	return out, ok
}

func (m *Map) GetString(key string) (string, bool) {
	s, ok := m.entries[key].(string)
	return s, ok
}

// Keys returns the present keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Map) Len() int {
	return len(m.entries)
}

func checkKey(key string) error {
	if strings.HasPrefix(key, reserved) {
		return fmt.Errorf("%w: reserved key %q", ErrUnsupportedValue, key)
	}
	return nil
}

// Set stores a primitive value under key.
func (m *Map) Set(tx *Transaction, key string, value any) error {
	if err := tx.check(m.doc); err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("%w: nil value for %q, use Delete", ErrUnsupportedValue, key)
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	enc, err := encodeValue(v)
	if err != nil {
		return err
	}
	tx.touchMap(m)
	m.entries[key] = v
	tx.record(m, func() error {
		st, k := m.slot(key)
		return st.Set(k, enc)
	})
	return nil
}

func (m *Map) Delete(tx *Transaction, key string) error {
	if err := tx.check(m.doc); err != nil {
		return err
	}
	if !m.Has(key) {
		return nil
	}
	tx.touchMap(m)
	delete(m.entries, key)
	tx.record(m, func() error {
		st, k := m.slot(key)
		return st.Delete(k)
	})
	return nil
}

func (m *Map) setType(tx *Transaction, key string, k kind) (shared, error) {
	if err := tx.check(m.doc); err != nil {
		return nil, err
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	id := m.doc.nextID()
	var t shared
	switch k {
	case kindMap:
		t = newMap(m.doc, id, m, key)
	case kindArray:
		t = newArray(m.doc, id, m, key)
	default:
		t = newText(m.doc, id, m, key)
	}
	t.meta().loaded = true
	m.doc.types[id] = t
	tx.markCreated(t)

	tx.touchMap(m)
	m.entries[key] = t
	tx.record(m, func() error {
		st, slot := m.slot(key)
		obj, list, err := newNested(st, slot, k, id)
		if err != nil {
			return err
		}
		t.meta().am = obj
		switch v := t.(type) {
		case *Array:
			v.seq.items = list
		case *Text:
			v.seq.items = list
		}
		return nil
	})
	return t, nil
}

// SetMap stores a new empty map under key and returns it.
func (m *Map) SetMap(tx *Transaction, key string) (*Map, error) {
	t, err := m.setType(tx, key, kindMap)
	if err != nil {
		return nil, err
	}
	return t.(*Map), nil
}

func (m *Map) SetArray(tx *Transaction, key string) (*Array, error) {
	t, err := m.setType(tx, key, kindArray)
	if err != nil {
		return nil, err
	}
	return t.(*Array), nil
}

func (m *Map) SetText(tx *Transaction, key string) (*Text, error) {
	t, err := m.setType(tx, key, kindText)
	if err != nil {
		return nil, err
	}
	return t.(*Text), nil
}

// ToJSON renders the map recursively as plain values.
func (m *Map) ToJSON() map[string]any {
	out := make(map[string]any, len(m.entries))
	for k, v := range m.entries {
		out[k] = toJSON(v)
	}
	return out
}

func toJSON(v any) any {
	switch val := v.(type) {
	case *Map:
		return val.ToJSON()
	case *Array:
		return val.ToSlice()
	case *Text:
		ops := val.Delta()
		out := make([]any, len(ops))
		for i, op := range ops {
			out[i] = op
		}
		return out
	}
	return v
}
