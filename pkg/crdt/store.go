package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"
)

// Layout of the automerge document. Root map entries live at the automerge
// root under "<root name>\x1f<key>". A nested type is an automerge map
// carrying its kind, its id and a revision counter; sequences keep their
// elements in an automerge list under keyItems. Keys starting with NUL are
// reserved for this bookkeeping.
const (
	rootSep  = "\x1f"
	reserved = "\x00"
	keyKind  = "\x00kind"
	keyID    = "\x00id"
	keyRev   = "\x00rev"
	keyItems = "\x00items"

	// text units are automerge maps
	unitText   = "t"
	unitEmbed  = "e"
	attrPrefix = "a:"
)

type kind string

const (
	kindMap   kind = "map"
	kindArray kind = "array"
	kindText  kind = "text"
)

// arrayElement is the stored form of one array element.
type arrayElement struct {
	ID string `json:"id"`
	V  any    `json:"v"`
}

func rootKey(name, key string) string {
	return name + rootSep + key
}

// reload brings the mirror in line with the automerge document. Changes are
// recorded in tx for event delivery; a nil tx records nothing. Unless force
// is set, nested types whose revision did not move are not read again.
func (d *Doc) reload(tx *Transaction, force bool) error {
	values, err := d.am.RootMap().Values()
	if err != nil {
		return err
	}
	grouped := make(map[string]map[string]*automerge.Value)
	for k, v := range values {
		name, key, ok := strings.Cut(k, rootSep)
		if !ok {
			continue
		}
		if grouped[name] == nil {
			grouped[name] = make(map[string]*automerge.Value)
		}
		grouped[name][key] = v
	}
	names := make([]string, 0, len(grouped)+len(d.roots))
	for name := range grouped {
		names = append(names, name)
	}
	for name := range d.roots {
		if _, ok := grouped[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.loadEntries(tx, d.GetMap(name), grouped[name], force); err != nil {
			return err
		}
	}
	return nil
}

func (d *Doc) loadEntries(tx *Transaction, m *Map, raw map[string]*automerge.Value, force bool) error {
	next := make(map[string]any, len(raw))
	for key, v := range raw {
		if strings.HasPrefix(key, reserved) {
			continue
		}
		if val, ok := d.decode(v, m, key); ok {
			next[key] = val
		}
	}
	if !entriesEqual(m.entries, next) {
		if tx != nil {
			tx.touchMap(m)
		}
		m.entries = next
	}
	for _, key := range m.Keys() {
		if s, ok := m.entries[key].(shared); ok {
			if err := d.load(tx, s, force); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Doc) decode(v *automerge.Value, parent *Map, key string) (any, bool) {
	if v.Kind() == automerge.KindMap {
		return d.bind(v.Map(), parent, key)
	}
	return decodeValue(v)
}

// bind returns the nested type stored in obj, reusing the mirror node that
// already represents it.
func (d *Doc) bind(obj *automerge.Map, parent *Map, key string) (shared, bool) {
	kv, err := obj.Get(keyKind)
	if err != nil || kv.Kind() != automerge.KindStr {
		return nil, false
	}
	iv, err := obj.Get(keyID)
	if err != nil || iv.Kind() != automerge.KindStr {
		return nil, false
	}
	id, ok := parseID(iv.Str())
	if !ok {
		return nil, false
	}
	k := kind(kv.Str())
	if t, ok := d.types[id]; ok && t.meta().kind == k {
		b := t.meta()
		b.am, b.parent, b.key = obj, parent, key
		return t, true
	}

	var t shared
	switch k {
	case kindMap:
		t = newMap(d, id, parent, key)
	case kindArray:
		t = newArray(d, id, parent, key)
	case kindText:
		t = newText(d, id, parent, key)
	default:
		return nil, false
	}
	t.meta().am = obj
	d.observeClock(id)
	d.types[id] = t
	return t, true
}

// load refreshes the mirror of one nested type. Content of a type seen for
// the first time is not reported as a change: its creation is.
func (d *Doc) load(tx *Transaction, t shared, force bool) error {
	b := t.meta()
	rev := readRev(b.am)
	if b.loaded && !force && rev == b.rev {
		if m, ok := t.(*Map); ok {
			for _, key := range m.Keys() {
				if s, ok := m.entries[key].(shared); ok {
					if err := d.load(tx, s, force); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	if !b.loaded {
		tx = nil
	}

	switch v := t.(type) {
	case *Map:
		values, err := b.am.Values()
		if err != nil {
			return err
		}
		if err := d.loadEntries(tx, v, values, force); err != nil {
			return err
		}
	case *Array:
		if err := d.loadSeq(tx, v, &v.seq, d.decodeElement); err != nil {
			return err
		}
	case *Text:
		if err := d.loadSeq(tx, v, &v.seq, d.decodeUnit); err != nil {
			return err
		}
	}
	b.rev = rev
	b.loaded = true
	return nil
}

func (d *Doc) loadSeq(tx *Transaction, t shared, s *sequence, decode func(*automerge.Value) *element) error {
	b := t.meta()
	lv, err := b.am.Get(keyItems)
	if err != nil {
		return err
	}
	var elems []*element
	s.items = nil
	if lv.Kind() == automerge.KindList {
		s.items = lv.List()
		values, err := s.items.Values()
		if err != nil {
			return err
		}
		elems = make([]*element, len(values))
		for i, v := range values {
			elems[i] = decode(v)
		}
	}
	if !elemsEqual(s.elems, elems) {
		if tx != nil {
			tx.touchSeq(t, s)
		}
		s.elems = elems
	}
	return nil
}

// decodeElement reads an array element. Elements this package did not write
// stay in place, hidden, so positions keep matching the automerge list.
func (d *Doc) decodeElement(v *automerge.Value) *element {
	if v.Kind() != automerge.KindStr {
		return &element{hidden: true}
	}
	var raw arrayElement
	if err := json.Unmarshal([]byte(v.Str()), &raw); err != nil || raw.V == nil {
		return &element{hidden: true}
	}
	id, ok := parseID(raw.ID)
	if !ok {
		return &element{hidden: true}
	}
	d.observeClock(id)
	return &element{id: id, content: raw.V}
}

func (d *Doc) decodeUnit(v *automerge.Value) *element {
	if v.Kind() != automerge.KindMap {
		return &element{hidden: true}
	}
	values, err := v.Map().Values()
	if err != nil {
		return &element{hidden: true}
	}
	iv, ok := values[keyID]
	if !ok || iv.Kind() != automerge.KindStr {
		return &element{hidden: true}
	}
	id, ok := parseID(iv.Str())
	if !ok {
		return &element{hidden: true}
	}
	el := &element{id: id}
	if tv, ok := values[unitText]; ok && tv.Kind() == automerge.KindStr && tv.Str() != "" {
		el.content = tv.Str()
	} else if ev, ok := values[unitEmbed]; ok {
		embed, ok := decodeValue(ev)
		if _, isMap := embed.(map[string]any); !ok || !isMap {
			return &element{hidden: true}
		}
		el.content = embed
	} else {
		return &element{hidden: true}
	}
	for k, av := range values {
		name, ok := strings.CutPrefix(k, attrPrefix)
		if !ok {
			continue
		}
		if val, ok := decodeValue(av); ok {
			if el.attrs == nil {
				el.attrs = make(map[string]any)
			}
			el.attrs[name] = val
		}
	}
	d.observeClock(id)
	return el
}

func readRev(obj *automerge.Map) int64 {
	v, err := obj.Get(keyRev)
	if err != nil || v.Kind() != automerge.KindCounter {
		return 0
	}
	n, err := v.Counter().Get()
	if err != nil {
		return 0
	}
	return n
}

// newNested writes an empty nested type into slot key of st.
func newNested(st *automerge.Map, key string, k kind, id ID) (*automerge.Map, *automerge.List, error) {
	obj := automerge.NewMap()
	if err := st.Set(key, obj); err != nil {
		return nil, nil, err
	}
	if err := obj.Set(keyKind, string(k)); err != nil {
		return nil, nil, err
	}
	if err := obj.Set(keyID, id.String()); err != nil {
		return nil, nil, err
	}
	if err := obj.Set(keyRev, automerge.NewCounter(0)); err != nil {
		return nil, nil, err
	}
	if k == kindMap {
		return obj, nil, nil
	}
	list := automerge.NewList()
	if err := obj.Set(keyItems, list); err != nil {
		return nil, nil, err
	}
	return obj, list, nil
}

func bumpRev(obj *automerge.Map) error {
	v, err := obj.Get(keyRev)
	if err != nil {
		return err
	}
	if v.Kind() != automerge.KindCounter {
		return fmt.Errorf("%w: revision is %v", ErrTypeMismatch, v.Kind())
	}
	return v.Counter().Inc(1)
}

func entriesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !sameValue(av, bv) {
			return false
		}
	}
	return true
}

func elemsEqual(a, b []*element) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].hidden != b[i].hidden || a[i].id != b[i].id ||
			!valuesEqual(a[i].content, b[i].content) || !attrsEqual(a[i].attrs, b[i].attrs) {
			return false
		}
	}
	return true
}
