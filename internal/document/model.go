// Package document exposes a typed, read-only view of the shared document:
// blocks, their ordered children and their inline text.
package document

import (
	"fmt"
	"sort"

	"notefiber-collab/pkg/crdt"
)

// Placement is one live entry of a block id in a children list. A block whose
// every entry would close a cycle is placed at the end of the root page; that
// placement has no entry and Fallback is set.
type Placement struct {
	Parent   string
	Entry    crdt.ID
	Fallback bool
}

// topology is the resolved tree. Entries are applied as moves in item id
// order; a move that would put a block below itself is skipped. When
// concurrent moves leave a block listed under several parents, the last move
// that was applied wins.
type topology struct {
	winner   map[string]Placement
	entries  map[string][]Placement
	children map[string][]string
}

// Model reads the document. Every accessor returns a copy; the model never
// writes.
type Model struct {
	doc     *crdt.Doc
	version uint64
	topo    *topology
}

func NewModel(doc *crdt.Doc) *Model {
	return &Model{doc: doc}
}

func (m *Model) Doc() *crdt.Doc {
	return m.doc
}

func (m *Model) Schema() (Schema, error) {
	return LoadSchema(m.doc)
}

type placedEntry struct {
	child string
	Placement
}

func (m *Model) topology() (*topology, Schema, error) {
	s, err := LoadSchema(m.doc)
	if err != nil {
		return nil, Schema{}, err
	}
	if m.topo != nil && m.version == m.doc.Version() {
		return m.topo, s, nil
	}

	t := &topology{
		winner:   make(map[string]Placement),
		entries:  make(map[string][]Placement),
		children: make(map[string][]string),
	}
	root, _ := s.Document.GetString(KeyPageID)
	parents := s.ChildrenMap.Keys()
	var all []placedEntry
	for _, parent := range parents {
		if !s.Blocks.Has(parent) {
			continue
		}
		arr, ok := s.ChildrenMap.GetArray(parent)
		if !ok {
			continue
		}
		for _, e := range arr.Entries() {
			id, ok := e.Value.(string)
			if !ok || id == root || !s.Blocks.Has(id) {
				continue
			}
			p := Placement{Parent: parent, Entry: e.ID}
			t.entries[id] = append(t.entries[id], p)
			all = append(all, placedEntry{child: id, Placement: p})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Entry.Less(all[j].Entry) })
	var cyclic []string
	for _, e := range all {
		if e.Parent == e.child || t.below(e.Parent, e.child) {
			continue
		}
		t.winner[e.child] = e.Placement
	}
	for id := range t.entries {
		if _, ok := t.winner[id]; !ok {
			cyclic = append(cyclic, id)
		}
	}

	for _, parent := range parents {
		arr, ok := s.ChildrenMap.GetArray(parent)
		if !ok || !s.Blocks.Has(parent) {
			continue
		}
		for _, e := range arr.Entries() {
			id, _ := e.Value.(string)
			if w, ok := t.winner[id]; ok && w.Entry == e.ID {
				t.children[parent] = append(t.children[parent], id)
			}
		}
	}

	if root != "" && s.Blocks.Has(root) && len(cyclic) > 0 {
		latest := func(id string) crdt.ID {
			var last crdt.ID
			for _, p := range t.entries[id] {
				if last.Less(p.Entry) {
					last = p.Entry
				}
			}
			return last
		}
		sort.Slice(cyclic, func(i, j int) bool { return latest(cyclic[i]).Less(latest(cyclic[j])) })
		for _, id := range cyclic {
			t.winner[id] = Placement{Parent: root, Fallback: true}
			t.children[root] = append(t.children[root], id)
		}
	}

	m.topo = t
	m.version = m.doc.Version()
	return t, s, nil
}

// below reports whether id sits in the subtree of ancestor under the moves
// applied so far.
func (t *topology) below(id, ancestor string) bool {
	seen := make(map[string]bool)
	for cur := id; !seen[cur]; {
		seen[cur] = true
		w, ok := t.winner[cur]
		if !ok {
			return false
		}
		if w.Parent == ancestor {
			return true
		}
		cur = w.Parent
	}
	return false
}

// GetRoot returns the id of the root page block.
func (m *Model) GetRoot() (string, error) {
	s, err := LoadSchema(m.doc)
	if err != nil {
		return "", err
	}
	id, ok := s.Document.GetString(KeyPageID)
	if !ok || !s.Blocks.Has(id) {
		return "", fmt.Errorf("%w: root page", ErrNotFound)
	}
	return id, nil
}

func (m *Model) GetBlock(id string) (Block, error) {
	t, s, err := m.topology()
	if err != nil {
		return Block{}, err
	}
	rec, ok := s.Blocks.GetMap(id)
	if !ok {
		return Block{}, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	tag, _ := rec.GetString(KeyType)
	typ, err := ParseBlockType(tag)
	if err != nil {
		return Block{}, fmt.Errorf("%w: block %s: %v", ErrInvalidData, id, err)
	}
	b := Block{ID: id, Type: typ, Data: map[string]any{}}
	if w, ok := t.winner[id]; ok {
		b.ParentID = w.Parent
	}
	if textID, ok := rec.GetString(KeyExternalID); ok {
		b.TextID = textID
	}
	if data, ok := rec.GetMap(KeyData); ok {
		b.Data = data.ToJSON()
	}
	return b, nil
}

func (m *Model) Has(id string) bool {
	s, err := LoadSchema(m.doc)
	return err == nil && s.Blocks.Has(id)
}

// GetChildren returns the resolved, ordered child ids of a block.
func (m *Model) GetChildren(id string) ([]string, error) {
	t, s, err := m.topology()
	if err != nil {
		return nil, err
	}
	if !s.Blocks.Has(id) {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	return append([]string(nil), t.children[id]...), nil
}

// GetText returns the runs of a text as insert ops.
func (m *Model) GetText(textID string) ([]crdt.DeltaOp, error) {
	s, err := LoadSchema(m.doc)
	if err != nil {
		return nil, err
	}
	text, ok := s.TextMap.GetText(textID)
	if !ok {
		return nil, fmt.Errorf("%w: text %s", ErrNotFound, textID)
	}
	return text.Delta(), nil
}

// Placements lists every live entry of a block, winner included.
func (m *Model) Placements(id string) ([]Placement, error) {
	t, _, err := m.topology()
	if err != nil {
		return nil, err
	}
	return append([]Placement(nil), t.entries[id]...), nil
}

// Winner returns the entry that places the block in the tree.
func (m *Model) Winner(id string) (Placement, bool) {
	t, _, err := m.topology()
	if err != nil {
		return Placement{}, false
	}
	p, ok := t.winner[id]
	return p, ok
}

// Descendants lists the subtree below id in pre-order, id excluded.
func (m *Model) Descendants(id string) ([]string, error) {
	t, s, err := m.topology()
	if err != nil {
		return nil, err
	}
	if !s.Blocks.Has(id) {
		return nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
	}
	var out []string
	seen := map[string]bool{id: true}
	var walk func(string)
	walk = func(p string) {
		for _, c := range t.children[p] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out, nil
}

// IsAncestor reports whether ancestor lies on the parent chain of id.
func (m *Model) IsAncestor(ancestor, id string) bool {
	t, _, err := m.topology()
	if err != nil {
		return false
	}
	seen := make(map[string]bool)
	for cur := id; !seen[cur]; {
		seen[cur] = true
		w, ok := t.winner[cur]
		if !ok {
			return false
		}
		if w.Parent == ancestor {
			return true
		}
		cur = w.Parent
	}
	return false
}

// Depth is the number of edges between the root and id, -1 if id is not
// reachable from the root.
func (m *Model) Depth(id string) int {
	root, err := m.GetRoot()
	if err != nil {
		return -1
	}
	t, _, _ := m.topology()
	depth := 0
	seen := make(map[string]bool)
	for cur := id; cur != root; depth++ {
		if seen[cur] {
			return -1
		}
		seen[cur] = true
		w, ok := t.winner[cur]
		if !ok {
			return -1
		}
		cur = w.Parent
	}
	return depth
}

// InsertPosition maps an index in the resolved child list of parent to a
// position in its children array. The block skip, if set, is left out of the
// resolved list. Indices past the end append.
func (m *Model) InsertPosition(parent string, index int, skip string) (int, error) {
	t, s, err := m.topology()
	if err != nil {
		return 0, err
	}
	arr, ok := s.ChildrenMap.GetArray(parent)
	if !ok || !s.Blocks.Has(parent) {
		return 0, fmt.Errorf("%w: children of %s", ErrNotFound, parent)
	}
	var resolved []string
	for _, c := range t.children[parent] {
		if c != skip {
			resolved = append(resolved, c)
		}
	}
	if index < 0 {
		index = 0
	}
	if index >= len(resolved) {
		return arr.Len(), nil
	}
	w := t.winner[resolved[index]]
	if w.Fallback {
		// fallback blocks trail the listed children
		return arr.Len(), nil
	}
	return arr.IndexOf(w.Entry), nil
}
