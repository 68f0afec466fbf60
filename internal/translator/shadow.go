package translator

import (
	"fmt"

	"notefiber-collab/internal/bridge"
	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
)

// shadow mirrors the structure the editor currently shows: which blocks are
// present and in what order. Inbound translation diffs it against the
// document after a remote change.
type shadow struct {
	root     string
	children map[string][]string
	parent   map[string]string
}

func newShadow() *shadow {
	return &shadow{
		children: make(map[string][]string),
		parent:   make(map[string]string),
	}
}

func snapshotShadow(m *document.Model) (*shadow, error) {
	root, err := m.GetRoot()
	if err != nil {
		return nil, err
	}
	s := newShadow()
	s.root = root
	var walk func(string) error
	walk = func(id string) error {
		children, err := m.GetChildren(id)
		if err != nil {
			return err
		}
		s.children[id] = children
		for _, c := range children {
			if _, seen := s.parent[c]; seen || c == root {
				continue
			}
			s.parent[c] = id
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	s.children[root] = nil
	return s, walk(root)
}

func (s *shadow) clone() *shadow {
	out := newShadow()
	out.root = s.root
	for k, v := range s.children {
		out.children[k] = append([]string(nil), v...)
	}
	for k, v := range s.parent {
		out.parent[k] = v
	}
	return out
}

func (s *shadow) has(id string) bool {
	_, ok := s.children[id]
	return ok
}

func (s *shadow) depth(id string) int {
	d := 0
	for cur := id; cur != s.root; d++ {
		p, ok := s.parent[cur]
		if !ok {
			return -1
		}
		cur = p
	}
	return d
}

func (s *shadow) detach(id string) {
	p, ok := s.parent[id]
	if !ok {
		return
	}
	list := s.children[p]
	for i, c := range list {
		if c == id {
			s.children[p] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	delete(s.parent, id)
}

func (s *shadow) attach(id, parent string, index int) {
	list := s.children[parent]
	if index > len(list) {
		index = len(list)
	}
	list = append(list, "")
	copy(list[index+1:], list[index:])
	list[index] = id
	s.children[parent] = list
	s.parent[id] = parent
}

func (s *shadow) insert(n *editor.Node, parent string, index int) {
	s.attach(n.ID, parent, index)
	s.addSubtree(n)
}

func (s *shadow) addSubtree(n *editor.Node) {
	ids := make([]string, len(n.Children))
	for i, c := range n.Children {
		ids[i] = c.ID
		s.parent[c.ID] = n.ID
		s.addSubtree(c)
	}
	s.children[n.ID] = ids
}

func (s *shadow) move(id, parent string, index int) {
	s.detach(id)
	s.attach(id, parent, index)
}

func (s *shadow) remove(id string) {
	s.detach(id)
	var drop func(string)
	drop = func(x string) {
		for _, c := range s.children[x] {
			delete(s.parent, c)
			drop(c)
		}
		delete(s.children, x)
	}
	drop(id)
}

// BuildNode reads a block and its subtree from the document into an editor
// node.
func BuildNode(m *document.Model, id string) (*editor.Node, error) {
	return buildNode(m, id, make(map[string]bool))
}

func buildNode(m *document.Model, id string, seen map[string]bool) (*editor.Node, error) {
	if seen[id] {
		return nil, fmt.Errorf("translator: cycle at block %s", id)
	}
	seen[id] = true
	b, err := m.GetBlock(id)
	if err != nil {
		return nil, err
	}
	n := &editor.Node{ID: b.ID, Type: b.Type, Data: b.Data, TextID: b.TextID}
	if b.TextID != "" {
		ops, err := m.GetText(b.TextID)
		if err == nil {
			// unrepresentable pieces are dropped, the rest still renders
			n.Text, _ = bridge.ToLocal(ops)
		}
	}
	children, err := m.GetChildren(id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		child, err := buildNode(m, c, seen)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}
