package editor

import (
	"errors"
	"fmt"

	"notefiber-collab/pkg/delta"
)

var (
	ErrNodeNotFound     = errors.New("editor: node not found")
	ErrInvalidOperation = errors.New("editor: invalid operation")
)

// Tree is an in-memory Editor.
type Tree struct {
	root    *Node
	nodes   map[string]*Node
	parents map[string]*Node
	texts   map[string]*Node
}

func NewTree() *Tree {
	return &Tree{
		nodes:   make(map[string]*Node),
		parents: make(map[string]*Node),
		texts:   make(map[string]*Node),
	}
}

func (t *Tree) Materialize(root *Node) error {
	if root == nil {
		return fmt.Errorf("%w: nil root", ErrInvalidOperation)
	}
	t.root = root.Clone()
	t.nodes = make(map[string]*Node)
	t.parents = make(map[string]*Node)
	t.texts = make(map[string]*Node)
	t.register(t.root, nil)
	return nil
}

func (t *Tree) register(n, parent *Node) {
	t.nodes[n.ID] = n
	if parent != nil {
		t.parents[n.ID] = parent
	}
	if n.TextID != "" {
		t.texts[n.TextID] = n
	}
	for _, c := range n.Children {
		t.register(c, n)
	}
}

func (t *Tree) unregister(n *Node) {
	delete(t.nodes, n.ID)
	delete(t.parents, n.ID)
	if n.TextID != "" {
		delete(t.texts, n.TextID)
	}
	for _, c := range n.Children {
		t.unregister(c)
	}
}

func (t *Tree) Apply(op Operation) error {
	switch o := op.(type) {
	case InsertNode:
		return t.insert(o)
	case RemoveNode:
		return t.remove(o)
	case SetNode:
		return t.set(o)
	case MoveNode:
		return t.move(o)
	case TextEdit:
		return t.editText(o)
	}
	return fmt.Errorf("%w: %T", ErrInvalidOperation, op)
}

func (t *Tree) insert(o InsertNode) error {
	parent, ok := t.nodes[o.ParentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, o.ParentID)
	}
	if o.Node == nil {
		return fmt.Errorf("%w: insert without node", ErrInvalidOperation)
	}
	n := o.Node.Clone()
	var dup error
	n.Walk(func(c *Node) {
		if _, exists := t.nodes[c.ID]; exists && dup == nil {
			dup = fmt.Errorf("%w: node %s already present", ErrInvalidOperation, c.ID)
		}
	})
	if dup != nil {
		return dup
	}
	parent.Children = insertAt(parent.Children, o.Index, n)
	t.register(n, parent)
	return nil
}

func (t *Tree) remove(o RemoveNode) error {
	n, ok := t.nodes[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, o.ID)
	}
	parent, ok := t.parents[o.ID]
	if !ok {
		return fmt.Errorf("%w: cannot remove the root", ErrInvalidOperation)
	}
	parent.Children = without(parent.Children, n)
	t.unregister(n)
	return nil
}

func (t *Tree) set(o SetNode) error {
	n, ok := t.nodes[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, o.ID)
	}
	if n.Data == nil {
		n.Data = make(map[string]any)
	}
	for k, v := range o.Data {
		if v == nil {
			delete(n.Data, k)
			continue
		}
		n.Data[k] = v
	}
	return nil
}

func (t *Tree) move(o MoveNode) error {
	n, ok := t.nodes[o.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, o.ID)
	}
	oldParent, ok := t.parents[o.ID]
	if !ok {
		return fmt.Errorf("%w: cannot move the root", ErrInvalidOperation)
	}
	newParent, ok := t.nodes[o.ParentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, o.ParentID)
	}
	for p := newParent; p != nil; p = t.parents[p.ID] {
		if p == n {
			return fmt.Errorf("%w: %s into its own subtree", ErrInvalidOperation, o.ID)
		}
	}
	oldParent.Children = without(oldParent.Children, n)
	newParent.Children = insertAt(newParent.Children, o.Index, n)
	t.parents[o.ID] = newParent
	return nil
}

func (t *Tree) editText(o TextEdit) error {
	n, ok := t.texts[o.TextID]
	if !ok {
		return fmt.Errorf("%w: text %s", ErrNodeNotFound, o.TextID)
	}
	next, err := delta.Apply(n.Text, o.Delta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	n.Text = next
	return nil
}

func insertAt(list []*Node, index int, n *Node) []*Node {
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	list = append(list, nil)
	copy(list[index+1:], list[index:])
	list[index] = n
	return list
}

func without(list []*Node, n *Node) []*Node {
	out := list[:0]
	for _, c := range list {
		if c != n {
			out = append(out, c)
		}
	}
	return out
}

// Root returns a copy of the whole tree, nil before Materialize.
func (t *Tree) Root() *Node {
	return t.root.Clone()
}

// Node returns a copy of one subtree.
func (t *Tree) Node(id string) (*Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree) Children(id string) []string {
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, len(n.Children))
	for i, c := range n.Children {
		out[i] = c.ID
	}
	return out
}

func (t *Tree) Parent(id string) (string, bool) {
	p, ok := t.parents[id]
	if !ok {
		return "", false
	}
	return p.ID, true
}

// Index returns the position of id among its siblings.
func (t *Tree) Index(id string) int {
	p, ok := t.parents[id]
	if !ok {
		return -1
	}
	for i, c := range p.Children {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tree) Text(textID string) (delta.Delta, bool) {
	n, ok := t.texts[textID]
	if !ok {
		return nil, false
	}
	return append(delta.Delta(nil), n.Text...), true
}

func (t *Tree) Len() int {
	return len(t.nodes)
}
