// Package editor defines the tree-editor surface the sync layer talks to: the
// five operation kinds and the Editor interface, plus Tree, an in-memory
// editor used by tools and tests.
package editor

import (
	"fmt"

	"notefiber-collab/internal/document"
	"notefiber-collab/pkg/delta"
)

type Kind uint8

const (
	KindInsertNode Kind = iota + 1
	KindRemoveNode
	KindSetNode
	KindMoveNode
	KindTextEdit
)

func (k Kind) String() string {
	switch k {
	case KindInsertNode:
		return "insert_node"
	case KindRemoveNode:
		return "remove_node"
	case KindSetNode:
		return "set_node"
	case KindMoveNode:
		return "move_node"
	case KindTextEdit:
		return "text_edit"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Operation is one of InsertNode, RemoveNode, SetNode, MoveNode or TextEdit.
type Operation interface {
	Kind() Kind
	isOperation()
}

// Node is a block with its inline text and subtree.
type Node struct {
	ID       string
	Type     document.BlockType
	Data     map[string]any
	TextID   string
	Text     delta.Delta
	Children []*Node
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		ID:     n.ID,
		Type:   n.Type,
		TextID: n.TextID,
		Text:   append(delta.Delta(nil), n.Text...),
	}
	if n.Data != nil {
		out.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			out.Data[k] = v
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// Walk visits n and its subtree in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// InsertNode adds a subtree under ParentID at Index.
type InsertNode struct {
	ParentID string
	Index    int
	Node     *Node
}

// RemoveNode removes a block and everything below it.
type RemoveNode struct {
	ID string
}

// SetNode merges Data into the block's data; nil values delete keys.
type SetNode struct {
	ID   string
	Data map[string]any
}

// MoveNode re-parents a block. Index counts positions in the new parent
// after the block has been taken out.
type MoveNode struct {
	ID       string
	ParentID string
	Index    int
}

// TextEdit applies a change delta to one text.
type TextEdit struct {
	TextID string
	Delta  delta.Delta
}

func (InsertNode) Kind() Kind { return KindInsertNode }
func (RemoveNode) Kind() Kind { return KindRemoveNode }
func (SetNode) Kind() Kind    { return KindSetNode }
func (MoveNode) Kind() Kind   { return KindMoveNode }
func (TextEdit) Kind() Kind   { return KindTextEdit }

func (InsertNode) isOperation() {}
func (RemoveNode) isOperation() {}
func (SetNode) isOperation()    {}
func (MoveNode) isOperation()   {}
func (TextEdit) isOperation()   {}

// Editor is the local tree the sync layer keeps consistent with the shared
// document. Apply must not feed the operation back into the outbound path.
type Editor interface {
	// Materialize replaces the whole tree.
	Materialize(root *Node) error
	Apply(op Operation) error
}

// Describe renders an operation for logs.
func Describe(op Operation) string {
	switch o := op.(type) {
	case InsertNode:
		id := ""
		if o.Node != nil {
			id = o.Node.ID
		}
		return fmt.Sprintf("insert_node(%s under %s at %d)", id, o.ParentID, o.Index)
	case RemoveNode:
		return fmt.Sprintf("remove_node(%s)", o.ID)
	case SetNode:
		return fmt.Sprintf("set_node(%s, %d keys)", o.ID, len(o.Data))
	case MoveNode:
		return fmt.Sprintf("move_node(%s to %s at %d)", o.ID, o.ParentID, o.Index)
	case TextEdit:
		return fmt.Sprintf("text_edit(%s, %s)", o.TextID, o.Delta)
	}
	return fmt.Sprintf("%T", op)
}
