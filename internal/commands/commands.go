// Package commands expands block-level editing gestures into the primitive
// editor operations. The operations are computed against the current tree and
// must be applied in order; each one assumes the previous ones already ran.
package commands

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/pkg/delta"
)

var (
	ErrUnknownBlock  = errors.New("commands: unknown block")
	ErrUnsupported   = errors.New("commands: unsupported on this block")
	ErrInvalidOffset = errors.New("commands: offset outside the block text")
)

// Reader is the read side of the editor tree. *editor.Tree satisfies it.
type Reader interface {
	Root() *editor.Node
	Node(id string) (*editor.Node, bool)
	Parent(id string) (string, bool)
	Index(id string) int
}

type Option func(*Builder)

// WithIDs replaces the block id generator.
func WithIDs(next func() string) Option {
	return func(b *Builder) { b.newID = next }
}

type Builder struct {
	tree  Reader
	newID func() string
}

func New(tree Reader, opts ...Option) *Builder {
	b := &Builder{tree: tree, newID: uuid.NewString}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) node(id string) (*editor.Node, error) {
	n, ok := b.tree.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
	}
	return n, nil
}

// blank returns a childless block of type t with the given text.
func (b *Builder) blank(t document.BlockType, data map[string]any, text delta.Delta) *editor.Node {
	id := b.newID()
	n := &editor.Node{ID: id, Type: t, Data: data}
	if n.Data == nil {
		n.Data = document.DefaultData(t)
	}
	if t.HasText() {
		n.TextID = id
		n.Text = text
	}
	return n
}

// transfer moves every child of from under to, starting at index.
func transfer(from *editor.Node, to string, index int) []editor.Operation {
	ops := make([]editor.Operation, 0, len(from.Children))
	for i, c := range from.Children {
		ops = append(ops, editor.MoveNode{ID: c.ID, ParentID: to, Index: index + i})
	}
	return ops
}

// TurnInto replaces a block by a fresh one of type to at the same position.
// The text and the children carry over. Text is dropped when to owns none.
// Nil data means the defaults of to.
func (b *Builder) TurnInto(id string, to document.BlockType, data map[string]any) ([]editor.Operation, string, error) {
	if !to.Valid() || to == document.Page {
		return nil, "", fmt.Errorf("%w: turn into %s", ErrUnsupported, to)
	}
	if data != nil {
		if _, err := document.DecodeData(to, data); err != nil {
			return nil, "", err
		}
		data = cloneData(data)
	} else if _, err := document.DecodeData(to, document.DefaultData(to)); err != nil {
		return nil, "", fmt.Errorf("%w: %s needs data", ErrUnsupported, to)
	}
	src, err := b.node(id)
	if err != nil {
		return nil, "", err
	}
	parent, ok := b.tree.Parent(id)
	if !ok {
		return nil, "", fmt.Errorf("%w: root block", ErrUnsupported)
	}

	fresh := b.blank(to, data, src.Text)
	ops := []editor.Operation{editor.InsertNode{ParentID: parent, Index: b.tree.Index(id), Node: fresh}}
	ops = append(ops, transfer(src, fresh.ID, 0)...)
	ops = append(ops, editor.RemoveNode{ID: id})
	return ops, fresh.ID, nil
}

// splitType is the type of the block created by breaking a line in n.
func splitType(n *editor.Node) document.BlockType {
	switch n.Type {
	case document.Toggle:
		if collapsed, _ := n.Data["collapsed"].(bool); !collapsed {
			return document.Paragraph
		}
		return n.Type
	case document.Heading, document.Quote:
		return document.Paragraph
	}
	return n.Type
}

func keepsTypeAtStart(t document.BlockType) bool {
	switch t {
	case document.Todo, document.BulletedList, document.NumberedList:
		return true
	}
	return false
}

// Split breaks a block's text at offset. The tail moves into a new block that
// follows it and takes over its children. An expanded toggle keeps its
// children and gets the new block as its first child instead. Breaking at the
// start of an empty block turns it into a paragraph; at the start of a
// non-empty one an empty block is placed before it. The returned id is the
// block the caret should land in.
func (b *Builder) Split(id string, offset int) ([]editor.Operation, string, error) {
	src, err := b.node(id)
	if err != nil {
		return nil, "", err
	}
	if !src.Type.HasText() {
		return nil, "", fmt.Errorf("%w: %s has no text", ErrUnsupported, src.Type)
	}
	parent, ok := b.tree.Parent(id)
	if !ok {
		return nil, "", fmt.Errorf("%w: root block", ErrUnsupported)
	}
	length := src.Text.Length()
	if offset < 0 || offset > length {
		return nil, "", fmt.Errorf("%w: %d of %d", ErrInvalidOffset, offset, length)
	}

	if offset == 0 {
		if length == 0 && src.Type != document.Paragraph {
			ops, _, err := b.TurnInto(id, document.Paragraph, nil)
			if err != nil {
				return nil, "", err
			}
			// caret stays on the converted block
			return ops, ops[0].(editor.InsertNode).Node.ID, nil
		}
		t, data := document.Paragraph, map[string]any(nil)
		if keepsTypeAtStart(src.Type) {
			t, data = src.Type, cloneData(src.Data)
		}
		fresh := b.blank(t, data, nil)
		return []editor.Operation{
			editor.InsertNode{ParentID: parent, Index: b.tree.Index(id), Node: fresh},
		}, id, nil
	}

	var ops []editor.Operation
	if offset < length {
		ops = append(ops, editor.TextEdit{TextID: src.TextID, Delta: delta.Delta{
			delta.Retain(offset, nil),
			delta.Delete(length - offset),
		}})
	}
	fresh := b.blank(splitType(src), nil, delta.Slice(src.Text, offset, length))

	if src.Type == document.Toggle {
		if collapsed, _ := src.Data["collapsed"].(bool); !collapsed {
			ops = append(ops, editor.InsertNode{ParentID: id, Index: 0, Node: fresh})
			return ops, fresh.ID, nil
		}
		ops = append(ops, editor.InsertNode{ParentID: parent, Index: b.tree.Index(id) + 1, Node: fresh})
		return ops, fresh.ID, nil
	}
	ops = append(ops, editor.InsertNode{ParentID: parent, Index: b.tree.Index(id) + 1, Node: fresh})
	ops = append(ops, transfer(src, fresh.ID, 0)...)
	return ops, fresh.ID, nil
}

// Merge appends the text of source to target and removes source. Children of
// source go to the front of target when target's type accepts them, otherwise
// they are placed right after target.
func (b *Builder) Merge(sourceID, targetID string) ([]editor.Operation, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: merge %s into itself", ErrUnsupported, sourceID)
	}
	src, err := b.node(sourceID)
	if err != nil {
		return nil, err
	}
	dst, err := b.node(targetID)
	if err != nil {
		return nil, err
	}
	if !src.Type.HasText() || !dst.Type.HasText() {
		return nil, fmt.Errorf("%w: merge %s into %s", ErrUnsupported, src.Type, dst.Type)
	}
	srcParent, ok := b.tree.Parent(sourceID)
	if !ok {
		return nil, fmt.Errorf("%w: root block", ErrUnsupported)
	}
	if b.isAncestor(sourceID, targetID) {
		return nil, fmt.Errorf("%w: %s is inside %s", ErrUnsupported, targetID, sourceID)
	}

	var ops []editor.Operation
	if len(src.Text) > 0 {
		var d delta.Delta
		if n := dst.Text.Length(); n > 0 {
			d = append(d, delta.Retain(n, nil))
		}
		ops = append(ops, editor.TextEdit{TextID: dst.TextID, Delta: append(d, src.Text...)})
	}

	switch dstParent, hasParent := b.tree.Parent(targetID); {
	case dst.Type.AcceptsMergedChildren():
		ops = append(ops, transfer(src, targetID, 0)...)
	case hasParent:
		ops = append(ops, transfer(src, dstParent, b.tree.Index(targetID)+1)...)
	default:
		// merging into the page title
		ops = append(ops, transfer(src, srcParent, b.tree.Index(sourceID))...)
	}
	ops = append(ops, editor.RemoveNode{ID: sourceID})
	return ops, nil
}

// Lift moves a block out of its parent, right after it.
func (b *Builder) Lift(id string) ([]editor.Operation, error) {
	if _, err := b.node(id); err != nil {
		return nil, err
	}
	parent, ok := b.tree.Parent(id)
	if !ok {
		return nil, fmt.Errorf("%w: root block", ErrUnsupported)
	}
	grand, ok := b.tree.Parent(parent)
	if !ok {
		return nil, fmt.Errorf("%w: %s is already top level", ErrUnsupported, id)
	}
	return []editor.Operation{
		editor.MoveNode{ID: id, ParentID: grand, Index: b.tree.Index(parent) + 1},
	}, nil
}

// InsertParagraph places an empty paragraph under parentID at index.
func (b *Builder) InsertParagraph(parentID string, index int) ([]editor.Operation, string, error) {
	if _, err := b.node(parentID); err != nil {
		return nil, "", err
	}
	fresh := b.blank(document.Paragraph, nil, nil)
	return []editor.Operation{editor.InsertNode{ParentID: parentID, Index: index, Node: fresh}}, fresh.ID, nil
}

// ClearDocument removes every block below the page and leaves a single empty
// paragraph.
func (b *Builder) ClearDocument() ([]editor.Operation, string, error) {
	root := b.tree.Root()
	if root == nil {
		return nil, "", fmt.Errorf("%w: no document", ErrUnknownBlock)
	}
	ops := make([]editor.Operation, 0, len(root.Children)+1)
	for _, c := range root.Children {
		ops = append(ops, editor.RemoveNode{ID: c.ID})
	}
	fresh := b.blank(document.Paragraph, nil, nil)
	ops = append(ops, editor.InsertNode{ParentID: root.ID, Index: 0, Node: fresh})
	return ops, fresh.ID, nil
}

func (b *Builder) isAncestor(ancestor, id string) bool {
	for cur, ok := b.tree.Parent(id); ok; cur, ok = b.tree.Parent(cur) {
		if cur == ancestor {
			return true
		}
	}
	return false
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
