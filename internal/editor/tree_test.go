package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/internal/document"
	"notefiber-collab/pkg/delta"
)

func paragraph(id, text string) *Node {
	return &Node{ID: id, Type: document.Paragraph, TextID: id, Text: delta.Delta{delta.Insert(text, nil)}}
}

func newTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree()
	require.NoError(t, tree.Materialize(&Node{
		ID:     "page",
		Type:   document.Page,
		TextID: "page",
		Children: []*Node{
			paragraph("a", "first"),
			paragraph("b", "second"),
		},
	}))
	return tree
}

func TestTreeApply(t *testing.T) {
	tree := newTree(t)

	nested := paragraph("c", "third")
	nested.Children = []*Node{paragraph("c1", "child")}
	require.NoError(t, tree.Apply(InsertNode{ParentID: "page", Index: 1, Node: nested}))
	assert.Equal(t, []string{"a", "c", "b"}, tree.Children("page"))
	assert.Equal(t, []string{"c1"}, tree.Children("c"))

	require.NoError(t, tree.Apply(MoveNode{ID: "c1", ParentID: "a", Index: 0}))
	parent, ok := tree.Parent("c1")
	require.True(t, ok)
	assert.Equal(t, "a", parent)

	require.NoError(t, tree.Apply(SetNode{ID: "a", Data: map[string]any{"checked": true}}))
	require.NoError(t, tree.Apply(SetNode{ID: "a", Data: map[string]any{"checked": nil, "color": "red"}}))
	a, ok := tree.Node("a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"color": "red"}, a.Data)

	require.NoError(t, tree.Apply(TextEdit{TextID: "b", Delta: delta.Delta{delta.Retain(6, nil), delta.Insert("!", nil)}}))
	text, ok := tree.Text("b")
	require.True(t, ok)
	assert.Equal(t, "second!", text.PlainText())

	require.NoError(t, tree.Apply(RemoveNode{ID: "a"}))
	assert.False(t, tree.Has("a"))
	assert.False(t, tree.Has("c1"))
	_, ok = tree.Text("c1")
	assert.False(t, ok)
	assert.Equal(t, 3, tree.Len())
}

func TestTreeRejects(t *testing.T) {
	tree := newTree(t)

	tests := []struct {
		name string
		op   Operation
		err  error
	}{
		{name: "insert under missing parent", op: InsertNode{ParentID: "zz", Node: paragraph("n", "")}, err: ErrNodeNotFound},
		{name: "insert duplicate id", op: InsertNode{ParentID: "page", Node: paragraph("a", "")}, err: ErrInvalidOperation},
		{name: "remove root", op: RemoveNode{ID: "page"}, err: ErrInvalidOperation},
		{name: "move into itself", op: MoveNode{ID: "a", ParentID: "a"}, err: ErrInvalidOperation},
		{name: "edit missing text", op: TextEdit{TextID: "zz"}, err: ErrNodeNotFound},
		{name: "edit past the end", op: TextEdit{TextID: "a", Delta: delta.Delta{delta.Delete(50)}}, err: ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tree.Apply(tt.op), tt.err)
		})
	}
	assert.Equal(t, []string{"a", "b"}, tree.Children("page"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "move_node(x to y at 2)", Describe(MoveNode{ID: "x", ParentID: "y", Index: 2}))
	assert.Equal(t, "remove_node", KindRemoveNode.String())
}
