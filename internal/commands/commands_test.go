package commands

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/internal/collab"
	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/delta"
)

func block(id string, t document.BlockType, text string, children ...*editor.Node) *editor.Node {
	n := &editor.Node{ID: id, Type: t, Data: document.DefaultData(t), Children: children}
	if t.HasText() {
		n.TextID = id
		if text != "" {
			n.Text = delta.Delta{delta.Insert(text, nil)}
		}
	}
	return n
}

func page(children ...*editor.Node) *editor.Node {
	return block("page", document.Page, "", children...)
}

func newTree(t *testing.T, root *editor.Node) *editor.Tree {
	t.Helper()
	tree := editor.NewTree()
	require.NoError(t, tree.Materialize(root))
	return tree
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func apply(t *testing.T, tree *editor.Tree, ops []editor.Operation) {
	t.Helper()
	for _, op := range ops {
		require.NoError(t, tree.Apply(op), editor.Describe(op))
	}
}

func outline(tree *editor.Tree, id string) string {
	kids := tree.Children(id)
	if len(kids) == 0 {
		return id
	}
	parts := make([]string, len(kids))
	for i, c := range kids {
		parts[i] = outline(tree, c)
	}
	return id + "(" + strings.Join(parts, ",") + ")"
}

func plain(t *testing.T, tree *editor.Tree, id string) string {
	t.Helper()
	text, ok := tree.Text(id)
	require.True(t, ok, id)
	return text.PlainText()
}

func TestTurnIntoKeepsTextChildrenAndPosition(t *testing.T) {
	tree := newTree(t, page(
		block("a", document.Paragraph, "first"),
		block("b", document.Paragraph, "Title", block("c", document.Paragraph, ""), block("d", document.Paragraph, "")),
		block("e", document.Paragraph, "last"),
	))
	b := New(tree, WithIDs(sequentialIDs()))

	ops, id, err := b.TurnInto("b", document.Heading, map[string]any{"level": 2})
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "n1", id)
	assert.Equal(t, "page(a,n1(c,d),e)", outline(tree, "page"))
	assert.False(t, tree.Has("b"))
	n, ok := tree.Node(id)
	require.True(t, ok)
	assert.Equal(t, document.Heading, n.Type)
	assert.Equal(t, 2, n.Data["level"])
	assert.Equal(t, "Title", plain(t, tree, id))
}

func TestTurnIntoDividerDropsText(t *testing.T) {
	tree := newTree(t, page(block("a", document.Paragraph, "gone")))
	b := New(tree, WithIDs(sequentialIDs()))

	ops, id, err := b.TurnInto("a", document.Divider, nil)
	require.NoError(t, err)
	apply(t, tree, ops)

	n, ok := tree.Node(id)
	require.True(t, ok)
	assert.Empty(t, n.TextID)
	assert.Empty(t, n.Text)
}

func TestTurnIntoRejects(t *testing.T) {
	tree := newTree(t, page(block("a", document.Paragraph, "x")))
	b := New(tree)

	tests := []struct {
		name string
		id   string
		to   document.BlockType
		data map[string]any
		err  error
	}{
		{"root", "page", document.Heading, nil, ErrUnsupported},
		{"unknown block", "zzz", document.Heading, nil, ErrUnknownBlock},
		{"into page", "a", document.Page, nil, ErrUnsupported},
		{"grid without view", "a", document.GridEmbed, nil, ErrUnsupported},
		{"bad heading level", "a", document.Heading, map[string]any{"level": 9}, document.ErrInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := b.TurnInto(tt.id, tt.to, tt.data)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSplitMovesTailAndChildren(t *testing.T) {
	tree := newTree(t, page(
		block("a", document.Paragraph, "hello world", block("c", document.Paragraph, "child")),
		block("z", document.Paragraph, ""),
	))
	b := New(tree, WithIDs(sequentialIDs()))

	ops, caret, err := b.Split("a", 5)
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "n1", caret)
	assert.Equal(t, "page(a,n1(c),z)", outline(tree, "page"))
	assert.Equal(t, "hello", plain(t, tree, "a"))
	assert.Equal(t, " world", plain(t, tree, "n1"))
}

func TestSplitType(t *testing.T) {
	tests := []struct {
		from document.BlockType
		want document.BlockType
	}{
		{document.Heading, document.Paragraph},
		{document.Quote, document.Paragraph},
		{document.Paragraph, document.Paragraph},
		{document.Todo, document.Todo},
		{document.BulletedList, document.BulletedList},
		{document.NumberedList, document.NumberedList},
		{document.Callout, document.Callout},
	}
	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			tree := newTree(t, page(block("a", tt.from, "abcd")))
			ops, caret, err := New(tree).Split("a", 2)
			require.NoError(t, err)
			apply(t, tree, ops)

			n, ok := tree.Node(caret)
			require.True(t, ok)
			assert.Equal(t, tt.want, n.Type)
			assert.Equal(t, "cd", plain(t, tree, caret))
			assert.Equal(t, "ab", plain(t, tree, "a"))
		})
	}
}

func TestSplitToggle(t *testing.T) {
	t.Run("expanded", func(t *testing.T) {
		toggle := block("t", document.Toggle, "open me", block("c", document.Paragraph, ""))
		tree := newTree(t, page(toggle))
		ops, caret, err := New(tree, WithIDs(sequentialIDs())).Split("t", 4)
		require.NoError(t, err)
		apply(t, tree, ops)

		assert.Equal(t, "page(t(n1,c))", outline(tree, "page"))
		n, _ := tree.Node(caret)
		assert.Equal(t, document.Paragraph, n.Type)
		assert.Equal(t, " me", plain(t, tree, caret))
	})

	t.Run("collapsed", func(t *testing.T) {
		toggle := block("t", document.Toggle, "open me", block("c", document.Paragraph, ""))
		toggle.Data["collapsed"] = true
		tree := newTree(t, page(toggle))
		ops, caret, err := New(tree, WithIDs(sequentialIDs())).Split("t", 4)
		require.NoError(t, err)
		apply(t, tree, ops)

		assert.Equal(t, "page(t(c),n1)", outline(tree, "page"))
		n, _ := tree.Node(caret)
		assert.Equal(t, document.Toggle, n.Type)
	})
}

func TestSplitAtStart(t *testing.T) {
	t.Run("empty heading becomes paragraph", func(t *testing.T) {
		tree := newTree(t, page(block("h", document.Heading, "", block("c", document.Paragraph, ""))))
		ops, caret, err := New(tree, WithIDs(sequentialIDs())).Split("h", 0)
		require.NoError(t, err)
		apply(t, tree, ops)

		assert.Equal(t, "page(n1(c))", outline(tree, "page"))
		assert.Equal(t, "n1", caret)
		n, _ := tree.Node(caret)
		assert.Equal(t, document.Paragraph, n.Type)
	})

	t.Run("todo keeps type and data", func(t *testing.T) {
		todo := block("td", document.Todo, "buy milk")
		todo.Data["checked"] = true
		tree := newTree(t, page(todo))
		ops, caret, err := New(tree, WithIDs(sequentialIDs())).Split("td", 0)
		require.NoError(t, err)
		apply(t, tree, ops)

		assert.Equal(t, "page(n1,td)", outline(tree, "page"))
		assert.Equal(t, "td", caret)
		n, _ := tree.Node("n1")
		assert.Equal(t, document.Todo, n.Type)
		assert.Equal(t, true, n.Data["checked"])
		assert.Equal(t, "buy milk", plain(t, tree, "td"))
	})
}

func TestSplitKeepsEmbedsWhole(t *testing.T) {
	a := block("a", document.Paragraph, "")
	a.Text = delta.Delta{
		delta.Insert("x", nil),
		delta.InsertEmbed(delta.Formula("E=mc^2")),
		delta.Insert("y", nil),
	}
	tree := newTree(t, page(a))
	ops, caret, err := New(tree).Split("a", 1)
	require.NoError(t, err)
	apply(t, tree, ops)

	head, _ := tree.Text("a")
	assert.True(t, head.Equal(delta.Delta{delta.Insert("x", nil)}), head.String())
	tail, _ := tree.Text(caret)
	require.Len(t, tail, 2)
	require.NotNil(t, tail[0].Embed)
	assert.Equal(t, "E=mc^2", tail[0].Embed.Formula)
	assert.Equal(t, "y", tail[1].Insert)
}

func TestSplitRejects(t *testing.T) {
	tree := newTree(t, page(block("a", document.Paragraph, "abc"), block("d", document.Divider, "")))
	b := New(tree)

	_, _, err := b.Split("a", 4)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, _, err = b.Split("a", -1)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	_, _, err = b.Split("d", 0)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, _, err = b.Split("page", 0)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestMergeIntoAcceptingBlock(t *testing.T) {
	tree := newTree(t, page(
		block("t", document.Paragraph, "Hello", block("old", document.Paragraph, "")),
		block("s", document.Paragraph, " world", block("k1", document.Paragraph, ""), block("k2", document.Paragraph, "")),
	))
	ops, err := New(tree).Merge("s", "t")
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "page(t(k1,k2,old))", outline(tree, "page"))
	assert.Equal(t, "Hello world", plain(t, tree, "t"))
}

func TestMergeIntoHeadingLiftsChildren(t *testing.T) {
	tree := newTree(t, page(
		block("h", document.Heading, "Title"),
		block("s", document.Paragraph, "!", block("k", document.Paragraph, "")),
		block("z", document.Paragraph, ""),
	))
	ops, err := New(tree).Merge("s", "h")
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "page(h,k,z)", outline(tree, "page"))
	assert.Equal(t, "Title!", plain(t, tree, "h"))
}

func TestMergeIntoPageTitle(t *testing.T) {
	root := page(block("s", document.Paragraph, "Doc", block("k", document.Paragraph, "")))
	tree := newTree(t, root)
	ops, err := New(tree).Merge("s", "page")
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "page(k)", outline(tree, "page"))
	assert.Equal(t, "Doc", plain(t, tree, "page"))
}

func TestMergeRejects(t *testing.T) {
	tree := newTree(t, page(
		block("a", document.Paragraph, "x", block("b", document.Paragraph, "y")),
		block("d", document.Divider, ""),
	))
	b := New(tree)

	_, err := b.Merge("a", "a")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = b.Merge("a", "b")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = b.Merge("d", "a")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = b.Merge("nope", "a")
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestLift(t *testing.T) {
	tree := newTree(t, page(
		block("a", document.BulletedList, "", block("b", document.BulletedList, ""), block("c", document.BulletedList, "")),
		block("z", document.Paragraph, ""),
	))
	b := New(tree)

	ops, err := b.Lift("b")
	require.NoError(t, err)
	apply(t, tree, ops)
	assert.Equal(t, "page(a(c),b,z)", outline(tree, "page"))

	_, err = b.Lift("b")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = b.Lift("page")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestClearDocument(t *testing.T) {
	tree := newTree(t, page(
		block("a", document.Paragraph, "x", block("b", document.Paragraph, "y")),
		block("c", document.Heading, "z"),
	))
	ops, id, err := New(tree, WithIDs(sequentialIDs())).ClearDocument()
	require.NoError(t, err)
	apply(t, tree, ops)

	assert.Equal(t, "page(n1)", outline(tree, "page"))
	assert.Equal(t, "n1", id)
	assert.Equal(t, 2, tree.Len())

	_, _, err = New(editor.NewTree()).ClearDocument()
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestInsertParagraph(t *testing.T) {
	tree := newTree(t, page(block("a", document.Paragraph, "")))
	ops, id, err := New(tree, WithIDs(sequentialIDs())).InsertParagraph("page", 1)
	require.NoError(t, err)
	apply(t, tree, ops)
	assert.Equal(t, "page(a,"+id+")", outline(tree, "page"))
}

type replica struct {
	doc  *crdt.Doc
	tree *editor.Tree
	ctl  *collab.Controller
}

func newReplica(t *testing.T, client uint64, init bool) *replica {
	t.Helper()
	doc := crdt.NewDoc(crdt.WithClientID(client))
	if init {
		require.NoError(t, doc.Transact(crdt.Local, func(tx *crdt.Transaction) error {
			_, err := document.Init(tx, doc, "page")
			return err
		}))
	}
	tree := editor.NewTree()
	ctl := collab.New(doc, tree)
	require.NoError(t, ctl.Connect())
	return &replica{doc: doc, tree: tree, ctl: ctl}
}

func (r *replica) run(t *testing.T, ops []editor.Operation) {
	t.Helper()
	apply(t, r.tree, ops)
	receipt, err := r.ctl.Submit(context.Background(), ops...)
	require.NoError(t, err)
	require.NoError(t, receipt.Err())
}

func (r *replica) catchUp(t *testing.T, from *replica) {
	t.Helper()
	update := from.doc.EncodeStateAsUpdateSince(r.ctl.StateVector())
	require.NoError(t, r.ctl.ApplyRemote(context.Background(), update))
}

func TestCommandsReachPeers(t *testing.T) {
	a := newReplica(t, 1, true)
	b := newReplica(t, 2, false)
	cmd := New(a.tree, WithIDs(sequentialIDs()))

	ops, p, err := cmd.InsertParagraph("page", 0)
	require.NoError(t, err)
	a.run(t, ops)
	a.run(t, []editor.Operation{editor.TextEdit{TextID: p, Delta: delta.Delta{delta.Insert("hello world", nil)}}})

	ops, tail, err := cmd.Split(p, 5)
	require.NoError(t, err)
	a.run(t, ops)

	ops, head, err := cmd.TurnInto(p, document.Heading, nil)
	require.NoError(t, err)
	a.run(t, ops)

	b.catchUp(t, a)
	assert.Equal(t, "page("+head+","+tail+")", outline(b.tree, "page"))
	assert.Equal(t, "hello", plain(t, b.tree, head))
	assert.Equal(t, " world", plain(t, b.tree, tail))

	ops, err = cmd.Merge(tail, head)
	require.NoError(t, err)
	a.run(t, ops)
	b.catchUp(t, a)
	assert.Equal(t, "page("+head+")", outline(b.tree, "page"))
	assert.Equal(t, "hello world", plain(t, b.tree, head))

	ops, _, err = cmd.ClearDocument()
	require.NoError(t, err)
	a.run(t, ops)
	b.catchUp(t, a)
	assert.Equal(t, outline(a.tree, "page"), outline(b.tree, "page"))
	assert.Equal(t, a.doc.ToJSON(), b.doc.ToJSON())
}
