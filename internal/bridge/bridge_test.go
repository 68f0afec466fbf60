package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/delta"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   delta.Delta
	}{
		{name: "plain", in: delta.Delta{delta.Insert("Hi", nil)}},
		{name: "formatted runs", in: delta.Delta{
			delta.Insert("bold", delta.Attributes{delta.Bold: true}),
			delta.Insert(" link", delta.Attributes{delta.Href: "https://notefiber.app", delta.FontColor: "#ff0000"}),
		}},
		{name: "embeds", in: delta.Delta{
			delta.Insert("see ", nil),
			delta.InsertEmbed(delta.MentionOf(delta.MentionPage, "page-42")),
			delta.InsertEmbed(delta.Formula(`\sqrt{2}`)),
		}},
		{name: "change ops", in: delta.Delta{
			delta.Retain(3, delta.Attributes{delta.Italic: true, delta.Bold: nil}),
			delta.Delete(2),
			delta.Insert("x", delta.Attributes{delta.Code: true}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote, err := ToRemote(tt.in)
			require.NoError(t, err)
			got, err := ToLocal(remote)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestToLocalDropsUnrepresentable(t *testing.T) {
	ops := []crdt.DeltaOp{
		{Insert: "a", Attributes: map[string]any{"bold": true, "sparkle": true}},
		{Insert: map[string]any{"image": "cat.png"}},
		{Insert: "b", Attributes: map[string]any{"href": true}},
		{Retain: 1},
	}

	got, err := ToLocal(ops)

	require.ErrorIs(t, err, ErrMalformedDelta)
	assert.Equal(t, delta.Delta{
		delta.Insert("a", delta.Attributes{delta.Bold: true}),
		delta.Insert(Placeholder, nil),
		delta.Insert("b", nil),
		delta.Retain(1, nil),
	}, got)
	assert.Equal(t, 3, got.Length())
}

func TestToRemoteDropsUnrepresentable(t *testing.T) {
	local := delta.Delta{
		delta.Insert("a", delta.Attributes{delta.Bold: true, "sparkle": true}),
		delta.InsertEmbed(&delta.Embed{}),
		delta.InsertEmbed(delta.MentionOf("person", "u-1")),
		delta.Insert("b", delta.Attributes{delta.Italic: "yes", delta.Href: "https://notefiber.app"}),
		delta.Retain(2, delta.Attributes{delta.Code: 3, delta.Bold: nil}),
	}

	got, err := ToRemote(local)

	require.ErrorIs(t, err, ErrMalformedDelta)
	assert.Len(t, multierr.Errors(err), 5)
	assert.Equal(t, []crdt.DeltaOp{
		{Insert: "a", Attributes: map[string]any{"bold": true}},
		{Insert: Placeholder},
		{Insert: Placeholder},
		{Insert: "b", Attributes: map[string]any{"href": "https://notefiber.app"}},
		{Retain: 2, Attributes: map[string]any{"bold": nil}},
	}, got)
}

func TestEmbedStaysAtomicInSharedText(t *testing.T) {
	doc := crdt.NewDoc(crdt.WithClientID(1))
	local := delta.Delta{
		delta.Insert("E = ", nil),
		delta.InsertEmbed(delta.Formula("mc^2")),
		delta.Insert(".", delta.Attributes{delta.Bold: true}),
	}

	var text *crdt.Text
	require.NoError(t, doc.Transact(crdt.Local, func(tx *crdt.Transaction) error {
		var err error
		if text, err = doc.GetMap("root").SetText(tx, "t"); err != nil {
			return err
		}
		ops, err := ToRemote(local)
		if err != nil {
			return err
		}
		return text.ApplyDelta(tx, ops)
	}))
	assert.Equal(t, 6, text.Len())

	// bolding across the embed leaves the embed unformatted
	require.NoError(t, doc.Transact(crdt.Local, func(tx *crdt.Transaction) error {
		ops, err := ToRemote(delta.Delta{delta.Retain(6, delta.Attributes{delta.Bold: true})})
		if err != nil {
			return err
		}
		return text.ApplyDelta(tx, ops)
	}))

	got, err := ToLocal(text.Delta())
	require.NoError(t, err)
	assert.Equal(t, delta.Delta{
		delta.Insert("E = ", delta.Attributes{delta.Bold: true}),
		delta.InsertEmbed(delta.Formula("mc^2")),
		delta.Insert(".", delta.Attributes{delta.Bold: true}),
	}, got)
}
