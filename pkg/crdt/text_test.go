package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTextDoc(t *testing.T, client uint64) (*Doc, *Text) {
	t.Helper()
	d := NewDoc(WithClientID(client))
	var text *Text
	require.NoError(t, d.Transact(Local, func(tx *Transaction) error {
		var err error
		text, err = d.GetMap("root").SetText(tx, "body")
		return err
	}))
	return d, text
}

func replicaText(t *testing.T, d *Doc) *Text {
	t.Helper()
	text, ok := d.GetMap("root").GetText("body")
	require.True(t, ok)
	return text
}

func TestTextApplyDeltaAndDelta(t *testing.T) {
	d, text := newTextDoc(t, 1)

	require.NoError(t, d.Transact(Local, func(tx *Transaction) error {
		return text.ApplyDelta(tx, []DeltaOp{
			{Insert: "Hello "},
			{Insert: "world", Attributes: map[string]any{"bold": true}},
		})
	}))
	require.NoError(t, d.Transact(Local, func(tx *Transaction) error {
		return text.ApplyDelta(tx, []DeltaOp{
			{Retain: 6},
			{Retain: 5, Attributes: map[string]any{"bold": nil, "italic": true}},
			{Insert: "!"},
		})
	}))

	assert.Equal(t, []DeltaOp{
		{Insert: "Hello "},
		{Insert: "world", Attributes: map[string]any{"italic": true}},
		{Insert: "!"},
	}, text.Delta())
	assert.Equal(t, "Hello world!", text.String())
	assert.Equal(t, 12, text.Len())
}

func TestTextEventDelta(t *testing.T) {
	d, text := newTextDoc(t, 1)
	require.NoError(t, d.Transact(Local, func(tx *Transaction) error {
		return text.Insert(tx, 0, "abcdef", nil)
	}))

	var got []Event
	d.Observe(func(_ *Transaction, events []Event) { got = events })
	require.NoError(t, d.Transact(Local, func(tx *Transaction) error {
		if err := text.Delete(tx, 1, 2); err != nil {
			return err
		}
		if err := text.Format(tx, 3, 1, map[string]any{"code": true}); err != nil {
			return err
		}
		return text.Insert(tx, 4, "XY", nil)
	}))

	require.Len(t, got, 1)
	ev, ok := got[0].(*TextEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"body"}, ev.Path())
	assert.Equal(t, []DeltaOp{
		{Retain: 1},
		{Delete: 2},
		{Retain: 2},
		{Retain: 1, Attributes: map[string]any{"code": true}},
		{Insert: "XY"},
	}, ev.Delta)
}

func TestTextConcurrentInsertsConverge(t *testing.T) {
	a, textA := newTextDoc(t, 1)
	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		return textA.Insert(tx, 0, "ac", nil)
	}))
	b := NewDoc(WithClientID(2))
	require.NoError(t, b.ApplyUpdate(a.EncodeStateAsUpdate(), Remote))
	textB := replicaText(t, b)

	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		return textA.Insert(tx, 1, "b", nil)
	}))
	require.NoError(t, b.Transact(Local, func(tx *Transaction) error {
		if err := textB.Insert(tx, 1, "B", nil); err != nil {
			return err
		}
		return textB.Delete(tx, 2, 1)
	}))

	exchange(t, a, b)

	assert.Equal(t, textA.Delta(), textB.Delta())
	assert.Equal(t, 3, textA.Len())
}

func TestTextEmbedIsAtomic(t *testing.T) {
	a, textA := newTextDoc(t, 1)
	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		if err := textA.Insert(tx, 0, "x=", nil); err != nil {
			return err
		}
		return textA.InsertEmbed(tx, 2, map[string]any{"formula": "E=mc^2"}, nil)
	}))
	b := NewDoc(WithClientID(2))
	require.NoError(t, b.ApplyUpdate(a.EncodeStateAsUpdate(), Remote))
	textB := replicaText(t, b)

	// a types right after the embed while b deletes it
	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		return textA.Insert(tx, 3, " ok", nil)
	}))
	require.NoError(t, b.Transact(Local, func(tx *Transaction) error {
		return textB.Delete(tx, 2, 1)
	}))
	exchange(t, a, b)

	assert.Equal(t, []DeltaOp{{Insert: "x= ok"}}, textA.Delta())
	assert.Equal(t, textA.Delta(), textB.Delta())
	assert.Equal(t, 1, (DeltaOp{Insert: map[string]any{"formula": "y"}}).Len())
}

func TestTextOutOfRange(t *testing.T) {
	d, text := newTextDoc(t, 1)
	err := d.Transact(Local, func(tx *Transaction) error {
		return text.Insert(tx, 3, "x", nil)
	})
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, text.Len())
}

func TestArrayConcurrentEditsConverge(t *testing.T) {
	a := NewDoc(WithClientID(1))
	var listA *Array
	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		var err error
		if listA, err = a.GetMap("root").SetArray(tx, "list"); err != nil {
			return err
		}
		return listA.Push(tx, "1", "2", "3")
	}))
	b := NewDoc(WithClientID(2))
	require.NoError(t, b.ApplyUpdate(a.EncodeStateAsUpdate(), Remote))
	listB, ok := b.GetMap("root").GetArray("list")
	require.True(t, ok)

	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		if err := listA.Delete(tx, 1, 1); err != nil {
			return err
		}
		return listA.Insert(tx, 0, "a")
	}))
	require.NoError(t, b.Transact(Local, func(tx *Transaction) error {
		return listB.Insert(tx, 2, "b")
	}))

	var events []*ArrayEvent
	b.Observe(func(tx *Transaction, evs []Event) {
		for _, ev := range evs {
			if ae, ok := ev.(*ArrayEvent); ok {
				events = append(events, ae)
			}
		}
	})
	exchange(t, a, b)

	assert.Equal(t, listA.ToSlice(), listB.ToSlice())
	assert.Equal(t, []string{"a", "1", "b", "3"}, listA.Strings())
	require.Len(t, events, 1)
	assert.Equal(t, []any{"a"}, events[0].Inserted())
}

func TestTextConcurrentFormattingMerges(t *testing.T) {
	a, textA := newTextDoc(t, 1)
	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		return textA.Insert(tx, 0, "word", nil)
	}))
	b := NewDoc(WithClientID(2))
	require.NoError(t, b.ApplyUpdate(a.EncodeStateAsUpdate(), Remote))
	textB := replicaText(t, b)

	require.NoError(t, a.Transact(Local, func(tx *Transaction) error {
		return textA.Format(tx, 0, 4, map[string]any{"bold": true})
	}))
	require.NoError(t, b.Transact(Local, func(tx *Transaction) error {
		return textB.Format(tx, 0, 2, map[string]any{"italic": true})
	}))

	var got *TextEvent
	b.Observe(func(_ *Transaction, events []Event) {
		for _, ev := range events {
			if te, ok := ev.(*TextEvent); ok {
				got = te
			}
		}
	})
	exchange(t, a, b)

	want := []DeltaOp{
		{Insert: "wo", Attributes: map[string]any{"bold": true, "italic": true}},
		{Insert: "rd", Attributes: map[string]any{"bold": true}},
	}
	assert.Equal(t, want, textA.Delta())
	assert.Equal(t, want, textB.Delta())
	require.NotNil(t, got)
	assert.Equal(t, []DeltaOp{{Retain: 4, Attributes: map[string]any{"bold": true}}}, got.Delta)
}
