package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockTypeRoundTrip(t *testing.T) {
	for typ, tag := range blockTags {
		got, err := ParseBlockType(tag)
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.Equal(t, tag, typ.String())
	}

	_, err := ParseBlockType("image")
	assert.Error(t, err)
	assert.False(t, BlockType(0).Valid())
}

func TestDecodeData(t *testing.T) {
	tests := []struct {
		name    string
		typ     BlockType
		raw     map[string]any
		want    any
		wantErr bool
	}{
		{name: "heading", typ: Heading, raw: map[string]any{"level": float64(3)}, want: &HeadingData{Level: 3}},
		{name: "heading level out of range", typ: Heading, raw: map[string]any{"level": float64(9)}, wantErr: true},
		{name: "todo", typ: Todo, raw: map[string]any{"checked": true}, want: &TodoData{Checked: true}},
		{name: "grid needs a view", typ: GridEmbed, raw: map[string]any{}, wantErr: true},
		{name: "paragraph ignores data", typ: Paragraph, raw: map[string]any{"x": 1}, want: &EmptyData{}},
		{name: "table", typ: Table, raw: DefaultData(Table), want: &TableData{RowsLen: 1, ColsLen: 1}},
		{name: "wrong type", typ: Toggle, raw: map[string]any{"collapsed": "yes"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeData(tt.typ, tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasText(t *testing.T) {
	assert.True(t, Paragraph.HasText())
	assert.True(t, Page.HasText())
	assert.False(t, Divider.HasText())
	assert.False(t, Equation.HasText())
}
