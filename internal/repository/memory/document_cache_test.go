package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/pkg/crdt"
)

func TestDocumentCache(t *testing.T) {
	c := NewDocumentCache(time.Minute)
	live := &LiveDocument{Doc: crdt.NewDoc()}

	c.Save("doc-1", live)
	got, ok := c.Get("doc-1")
	require.True(t, ok)
	assert.Same(t, live, got)
	assert.Equal(t, 1, c.Len())

	c.Delete("doc-1")
	_, ok = c.Get("doc-1")
	assert.False(t, ok)
}

func TestDocumentCacheExpires(t *testing.T) {
	c := NewDocumentCache(30 * time.Millisecond)
	c.Save("doc-1", &LiveDocument{Doc: crdt.NewDoc()})

	time.Sleep(80 * time.Millisecond)
	_, ok := c.Get("doc-1")
	assert.False(t, ok)
}
