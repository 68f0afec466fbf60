package memory

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"notefiber-collab/pkg/crdt"
)

// LiveDocument is a merged server-side replica. Hold Mu while touching Doc.
type LiveDocument struct {
	Mu  sync.Mutex
	Doc *crdt.Doc
	// Seq is the last persisted log row folded into Doc.
	Seq int64
	// Rows counts the log rows behind Doc.
	Rows int
}

// DocumentCache keeps recently used documents in memory. Entries expire after
// the TTL unless touched again.
type DocumentCache struct {
	cache *cache.Cache
}

func NewDocumentCache(ttl time.Duration) *DocumentCache {
	return &DocumentCache{cache: cache.New(ttl, ttl/3)}
}

func (r *DocumentCache) Save(documentID string, doc *LiveDocument) {
	r.cache.Set(documentID, doc, cache.DefaultExpiration)
}

// Get returns the cached document and extends its lifetime.
func (r *DocumentCache) Get(documentID string) (*LiveDocument, bool) {
	x, found := r.cache.Get(documentID)
	if !found {
		return nil, false
	}
	doc := x.(*LiveDocument)
	r.cache.Set(documentID, doc, cache.DefaultExpiration)
	return doc, true
}

func (r *DocumentCache) Delete(documentID string) {
	r.cache.Delete(documentID)
}

func (r *DocumentCache) Len() int {
	return r.cache.ItemCount()
}
