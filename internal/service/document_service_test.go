package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/internal/entity"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/internal/repository/contract"
	"notefiber-collab/internal/repository/memory"
	"notefiber-collab/internal/repository/specification"
	"notefiber-collab/internal/repository/unitofwork"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/events"
)

// memoryLog stands in for the document_updates table. It understands the
// specifications the service uses.
type memoryLog struct {
	mu         sync.Mutex
	rows       []*entity.DocumentUpdate
	failAppend error
	commits    int
	rollbacks  int
}

func (l *memoryLog) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &memoryUoW{log: l}
}

func (l *memoryLog) snapshot() []*entity.DocumentUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*entity.DocumentUpdate, len(l.rows))
	copy(out, l.rows)
	return out
}

type memoryUoW struct {
	log *memoryLog
}

func (u *memoryUoW) Begin(ctx context.Context) error { return nil }

func (u *memoryUoW) Commit() error {
	u.log.mu.Lock()
	u.log.commits++
	u.log.mu.Unlock()
	return nil
}

func (u *memoryUoW) Rollback() error {
	u.log.mu.Lock()
	u.log.rollbacks++
	u.log.mu.Unlock()
	return nil
}

func (u *memoryUoW) DocumentUpdateRepository() contract.DocumentUpdateRepository {
	return &memoryRepo{log: u.log}
}

type memoryRepo struct {
	log *memoryLog
}

func (r *memoryRepo) Append(ctx context.Context, update *entity.DocumentUpdate) error {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	if r.log.failAppend != nil {
		return r.log.failAppend
	}
	if update.Seq == 0 {
		update.Seq = r.lastSeq(update.DocumentId) + 1
	}
	row := *update
	row.CreatedAt = time.Now()
	r.log.rows = append(r.log.rows, &row)
	return nil
}

func (r *memoryRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentUpdate, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	var out []*entity.DocumentUpdate
	for _, row := range r.log.rows {
		if matches(row, specs) {
			cp := *row
			out = append(out, &cp)
		}
	}
	for _, spec := range specs {
		if order, ok := spec.(specification.OrderBy); ok && order.Field == "seq" {
			sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
		}
	}
	return out, nil
}

func (r *memoryRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	rows, _ := r.FindAll(ctx, specs...)
	return int64(len(rows)), nil
}

func (r *memoryRepo) LastSeq(ctx context.Context, documentID string) (int64, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	return r.lastSeq(documentID), nil
}

func (r *memoryRepo) lastSeq(documentID string) int64 {
	var last int64
	for _, row := range r.log.rows {
		if row.DocumentId == documentID && row.Seq > last {
			last = row.Seq
		}
	}
	return last
}

func (r *memoryRepo) DeleteThrough(ctx context.Context, documentID string, seq int64) error {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	kept := r.log.rows[:0]
	for _, row := range r.log.rows {
		if row.DocumentId == documentID && row.Seq <= seq {
			continue
		}
		kept = append(kept, row)
	}
	r.log.rows = kept
	return nil
}

func matches(row *entity.DocumentUpdate, specs []specification.Specification) bool {
	for _, spec := range specs {
		switch s := spec.(type) {
		case specification.ByDocumentID:
			if row.DocumentId != s.DocumentID {
				return false
			}
		case specification.SeqAtMost:
			if row.Seq > s.Seq {
				return false
			}
		case specification.SeqAfter:
			if row.Seq <= s.Seq {
				return false
			}
		}
	}
	return true
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	svc    IDocumentService
	log    *memoryLog
	cache  *memory.DocumentCache
	events *recordedEvents
}

func newFixture(t *testing.T, log *memoryLog, compactAfter int) *fixture {
	t.Helper()
	if log == nil {
		log = &memoryLog{}
	}
	cache := memory.NewDocumentCache(time.Minute)
	rec := &recordedEvents{}
	svc := NewDocumentService(log, cache, rec, DocumentServiceConfig{
		InstanceID:     "relay-a",
		CompactAfter:   compactAfter,
		MaxUpdateBytes: 4096,
	}, logger.NewNopLogger())
	return &fixture{svc: svc, log: log, cache: cache, events: rec}
}

// editor produces a chain of updates from one replica.
type editor struct {
	doc *crdt.Doc
}

func newEditor(client uint64) *editor {
	return &editor{doc: crdt.NewDoc(crdt.WithClientID(client))}
}

func (e *editor) set(t *testing.T, key string, value any) []byte {
	t.Helper()
	before := e.doc.StateVector()
	require.NoError(t, e.doc.Transact(crdt.Local, func(tx *crdt.Transaction) error {
		return e.doc.GetMap("meta").Set(tx, key, value)
	}))
	return e.doc.EncodeStateAsUpdateSince(before)
}

func replay(t *testing.T, update []byte) *crdt.Doc {
	t.Helper()
	doc := crdt.NewDoc()
	require.NoError(t, doc.ApplyUpdate(update, crdt.Remote))
	return doc
}

func TestAppendStoresAndAnnounces(t *testing.T) {
	f := newFixture(t, nil, 0)
	ed := newEditor(1)
	ctx := context.Background()

	seq, err := f.svc.Append(ctx, "doc-1", ed.set(t, "title", "Draft"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	seq, err = f.svc.Append(ctx, "doc-1", ed.set(t, "title", "Final"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	assert.Len(t, f.log.snapshot(), 2)
	assert.Equal(t, []string{events.DocumentUpdated, events.DocumentUpdated}, f.events.types())
	docID, instanceID, ok := events.DocumentRef(f.events.events[1])
	require.True(t, ok)
	assert.Equal(t, "doc-1", docID)
	assert.Equal(t, "relay-a", instanceID)

	full, err := f.svc.Snapshot(ctx, "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ed.doc.ToJSON(), replay(t, full).ToJSON())
}

func TestAppendRejects(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.svc.Append(ctx, "doc-1", nil)
	assert.ErrorIs(t, err, ErrEmptyUpdate)

	_, err = f.svc.Append(ctx, "doc-1", make([]byte, 5000))
	assert.ErrorIs(t, err, ErrUpdateTooLarge)

	_, err = f.svc.Append(ctx, "doc-1", []byte("not an update"))
	assert.ErrorIs(t, err, crdt.ErrMalformedUpdate)

	assert.Empty(t, f.log.snapshot())
	assert.Empty(t, f.events.types())
}

func TestAppendStoreFailureEvicts(t *testing.T) {
	log := &memoryLog{failAppend: errors.New("connection reset")}
	f := newFixture(t, log, 0)

	_, err := f.svc.Append(context.Background(), "doc-1", newEditor(1).set(t, "k", "v"))
	require.Error(t, err)
	_, cached := f.cache.Get("doc-1")
	assert.False(t, cached)
	assert.Empty(t, f.events.types())
}

func TestLoadReplaysStoredLog(t *testing.T) {
	ed := newEditor(1)
	log := &memoryLog{rows: []*entity.DocumentUpdate{
		{DocumentId: "doc-1", Seq: 1, Payload: ed.set(t, "a", 1)},
		{DocumentId: "doc-1", Seq: 2, Payload: ed.set(t, "b", 2)},
		{DocumentId: "doc-2", Seq: 1, Payload: newEditor(9).set(t, "other", true)},
	}}
	f := newFixture(t, log, 0)

	sv, err := f.svc.StateVector(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ed.doc.StateVector(), sv)

	live, ok := f.cache.Get("doc-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), live.Seq)
	assert.Equal(t, 2, live.Rows)
}

func TestLoadSurfacesCorruptLog(t *testing.T) {
	log := &memoryLog{rows: []*entity.DocumentUpdate{
		{DocumentId: "doc-1", Seq: 1, Payload: []byte("garbage")},
	}}
	f := newFixture(t, log, 0)

	_, err := f.svc.Snapshot(context.Background(), "doc-1", nil)
	assert.ErrorIs(t, err, ErrCorruptDocument)
	_, cached := f.cache.Get("doc-1")
	assert.False(t, cached)
}

func TestSnapshotSinceStateVector(t *testing.T) {
	f := newFixture(t, nil, 0)
	ed := newEditor(1)
	ctx := context.Background()

	first := ed.set(t, "a", 1)
	_, err := f.svc.Append(ctx, "doc-1", first)
	require.NoError(t, err)
	peer := replay(t, first)

	_, err = f.svc.Append(ctx, "doc-1", ed.set(t, "b", 2))
	require.NoError(t, err)

	diff, err := f.svc.Snapshot(ctx, "doc-1", peer.StateVector())
	require.NoError(t, err)
	require.NoError(t, peer.ApplyUpdate(diff, crdt.Remote))
	assert.Equal(t, ed.doc.ToJSON(), peer.ToJSON())
}

func TestCompactFoldsLog(t *testing.T) {
	f := newFixture(t, nil, 3)
	ed := newEditor(1)
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c"} {
		_, err := f.svc.Append(ctx, "doc-1", ed.set(t, key, i))
		require.NoError(t, err)
	}

	rows := f.log.snapshot()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Compacted)
	assert.Equal(t, int64(3), rows[0].Seq)
	assert.Contains(t, f.events.types(), events.DocumentCompacted)

	seq, err := f.svc.Append(ctx, "doc-1", ed.set(t, "d", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	// a cold instance replays the compacted log to the same state
	cold := newFixture(t, f.log, 0)
	full, err := cold.svc.Snapshot(ctx, "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ed.doc.ToJSON(), replay(t, full).ToJSON())
}

func TestCompactSingleRowIsNoop(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	_, err := f.svc.Append(ctx, "doc-1", newEditor(1).set(t, "a", 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.Compact(ctx, "doc-1"))
	rows := f.log.snapshot()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Compacted)
}

func TestHandleDocumentEvent(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()
	_, err := f.svc.Append(ctx, "doc-1", newEditor(1).set(t, "a", 1))
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleDocumentEvent(ctx, events.NewDocumentUpdated("doc-1", "relay-a", 1, 10)))
	_, cached := f.cache.Get("doc-1")
	assert.True(t, cached, "own events keep the cache")

	require.NoError(t, f.svc.HandleDocumentEvent(ctx, events.NewDocumentUpdated("doc-1", "relay-b", 2, 10)))
	_, cached = f.cache.Get("doc-1")
	assert.False(t, cached, "foreign events evict")

	require.NoError(t, f.svc.HandleDocumentEvent(ctx, events.BaseEvent{Type: events.DocumentUpdated, Data: map[string]interface{}{}}))
}
