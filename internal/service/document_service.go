package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"notefiber-collab/internal/entity"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/internal/repository/memory"
	"notefiber-collab/internal/repository/specification"
	"notefiber-collab/internal/repository/unitofwork"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/events"
)

const documentModule = "DocumentService"

var (
	ErrEmptyUpdate     = errors.New("document: empty update")
	ErrUpdateTooLarge  = errors.New("document: update too large")
	ErrCorruptDocument = errors.New("document: stored log cannot be replayed")
)

// EventPublisher announces document changes to the other relay instances.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IDocumentService interface {
	// Append merges an update into the document and stores it in the log.
	// It returns the log sequence number of the stored row.
	Append(ctx context.Context, documentID string, update []byte) (int64, error)
	// Snapshot encodes what a peer at since is missing. A nil since asks for
	// the whole document.
	Snapshot(ctx context.Context, documentID string, since crdt.StateVector) ([]byte, error)
	StateVector(ctx context.Context, documentID string) (crdt.StateVector, error)
	// Compact folds the document's log into a single row.
	Compact(ctx context.Context, documentID string) error
	// HandleDocumentEvent drops cached documents other instances changed.
	HandleDocumentEvent(ctx context.Context, event events.Event) error
}

type DocumentServiceConfig struct {
	InstanceID     string
	CompactAfter   int
	MaxUpdateBytes int
}

type documentService struct {
	uowFactory unitofwork.RepositoryFactory
	cache      *memory.DocumentCache
	publisher  EventPublisher
	cfg        DocumentServiceConfig
	logger     logger.ILogger
	tracer     trace.Tracer

	// loadMu keeps two callers from replaying the same log at once.
	loadMu sync.Mutex
}

func NewDocumentService(
	uowFactory unitofwork.RepositoryFactory,
	cache *memory.DocumentCache,
	publisher EventPublisher,
	cfg DocumentServiceConfig,
	log logger.ILogger,
) IDocumentService {
	return &documentService{
		uowFactory: uowFactory,
		cache:      cache,
		publisher:  publisher,
		cfg:        cfg,
		logger:     log,
		tracer:     otel.Tracer("notefiber-collab/service"),
	}
}

func (s *documentService) Append(ctx context.Context, documentID string, update []byte) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Append", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("update.bytes", len(update)),
	))
	defer span.End()

	if len(update) == 0 {
		return 0, ErrEmptyUpdate
	}
	if s.cfg.MaxUpdateBytes > 0 && len(update) > s.cfg.MaxUpdateBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrUpdateTooLarge, len(update))
	}

	live, err := s.load(ctx, documentID)
	if err != nil {
		return 0, fail(span, err)
	}

	live.Mu.Lock()
	if err := live.Doc.ApplyUpdate(update, crdt.Remote); err != nil {
		live.Mu.Unlock()
		updatesAppended.WithLabelValues("rejected").Inc()
		return 0, fail(span, err)
	}

	row := &entity.DocumentUpdate{DocumentId: documentID, Payload: update}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.DocumentUpdateRepository().Append(ctx, row); err != nil {
		live.Mu.Unlock()
		// the cached replica is now ahead of the log
		s.cache.Delete(documentID)
		updatesAppended.WithLabelValues("failed").Inc()
		return 0, fail(span, fmt.Errorf("store update: %w", err))
	}
	live.Seq = row.Seq
	live.Rows++
	compact := s.cfg.CompactAfter > 0 && live.Rows >= s.cfg.CompactAfter
	live.Mu.Unlock()

	updatesAppended.WithLabelValues("stored").Inc()
	updateBytes.Observe(float64(len(update)))
	span.SetAttributes(attribute.Int64("update.seq", row.Seq))

	s.announce(ctx, events.NewDocumentUpdated(documentID, s.cfg.InstanceID, row.Seq, len(update)))

	if compact {
		if err := s.Compact(ctx, documentID); err != nil {
			s.logger.Warn(documentModule, "Compaction failed", map[string]interface{}{
				"document_id": documentID,
				"error":       err.Error(),
			})
		}
	}
	return row.Seq, nil
}

func (s *documentService) Snapshot(ctx context.Context, documentID string, since crdt.StateVector) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Snapshot", trace.WithAttributes(
		attribute.String("document.id", documentID),
	))
	defer span.End()

	live, err := s.load(ctx, documentID)
	if err != nil {
		return nil, fail(span, err)
	}
	live.Mu.Lock()
	defer live.Mu.Unlock()
	if since == nil {
		return live.Doc.EncodeStateAsUpdate(), nil
	}
	return live.Doc.EncodeStateAsUpdateSince(since), nil
}

func (s *documentService) StateVector(ctx context.Context, documentID string) (crdt.StateVector, error) {
	live, err := s.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	live.Mu.Lock()
	defer live.Mu.Unlock()
	return live.Doc.StateVector(), nil
}

func (s *documentService) Compact(ctx context.Context, documentID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "DocumentService.Compact", trace.WithAttributes(
		attribute.String("document.id", documentID),
	))
	defer span.End()

	live, err := s.load(ctx, documentID)
	if err != nil {
		return fail(span, err)
	}
	live.Mu.Lock()
	defer live.Mu.Unlock()
	if live.Rows <= 1 {
		return nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return fail(span, err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, uow.Rollback())
			fail(span, err)
		}
	}()

	repo := uow.DocumentUpdateRepository()
	rows, err := repo.FindAll(ctx,
		specification.ByDocumentID{DocumentID: documentID},
		specification.SeqAtMost{Seq: live.Seq},
		specification.InLogOrder(),
	)
	if err != nil {
		return err
	}
	if len(rows) <= 1 {
		return uow.Commit()
	}

	payloads := make([][]byte, len(rows))
	for i, row := range rows {
		payloads[i] = row.Payload
	}
	merged, err := crdt.MergeUpdates(payloads...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	last := rows[len(rows)-1].Seq
	if err = repo.DeleteThrough(ctx, documentID, last); err != nil {
		return err
	}
	if err = repo.Append(ctx, &entity.DocumentUpdate{
		DocumentId: documentID,
		Seq:        last,
		Payload:    merged,
		Compacted:  true,
	}); err != nil {
		return err
	}
	if err = uow.Commit(); err != nil {
		return err
	}

	live.Rows -= len(rows) - 1
	compactions.Inc()
	s.logger.Info(documentModule, "Compacted update log", map[string]interface{}{
		"document_id": documentID,
		"rows":        len(rows),
		"seq":         last,
		"bytes":       len(merged),
	})
	s.announce(ctx, events.NewDocumentCompacted(documentID, s.cfg.InstanceID, last))
	return nil
}

func (s *documentService) HandleDocumentEvent(ctx context.Context, event events.Event) error {
	documentID, instanceID, ok := events.DocumentRef(event)
	if !ok {
		s.logger.Warn(documentModule, "Document event without document id", map[string]interface{}{"type": event.EventType()})
		return nil
	}
	if instanceID == s.cfg.InstanceID {
		return nil
	}
	switch event.EventType() {
	case events.DocumentUpdated, events.DocumentCompacted:
		s.cache.Delete(documentID)
		s.logger.Debug(documentModule, "Evicted document changed elsewhere", map[string]interface{}{
			"document_id": documentID,
			"instance_id": instanceID,
			"type":        event.EventType(),
		})
	}
	return nil
}

// load returns the cached replica, replaying the stored log on a miss.
func (s *documentService) load(ctx context.Context, documentID string) (*memory.LiveDocument, error) {
	if live, ok := s.cache.Get(documentID); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return live, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if live, ok := s.cache.Get(documentID); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return live, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.DocumentUpdateRepository().FindAll(ctx,
		specification.ByDocumentID{DocumentID: documentID},
		specification.InLogOrder(),
	)
	if err != nil {
		return nil, fmt.Errorf("load update log: %w", err)
	}

	live := &memory.LiveDocument{Doc: crdt.NewDoc()}
	for _, row := range rows {
		if err := live.Doc.ApplyUpdate(row.Payload, crdt.Remote); err != nil {
			s.logger.Error(documentModule, "Stored update cannot be replayed", map[string]interface{}{
				"document_id": documentID,
				"seq":         row.Seq,
				"error":       err.Error(),
			})
			return nil, fmt.Errorf("%w: seq %d: %v", ErrCorruptDocument, row.Seq, err)
		}
		live.Seq = row.Seq
	}
	live.Rows = len(rows)
	if pending := live.Doc.PendingCount(); pending > 0 {
		s.logger.Warn(documentModule, "Replayed log has unresolved operations", map[string]interface{}{
			"document_id": documentID,
			"pending":     pending,
		})
	}

	s.cache.Save(documentID, live)
	return live, nil
}

func (s *documentService) announce(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn(documentModule, "Failed to publish document event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
