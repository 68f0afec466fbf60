// Package collab owns one shared document per open page and keeps an editor
// in sync with it.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/internal/translator"
	"notefiber-collab/pkg/crdt"
)

const controllerModule = "sync.controller"

var ErrDisconnected = errors.New("collab: controller is not connected")

// Stats counts what the controller did since it was created.
type Stats struct {
	Transactions      int
	EchoesSuppressed  int
	InboundBatches    int
	InboundApplied    int
	InboundRejected   int
	StaleDropped      int
	MalformedRepaired int
	Rematerialized    int
}

type Option func(*Controller)

func WithLogger(l logger.ILogger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithSink hands the update of every local transaction to s.
func WithSink(s UpdateSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithDocumentID labels logs, spans and sink messages.
func WithDocumentID(id string) Option {
	return func(c *Controller) { c.documentID = id }
}

// Controller binds one editor to one shared document. All mutations and event
// deliveries run under its lock, so a transaction always completes before the
// next one starts.
type Controller struct {
	mu sync.Mutex

	doc    *crdt.Doc
	model  *document.Model
	editor editor.Editor
	out    *translator.Outbound
	in     *translator.Inbound

	documentID string
	sink       UpdateSink
	logger     logger.ILogger
	tracer     trace.Tracer

	connected   bool
	unsubscribe func()
	stats       Stats
}

func New(doc *crdt.Doc, ed editor.Editor, opts ...Option) *Controller {
	c := &Controller{
		doc:    doc,
		editor: ed,
		logger: logger.NewNopLogger(),
		tracer: otel.Tracer("notefiber-collab/collab"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.model = document.NewModel(doc)
	c.out = translator.NewOutbound(c.model)
	c.in = translator.NewInbound(c.model, c.logger)
	return c
}

// Connect materializes the current tree into the editor and starts listening
// for changes. Connecting twice is a no-op. A document whose layout has not
// arrived yet is materialized with the first remote update that brings it.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if err := c.materialize(); err != nil && !errors.Is(err, document.ErrNotInitialized) {
		return err
	}
	c.unsubscribe = c.doc.Observe(c.onChange)
	c.connected = true
	c.logger.Info(controllerModule, "Connected", map[string]interface{}{"document_id": c.documentID})
	return nil
}

// Disconnect stops the sync traffic. The editor keeps its last state. It
// waits for a transaction in flight to finish.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.unsubscribe()
	c.unsubscribe = nil
	c.connected = false
	c.logger.Info(controllerModule, "Disconnected", map[string]interface{}{"document_id": c.documentID})
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Submit writes operations the editor already applied locally into the
// shared document, as one transaction. Operations whose targets vanished are
// dropped and listed in the receipt. Operations carrying inline content the
// document cannot represent are applied without it and listed as repaired.
// In both cases the editor is then rebuilt from the document so both agree
// again.
func (c *Controller) Submit(ctx context.Context, ops ...editor.Operation) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrDisconnected
	}
	ctx, span := c.tracer.Start(ctx, "collab.Submit", trace.WithAttributes(
		attribute.String("document.id", c.documentID),
		attribute.Int("ops", len(ops)),
	))
	defer span.End()

	receipt := &Receipt{}
	var local *crdt.Transaction
	err := c.doc.Transact(crdt.Local, func(tx *crdt.Transaction) error {
		local = tx
		for i, op := range ops {
			if err := c.out.Apply(tx, op); err != nil {
				if translator.Repaired(err) {
					receipt.Applied = append(receipt.Applied, op)
					receipt.Repaired = append(receipt.Repaired, Dropped{Index: i, Op: op, Err: err})
					continue
				}
				if translator.Droppable(err) {
					receipt.Dropped = append(receipt.Dropped, Dropped{Index: i, Op: op, Err: err})
					continue
				}
				return fmt.Errorf("apply %s: %w", editor.Describe(op), err)
			}
			receipt.Applied = append(receipt.Applied, op)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error(controllerModule, "Local transaction aborted", map[string]interface{}{
			"document_id": c.documentID,
			"error":       err.Error(),
		})
		return nil, err
	}
	// the update only exists once the transaction committed
	receipt.Update = local.Update()

	c.stats.Transactions++
	transactionsTotal.WithLabelValues(string(crdt.Local)).Inc()

	if n := len(receipt.Repaired); n > 0 {
		c.stats.MalformedRepaired += n
		malformedRepaired.Add(float64(n))
		c.logger.Warn(controllerModule, "Left out unrepresentable inline content", map[string]interface{}{
			"document_id": c.documentID,
			"repaired":    n,
			"error":       receipt.RepairErr().Error(),
		})
	}
	if n := len(receipt.Dropped); n > 0 {
		c.stats.StaleDropped += n
		staleDropped.Add(float64(n))
		c.logger.Warn(controllerModule, "Dropped stale operations", map[string]interface{}{
			"document_id": c.documentID,
			"dropped":     n,
			"error":       receipt.Err().Error(),
		})
	}
	if len(receipt.Dropped) > 0 || len(receipt.Repaired) > 0 {
		if err := c.rematerialize(); err != nil {
			return receipt, err
		}
	}

	if c.sink != nil && len(receipt.Update) > 0 {
		if err := c.sink.Publish(ctx, receipt.Update); err != nil {
			span.RecordError(err)
			c.logger.Error(controllerModule, "Failed to hand off update", map[string]interface{}{
				"document_id": c.documentID,
				"error":       err.Error(),
			})
		}
	}
	return receipt, nil
}

// ApplyRemote integrates an update buffer received from a peer.
func (c *Controller) ApplyRemote(ctx context.Context, update []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrDisconnected
	}
	_, span := c.tracer.Start(ctx, "collab.ApplyRemote", trace.WithAttributes(
		attribute.String("document.id", c.documentID),
		attribute.Int("bytes", len(update)),
	))
	defer span.End()

	if err := c.doc.ApplyUpdate(update, crdt.Remote); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("apply remote update: %w", err)
	}
	transactionsTotal.WithLabelValues(string(crdt.Remote)).Inc()
	return nil
}

// StateVector reports what this replica has integrated, for catch-up
// requests.
func (c *Controller) StateVector() crdt.StateVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.StateVector()
}

// Model exposes read access to the document. Call it from the goroutine that
// drives the controller, between transactions.
func (c *Controller) Model() *document.Model {
	return c.model
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// onChange runs synchronously at commit, under c.mu.
func (c *Controller) onChange(tx *crdt.Transaction, events []crdt.Event) {
	if tx.Origin() != crdt.Remote {
		c.stats.EchoesSuppressed++
		echoesSuppressed.Inc()
		if err := c.in.Reset(); err != nil {
			c.logger.Warn(controllerModule, "Cannot refresh structure mirror", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	c.stats.InboundBatches++
	ops, err := c.in.Translate(tx.Origin(), events)
	if errors.Is(err, translator.ErrRematerialize) {
		if err := c.rematerialize(); err != nil && !errors.Is(err, document.ErrNotInitialized) {
			c.logger.Error(controllerModule, "Rematerialize failed", map[string]interface{}{
				"document_id": c.documentID,
				"error":       err.Error(),
			})
		}
		return
	}
	if err != nil {
		c.logger.Error(controllerModule, "Inbound translation failed", map[string]interface{}{
			"document_id": c.documentID,
			"error":       err.Error(),
		})
		return
	}

	applied := c.in.Replay(c.editor, ops)
	c.stats.InboundApplied += applied
	c.stats.InboundRejected += len(ops) - applied
	inboundOps.WithLabelValues("applied").Add(float64(applied))
	inboundOps.WithLabelValues("rejected").Add(float64(len(ops) - applied))
	c.logger.Debug(controllerModule, "Replayed remote change", map[string]interface{}{
		"document_id": c.documentID,
		"ops":         len(ops),
		"applied":     applied,
	})
}

func (c *Controller) rematerialize() error {
	c.stats.Rematerialized++
	rematerializations.Inc()
	return c.materialize()
}

func (c *Controller) materialize() error {
	root, err := c.model.GetRoot()
	if err != nil {
		c.in.Reset()
		return err
	}
	node, err := translator.BuildNode(c.model, root)
	if err != nil {
		return fmt.Errorf("build tree: %w", err)
	}
	if err := c.editor.Materialize(node); err != nil {
		return fmt.Errorf("materialize editor: %w", err)
	}
	return c.in.Reset()
}
