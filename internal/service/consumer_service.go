package service

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"notefiber-collab/internal/collab"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/pkg/crdt"
)

const consumerModule = "ConsumerService"

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService moves relayed updates from the persistence topic into the
// document log.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	documents  IDocumentService
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	documents IDocumentService,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		documents:  documents,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	documentID := msg.Metadata.Get(collab.MetadataDocumentID)
	if documentID == "" {
		cs.logger.Error(consumerModule, "Update without document id", map[string]interface{}{"message_id": msg.UUID})
		msg.Ack() // nothing to retry
		return
	}

	seq, err := cs.documents.Append(ctx, documentID, msg.Payload)
	switch {
	case err == nil:
		cs.logger.Debug(consumerModule, "Update stored", map[string]interface{}{
			"document_id": documentID,
			"seq":         seq,
		})
		msg.Ack()
	case errors.Is(err, crdt.ErrMalformedUpdate),
		errors.Is(err, ErrEmptyUpdate),
		errors.Is(err, ErrUpdateTooLarge):
		cs.logger.Warn(consumerModule, "Dropping unusable update", map[string]interface{}{
			"document_id": documentID,
			"message_id":  msg.UUID,
			"error":       err.Error(),
		})
		msg.Ack() // a retry cannot succeed
	default:
		cs.logger.Error(consumerModule, "Failed to store update", map[string]interface{}{
			"document_id": documentID,
			"message_id":  msg.UUID,
			"error":       err.Error(),
		})
		msg.Nack() // retriable
	}
}
