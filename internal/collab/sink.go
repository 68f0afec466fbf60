package collab

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataDocumentID is the message metadata key carrying the document id.
const MetadataDocumentID = "document_id"

// UpdateSink receives the encoded update of every local transaction, in
// commit order. Shipping it to peers and storage is the sink's job.
type UpdateSink interface {
	Publish(ctx context.Context, update []byte) error
}

type SinkFunc func(ctx context.Context, update []byte) error

func (f SinkFunc) Publish(ctx context.Context, update []byte) error {
	return f(ctx, update)
}

// WatermillSink publishes updates as watermill messages on one topic.
type WatermillSink struct {
	publisher  message.Publisher
	topic      string
	documentID string
}

func NewWatermillSink(publisher message.Publisher, topic, documentID string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic, documentID: documentID}
}

func (s *WatermillSink) Publish(ctx context.Context, update []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), update)
	msg.Metadata.Set(MetadataDocumentID, s.documentID)
	msg.SetContext(ctx)
	return s.publisher.Publish(s.topic, msg)
}
