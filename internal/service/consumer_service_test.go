package service

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/internal/collab"
	"notefiber-collab/internal/pkg/logger"
)

func TestConsumerStoresRelayedUpdates(t *testing.T) {
	f := newFixture(t, nil, 0)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	consumer := NewConsumerService(pubSub, "updates", f.svc, logger.NewNopLogger())
	require.NoError(t, consumer.Consume(ctx))

	ed := newEditor(1)
	sink := collab.NewWatermillSink(pubSub, "updates", "doc-1")
	require.NoError(t, sink.Publish(ctx, ed.set(t, "title", "Draft")))

	// unusable messages are acknowledged and skipped
	require.NoError(t, pubSub.Publish("updates", message.NewMessage(watermill.NewUUID(), []byte("x"))))
	require.NoError(t, sink.Publish(ctx, []byte("garbage")))

	require.NoError(t, sink.Publish(ctx, ed.set(t, "title", "Final")))

	require.Eventually(t, func() bool { return len(f.log.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	full, err := f.svc.Snapshot(ctx, "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, ed.doc.ToJSON(), replay(t, full).ToJSON())
}
