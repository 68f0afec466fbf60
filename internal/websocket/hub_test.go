package websocket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notefiber-collab/internal/collab"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/pkg/crdt"
)

type fixedSnapshots struct {
	frame []byte
	asked []crdt.StateVector
}

func (f *fixedSnapshots) Snapshot(_ context.Context, _ string, since crdt.StateVector) ([]byte, error) {
	f.asked = append(f.asked, since)
	return f.frame, nil
}

func startHub(t *testing.T, rdb *redis.Client, pub *gochannel.GoChannel, snaps Snapshotter, instanceID string) *Hub {
	t.Helper()
	cfg := HubConfig{
		InstanceID:    instanceID,
		RedisChannel:  "document_updates_test",
		Topic:         "updates",
		MaxFrameBytes: 64,
	}
	var h *Hub
	if pub != nil {
		h = NewHub(rdb, pub, snaps, cfg, logger.NewNopLogger())
	} else {
		h = NewHub(rdb, nil, snaps, cfg, logger.NewNopLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("hub never became ready")
	}
	return h
}

func join(t *testing.T, h *Hub, documentID string, buffer int) *Client {
	t.Helper()
	before := h.RoomSize(documentID)
	c := &Client{Hub: h, ID: fmt.Sprintf("c%d", before+1), DocumentID: documentID, Send: make(chan []byte, buffer)}
	h.Register(c)
	require.Eventually(t, func() bool { return h.RoomSize(documentID) == before+1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestReceiveRelaysToLocalPeers(t *testing.T) {
	h := startHub(t, nil, nil, nil, "a")
	sender := join(t, h, "doc-1", 4)
	peer := join(t, h, "doc-1", 4)
	other := join(t, h, "doc-2", 4)

	frame := []byte(`opaque-update`)
	require.NoError(t, h.Receive(context.Background(), "doc-1", sender, frame))

	assert.Len(t, sender.Send, 0)
	assert.Len(t, other.Send, 0)
	require.Len(t, peer.Send, 1)
	assert.Equal(t, frame, <-peer.Send)
}

func TestReceiveRejectsLargeFrames(t *testing.T) {
	h := startHub(t, nil, nil, nil, "a")
	peer := join(t, h, "doc-1", 4)

	err := h.Receive(context.Background(), "doc-1", nil, make([]byte, 65))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Len(t, peer.Send, 0)
}

func TestReceiveQueuesForPersistence(t *testing.T) {
	pub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pub.Close() })
	messages, err := pub.Subscribe(context.Background(), "updates")
	require.NoError(t, err)

	h := startHub(t, nil, pub, nil, "a")
	require.NoError(t, h.Receive(context.Background(), "doc-1", nil, []byte("frame")))

	select {
	case msg := <-messages:
		assert.Equal(t, "doc-1", msg.Metadata.Get(collab.MetadataDocumentID))
		assert.Equal(t, []byte("frame"), []byte(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("update was not queued")
	}
}

func TestReceiveReachesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}
	a := startHub(t, newClient(), nil, nil, "relay-a")
	b := startHub(t, newClient(), nil, nil, "relay-b")

	sender := join(t, a, "doc-1", 4)
	localPeer := join(t, a, "doc-1", 4)
	remotePeer := join(t, b, "doc-1", 4)

	require.NoError(t, a.Receive(context.Background(), "doc-1", sender, []byte("frame")))

	require.Eventually(t, func() bool { return len(remotePeer.Send) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("frame"), <-remotePeer.Send)

	// the sending instance ignores its own envelope
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, localPeer.Send, 1)
	assert.Len(t, sender.Send, 0)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := startHub(t, nil, nil, nil, "a")
	slow := join(t, h, "doc-1", 1)

	require.NoError(t, h.Receive(context.Background(), "doc-1", nil, []byte("one")))
	require.NoError(t, h.Receive(context.Background(), "doc-1", nil, []byte("two")))

	require.Eventually(t, func() bool { return h.RoomSize("doc-1") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("one"), <-slow.Send)
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestSyncAnswersMembersOnly(t *testing.T) {
	snaps := &fixedSnapshots{frame: []byte("state")}
	h := startHub(t, nil, nil, snaps, "a")
	member := join(t, h, "doc-1", 4)
	stranger := &Client{Hub: h, ID: "x", DocumentID: "doc-1", Send: make(chan []byte, 4)}

	since := crdt.StateVector{7: 3}
	require.NoError(t, h.Sync(context.Background(), member, since))
	require.NoError(t, h.Sync(context.Background(), stranger, nil))

	require.Len(t, member.Send, 1)
	assert.Equal(t, []byte("state"), <-member.Send)
	assert.Len(t, stranger.Send, 0)
	require.Len(t, snaps.asked, 2)
	assert.Equal(t, since, snaps.asked[0])
}
