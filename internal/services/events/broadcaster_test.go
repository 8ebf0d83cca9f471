package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBroadcaster(t *testing.T) (*Broadcaster, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBroadcaster(client, slog.New(slog.NewTextHandler(io.Discard, nil))), client
}

func receive(t *testing.T, sub *redis.PubSub) *redis.Message {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
		return nil
	}
}

func TestBroadcaster_PublishRoomUpdate(t *testing.T) {
	b, client := setupBroadcaster(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, RoomUpdatesChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	update := NewRoomUpdate(perception.Description{
		TargetID:    "hall",
		Name:        "Hall",
		Description: []perception.Fragment{perception.String("A long hall.")},
		Exits:       []perception.Exit{{Name: "north", To: "study"}},
		Features:    []string{},
	}, []string{"tess"})
	require.NoError(t, b.PublishRoomUpdate(ctx, update))

	msg := receive(t, sub)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "RoomUpdate", got["DisplayProtocol"])
	assert.Equal(t, "hall", got["RoomId"])
	assert.Equal(t, "Hall", got["Name"])
	assert.Equal(t, []any{"tess"}, got["Targets"])
}

func TestBroadcaster_ActionEvents(t *testing.T) {
	b, client := setupBroadcaster(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, AssetChannel("BASE"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishActionFailed(ctx, "BASE", "req-1", "boom"))

	msg := receive(t, sub)
	var event Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, EventTypeActionFailed, event.Type)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "boom", event.Data["error"])
}
