package handlers

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent returns the next SSE event name and data line
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestEventsHandler_CharacterStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	server := httptest.NewServer(NewEventsHandler(client, quietLogger()))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events/characters/tess", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, reader)
	require.Equal(t, "connected", name)

	b := events.NewBroadcaster(client, quietLogger())
	desc := perception.Description{TargetID: "hall", Name: "Hall"}
	require.NoError(t, b.PublishRoomUpdate(ctx, events.NewRoomUpdate(desc, []string{"bo"})))
	require.NoError(t, b.PublishRoomUpdate(ctx, events.NewRoomUpdate(desc, []string{"tess"})))

	// the update for bo is filtered out
	name, data := readEvent(t, reader)
	assert.Equal(t, "RoomUpdate", name)
	assert.Contains(t, data, `"Targets":["tess"]`)
}

func TestEventsHandler_BadPath(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	h := NewEventsHandler(client, quietLogger())

	for _, target := range []string{"/v1/events", "/v1/events/rooms/hall", "/v1/events/characters/"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/events/assets/BASE", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
