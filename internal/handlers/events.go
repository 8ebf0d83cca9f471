package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/redis/go-redis/v9"
)

const keepaliveInterval = 30 * time.Second

// EventsHandler handles Server-Sent Events (SSE) for room updates and action events
type EventsHandler struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(redisClient *redis.Client, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		logger:      logger,
	}
}

// ServeHTTP handles SSE requests
// Routes:
// GET /v1/events/characters/{characterId} - room updates targeting the character
// GET /v1/events/assets/{assetId}         - action lifecycle events for the asset
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for events endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 4 || pathParts[0] != "v1" || pathParts[1] != "events" || pathParts[3] == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/events/{characters|assets}/{id}")
		return
	}

	id := pathParts[3]
	var channel string
	var forward func(payload string)
	switch pathParts[2] {
	case "characters":
		channel = events.RoomUpdatesChannel
		forward = func(payload string) {
			var update events.RoomUpdate
			if err := json.Unmarshal([]byte(payload), &update); err != nil {
				h.logger.Error("Failed to unmarshal room update", "error", err)
				return
			}
			if slices.Contains(update.Targets, id) {
				h.sendSSE(w, update.DisplayProtocol, update)
			}
		}
	case "assets":
		channel = events.AssetChannel(id)
		forward = func(payload string) {
			var event events.Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", payload)
				return
			}
			h.sendSSE(w, string(event.Type), event)
		}
	default:
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/events/{characters|assets}/{id}")
		return
	}

	pubsub := h.redisClient.Subscribe(r.Context(), channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	// Wait for the subscription to be confirmed so no event published after the
	// connected event is missed
	if _, err := pubsub.Receive(r.Context()); err != nil {
		h.logger.Error("Failed to subscribe", "error", err, "channel", channel)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}

	h.logger.Info("SSE connection established",
		"channel", channel,
		"subscriber", id,
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	msgChan := pubsub.Channel()
	keepaliveTicker := time.NewTicker(keepaliveInterval)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, "connected", map[string]interface{}{
		"id":      id,
		"message": "Connected to event stream",
	})

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber", id)
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			forward(msg.Payload)

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

// sendSSE sends a Server-Sent Event to the client
func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
