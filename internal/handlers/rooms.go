package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// RoomRenderer renders rooms and map caches on demand
type RoomRenderer interface {
	Render(ctx context.Context, targetID, characterID string) (*world.RoomView, error)
	MapCache(ctx context.Context, assetID string) (*perception.MapCache, error)
}

type RoomHandler struct {
	renderer RoomRenderer
	logger   *slog.Logger
}

func NewRoomHandler(renderer RoomRenderer, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{
		renderer: renderer,
		logger:   logger,
	}
}

// ServeHTTP handles on-demand rendering
// Routes:
// GET /v1/rooms/{roomId}?character={characterId} - Render a room for a character
// GET /v1/assets/{assetId}/map                    - Read an asset's map cache
func (h *RoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/rooms/"):
		h.handleRoom(w, r, strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/rooms/"), "/"))
	case strings.HasPrefix(r.URL.Path, "/v1/assets/") && strings.HasSuffix(r.URL.Path, "/map"):
		assetID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/assets/"), "/map")
		h.handleMap(w, r, strings.Trim(assetID, "/"))
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *RoomHandler) handleRoom(w http.ResponseWriter, r *http.Request, roomID string) {
	characterID := r.URL.Query().Get("character")
	if roomID == "" || characterID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Room ID and character query parameter are required")
		return
	}

	view, err := h.renderer.Render(r.Context(), roomID, characterID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCharacterNotFound):
			writeError(w, h.logger, http.StatusNotFound, "Character not found")
		case errors.Is(err, world.ErrTargetNotFound):
			writeError(w, h.logger, http.StatusNotFound, "Room not found")
		default:
			h.logger.Error("Failed to render room", "error", err, "room_id", roomID)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to render room")
		}
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

func (h *RoomHandler) handleMap(w http.ResponseWriter, r *http.Request, assetID string) {
	if assetID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "Asset ID is required")
		return
	}

	cache, err := h.renderer.MapCache(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Asset not found")
			return
		}
		h.logger.Error("Failed to read map cache", "error", err, "asset_id", assetID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read map cache")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cache)
}
