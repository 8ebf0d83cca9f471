package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/queue"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// ActionExecutor runs an action synchronously
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, assetID, src string) (*world.ActionResult, error)
}

// ActionEnqueuer queues an action for a worker
type ActionEnqueuer interface {
	EnqueueAction(ctx context.Context, req *queue.ActionRequest) error
}

// QueuedNotifier announces that an action was queued
type QueuedNotifier interface {
	PublishActionQueued(ctx context.Context, assetID, requestID string) error
}

// ActionRequest is the body of POST /v1/actions
type ActionRequest struct {
	AssetID     string `json:"asset_id"`
	Source      string `json:"src"`
	CharacterID string `json:"character_id,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

// QueuedResponse is returned for accepted async actions
type QueuedResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type ActionHandler struct {
	executor ActionExecutor
	queue    ActionEnqueuer
	notifier QueuedNotifier
	logger   *slog.Logger
}

// NewActionHandler creates the action handler. queue and notifier may be nil, in which
// case async requests are rejected.
func NewActionHandler(executor ActionExecutor, queue ActionEnqueuer, notifier QueuedNotifier, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		executor: executor,
		queue:    queue,
		notifier: notifier,
		logger:   logger,
	}
}

// ServeHTTP handles POST /v1/actions
func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("Method not allowed for actions endpoint", "method", r.Method)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid action request body", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	req.AssetID = strings.TrimSpace(req.AssetID)
	if req.AssetID == "" || strings.TrimSpace(req.Source) == "" {
		writeError(w, h.logger, http.StatusBadRequest, "asset_id and src are required")
		return
	}

	if req.Async {
		h.enqueue(w, r, req)
		return
	}

	result, err := h.executor.ExecuteAction(r.Context(), req.AssetID, req.Source)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Asset not found")
			return
		}
		h.logger.Error("Action failed", "error", err, "asset_id", req.AssetID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to execute action")
		return
	}

	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, h.logger, status, result)
}

func (h *ActionHandler) enqueue(w http.ResponseWriter, r *http.Request, req ActionRequest) {
	if h.queue == nil {
		writeError(w, h.logger, http.StatusBadRequest, "Async actions are not enabled")
		return
	}

	queued := queue.NewActionRequest(req.AssetID, req.Source, req.CharacterID)
	if err := h.queue.EnqueueAction(r.Context(), queued); err != nil {
		h.logger.Error("Failed to enqueue action", "error", err, "asset_id", req.AssetID)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to enqueue action")
		return
	}

	requestID := queued.RequestID.String()
	if h.notifier != nil {
		if err := h.notifier.PublishActionQueued(r.Context(), req.AssetID, requestID); err != nil {
			h.logger.Error("Failed to publish queued event", "error", err)
		}
	}

	h.logger.Info("Action queued", "request_id", requestID, "asset_id", req.AssetID)
	writeJSON(w, h.logger, http.StatusAccepted, QueuedResponse{RequestID: requestID, Status: "queued"})
}
