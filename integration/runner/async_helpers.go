package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jwebster45206/world-engine/internal/handlers"
	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// PollInterval is how often to check stored state for updates
const PollInterval = 250 * time.Millisecond

// PostAction runs an action synchronously. Script errors come back in the result.
func PostAction(ctx context.Context, client *http.Client, baseURL, assetID, src string) (*world.ActionResult, error) {
	resp, err := postAction(ctx, client, baseURL, handlers.ActionRequest{AssetID: assetID, Source: src})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("action endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var result world.ActionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse action response: %w", err)
	}
	return &result, nil
}

// PostActionAsync queues an action and returns its request_id
func PostActionAsync(ctx context.Context, client *http.Client, baseURL, assetID, src string) (string, error) {
	resp, err := postAction(ctx, client, baseURL, handlers.ActionRequest{AssetID: assetID, Source: src, Async: true})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("action endpoint returned %d (expected 202): %s", resp.StatusCode, string(body))
	}

	var queued handlers.QueuedResponse
	if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
		return "", fmt.Errorf("failed to parse action response: %w", err)
	}
	return queued.RequestID, nil
}

func postAction(ctx context.Context, client *http.Client, baseURL string, body handlers.ActionRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/actions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send action request: %w", err)
	}
	return resp, nil
}

// GetRoom renders a room as a character sees it
func GetRoom(ctx context.Context, client *http.Client, baseURL, roomID, characterID string) (*world.RoomView, error) {
	endpoint := fmt.Sprintf("%s/v1/rooms/%s?character=%s", baseURL, url.PathEscape(roomID), url.QueryEscape(characterID))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create room request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send room request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("room endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var view world.RoomView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("failed to decode room: %w", err)
	}
	return &view, nil
}

// PollForState polls storage until every expected value is persisted. A worker has to
// pick the action up first, so there is nothing to wait on but the state itself.
func PollForState(ctx context.Context, store storage.Storage, want map[string]map[string]any, timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for state (waited %v): %v", timeout, lastErr)
		case <-ticker.C:
			if lastErr = stateMatches(ctx, store, want); lastErr == nil {
				return nil
			}
		}
	}
}
