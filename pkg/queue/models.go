package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionRequest is an action script queued for execution against an asset
type ActionRequest struct {
	RequestID   uuid.UUID `json:"request_id"`
	AssetID     string    `json:"asset_id"`
	Source      string    `json:"src"`
	CharacterID string    `json:"character_id,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewActionRequest creates a request with a fresh id, stamped now
func NewActionRequest(assetID, src, characterID string) *ActionRequest {
	return &ActionRequest{
		RequestID:   uuid.New(),
		AssetID:     assetID,
		Source:      src,
		CharacterID: characterID,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// ToJSON converts the request to JSON bytes for Redis
func (r *ActionRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*ActionRequest, error) {
	var req ActionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
