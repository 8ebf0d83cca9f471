package queue

import (
	"testing"

	"github.com/google/uuid"
)

func TestFromJSON(t *testing.T) {
	data := []byte(`{"request_id":"6f1c0b7e-2a4d-4c4b-9a55-0d2d6d7c9a11","asset_id":"BASE","src":"foo = false"}`)

	req, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if req.RequestID != uuid.MustParse("6f1c0b7e-2a4d-4c4b-9a55-0d2d6d7c9a11") {
		t.Errorf("unexpected request id %s", req.RequestID)
	}
	if req.AssetID != "BASE" || req.Source != "foo = false" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	if _, err := FromJSON([]byte(`{"request_id":"not-a-uuid"}`)); err == nil {
		t.Error("expected error for malformed request id")
	}
}

func TestNewActionRequest(t *testing.T) {
	req := NewActionRequest("BASE", "foo = true", "tess")
	if req.RequestID == uuid.Nil {
		t.Error("expected a request id")
	}
	if req.EnqueuedAt.IsZero() {
		t.Error("expected an enqueue time")
	}
	if req.CharacterID != "tess" {
		t.Errorf("expected character tess, got %q", req.CharacterID)
	}
}
