package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/redis/go-redis/v9"
)

// RoomUpdatesChannel carries RoomUpdate messages for the message-delivery layer
const RoomUpdatesChannel = "room-updates"

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeActionQueued     EventType = "action.queued"
	EventTypeActionProcessing EventType = "action.processing"
	EventTypeActionCompleted  EventType = "action.completed"
	EventTypeActionFailed     EventType = "action.failed"
)

// Event represents an action lifecycle event
type Event struct {
	Type      EventType              `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	AssetID   string                 `json:"asset_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// RoomUpdate tells the listed characters that the room they occupy has changed
type RoomUpdate struct {
	DisplayProtocol string                `json:"DisplayProtocol"`
	RoomID          string                `json:"RoomId"`
	Name            string                `json:"Name"`
	Description     []perception.Fragment `json:"Description"`
	Exits           []perception.Exit     `json:"Exits"`
	Features        []string              `json:"Features"`
	Targets         []string              `json:"Targets"`
}

// NewRoomUpdate builds a RoomUpdate from a rendered room
func NewRoomUpdate(desc perception.Description, targets []string) RoomUpdate {
	return RoomUpdate{
		DisplayProtocol: "RoomUpdate",
		RoomID:          desc.TargetID,
		Name:            desc.Name,
		Description:     desc.Description,
		Exits:           desc.Exits,
		Features:        desc.Features,
		Targets:         targets,
	}
}

// Broadcaster publishes events to Redis Pub/Sub for delivery to clients
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// AssetChannel returns the channel carrying action events for an asset
func AssetChannel(assetID string) string {
	return fmt.Sprintf("asset-events:%s", assetID)
}

// PublishRoomUpdate publishes a room update to the room-updates channel
func (b *Broadcaster) PublishRoomUpdate(ctx context.Context, update RoomUpdate) error {
	return b.publish(ctx, RoomUpdatesChannel, update, "RoomUpdate", "")
}

// PublishActionQueued publishes an action.queued event
func (b *Broadcaster) PublishActionQueued(ctx context.Context, assetID, requestID string) error {
	event := Event{
		Type:      EventTypeActionQueued,
		RequestID: requestID,
		AssetID:   assetID,
		Data: map[string]interface{}{
			"status": "queued",
		},
	}
	return b.publishToAsset(ctx, event)
}

// PublishActionProcessing publishes an action.processing event
func (b *Broadcaster) PublishActionProcessing(ctx context.Context, assetID, requestID, src string) error {
	event := Event{
		Type:      EventTypeActionProcessing,
		RequestID: requestID,
		AssetID:   assetID,
		Data: map[string]interface{}{
			"status": "processing",
			"src":    src,
		},
	}
	return b.publishToAsset(ctx, event)
}

// PublishActionCompleted publishes an action.completed event
func (b *Broadcaster) PublishActionCompleted(ctx context.Context, assetID, requestID string, result map[string]interface{}) error {
	event := Event{
		Type:      EventTypeActionCompleted,
		RequestID: requestID,
		AssetID:   assetID,
		Data: map[string]interface{}{
			"status": "completed",
			"result": result,
		},
	}
	return b.publishToAsset(ctx, event)
}

// PublishActionFailed publishes an action.failed event
func (b *Broadcaster) PublishActionFailed(ctx context.Context, assetID, requestID, errorMsg string) error {
	event := Event{
		Type:      EventTypeActionFailed,
		RequestID: requestID,
		AssetID:   assetID,
		Data: map[string]interface{}{
			"status": "failed",
			"error":  errorMsg,
		},
	}
	return b.publishToAsset(ctx, event)
}

func (b *Broadcaster) publishToAsset(ctx context.Context, event Event) error {
	return b.publish(ctx, AssetChannel(event.AssetID), event, string(event.Type), event.RequestID)
}

func (b *Broadcaster) publish(ctx context.Context, channel string, payload any, eventType, requestID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", eventType)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", eventType,
		"request_id", requestID,
	)

	return nil
}
