package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
	"github.com/redis/go-redis/v9"
)

const (
	fieldState        = "state"
	fieldDependencies = "dependencies"
	fieldImportTree   = "importTree"
	fieldMapCache     = "mapCache"
	fieldComponents   = "components"

	charactersKey = "characters:in-play"
)

// RedisStorage implements the Storage interface on Redis. Each asset record is a hash
// keyed by asset id with one JSON-encoded field per metadata category.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
}

// Ensure RedisStorage implements Storage interface
var _ storage.Storage = (*RedisStorage)(nil)

// NewRedisStorage creates a new Redis storage instance from a redis:// URL
func NewRedisStorage(redisURL string, logger *slog.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &RedisStorage{
		client: redis.NewClient(opt),
		logger: logger,
	}, nil
}

// Client returns the underlying Redis client for sharing with queue and events services
func (r *RedisStorage) Client() *redis.Client {
	return r.client
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

func assetKey(assetID string) string {
	return "asset:" + assetID
}

// Asset operations

func (r *RedisStorage) GetAsset(ctx context.Context, assetID string) (*storage.AssetRecord, error) {
	fields, err := r.client.HGetAll(ctx, assetKey(assetID)).Result()
	if err != nil {
		r.logger.Error("Failed to load asset", "asset_id", assetID, "error", err)
		return nil, fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", storage.ErrAssetNotFound, assetID)
	}
	return decodeAsset(assetID, fields)
}

func (r *RedisStorage) BatchGetAssets(ctx context.Context, assetIDs []string) (map[string]*storage.AssetRecord, error) {
	if len(assetIDs) == 0 {
		return map[string]*storage.AssetRecord{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, assetKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("Failed to batch load assets", "asset_ids", assetIDs, "error", err)
		return nil, fmt.Errorf("failed to batch load assets: %w", err)
	}

	out := make(map[string]*storage.AssetRecord, len(assetIDs))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load asset %s: %w", id, err)
		}
		if len(fields) == 0 {
			r.logger.Debug("Asset not found in batch", "asset_id", id)
			continue
		}
		rec, err := decodeAsset(id, fields)
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

func (r *RedisStorage) UpdateAsset(ctx context.Context, assetID string, patch storage.AssetPatch) error {
	var values []any
	if patch.State != nil {
		data, err := json.Marshal(patch.State)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		values = append(values, fieldState, string(data))
	}
	if patch.MapCache != nil {
		data, err := json.Marshal(patch.MapCache)
		if err != nil {
			return fmt.Errorf("failed to marshal map cache: %w", err)
		}
		values = append(values, fieldMapCache, string(data))
	}
	if len(values) == 0 {
		return nil
	}

	if err := r.client.HSet(ctx, assetKey(assetID), values...).Err(); err != nil {
		r.logger.Error("Failed to update asset", "asset_id", assetID, "error", err)
		return fmt.Errorf("failed to update asset %s: %w", assetID, err)
	}
	return nil
}

// PutAsset stores record as the complete asset, replacing any previous version
func (r *RedisStorage) PutAsset(ctx context.Context, record *storage.AssetRecord) error {
	if record == nil || record.AssetID == "" {
		return errors.New("asset record requires an id")
	}

	values := make([]any, 0, 10)
	for field, v := range map[string]any{
		fieldState:        record.State,
		fieldDependencies: record.Dependencies,
		fieldImportTree:   record.ImportTree,
		fieldComponents:   record.Components,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", field, err)
		}
		values = append(values, field, string(data))
	}
	if record.MapCache != nil {
		data, err := json.Marshal(record.MapCache)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", fieldMapCache, err)
		}
		values = append(values, fieldMapCache, string(data))
	}

	// The record replaces whatever was stored, including a map cache it does not carry
	key := assetKey(record.AssetID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values...)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save asset", "asset_id", record.AssetID, "error", err)
		return fmt.Errorf("failed to save asset %s: %w", record.AssetID, err)
	}
	return nil
}

func decodeAsset(assetID string, fields map[string]string) (*storage.AssetRecord, error) {
	rec := &storage.AssetRecord{
		AssetMeta: state.AssetMeta{
			AssetID:      assetID,
			State:        state.AssetState{},
			Dependencies: state.DependencyGraph{},
			ImportTree:   state.ImportTree{},
		},
		Components: map[string]perception.Component{},
	}

	targets := map[string]any{
		fieldState:        &rec.State,
		fieldDependencies: &rec.Dependencies,
		fieldImportTree:   &rec.ImportTree,
		fieldComponents:   &rec.Components,
	}
	for field, target := range targets {
		raw, ok := fields[field]
		if !ok || raw == "" || raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s of asset %s: %w", field, assetID, err)
		}
	}
	if raw, ok := fields[fieldMapCache]; ok && raw != "" && raw != "null" {
		var cache perception.MapCache
		if err := json.Unmarshal([]byte(raw), &cache); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s of asset %s: %w", fieldMapCache, assetID, err)
		}
		rec.MapCache = &cache
	}
	return rec, nil
}

// Character operations

func (r *RedisStorage) GetCharacter(ctx context.Context, characterID string) (*storage.Character, error) {
	data, err := r.client.HGet(ctx, charactersKey, characterID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrCharacterNotFound, characterID)
		}
		r.logger.Error("Failed to load character", "character_id", characterID, "error", err)
		return nil, fmt.Errorf("failed to load character: %w", err)
	}

	var c storage.Character
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal character: %w", err)
	}
	return &c, nil
}

func (r *RedisStorage) ListCharactersInPlay(ctx context.Context) ([]storage.Character, error) {
	entries, err := r.client.HGetAll(ctx, charactersKey).Result()
	if err != nil {
		r.logger.Error("Failed to list characters", "error", err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}

	out := make([]storage.Character, 0, len(entries))
	for id, data := range entries {
		var c storage.Character
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			r.logger.Warn("Skipping malformed character record", "character_id", id, "error", err)
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b storage.Character) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *RedisStorage) PutCharacter(ctx context.Context, character *storage.Character) error {
	if character == nil || character.ID == "" {
		return errors.New("character requires an id")
	}
	data, err := json.Marshal(character)
	if err != nil {
		return fmt.Errorf("failed to marshal character: %w", err)
	}
	if err := r.client.HSet(ctx, charactersKey, character.ID, string(data)).Err(); err != nil {
		r.logger.Error("Failed to save character", "character_id", character.ID, "error", err)
		return fmt.Errorf("failed to save character: %w", err)
	}
	return nil
}
