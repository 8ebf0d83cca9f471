package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// Persist writes an asset's new state. The map cache is rebuilt and written alongside it
// only when a recalculated key feeds a map-visible room.
func (e *Engine) Persist(ctx context.Context, rec *storage.AssetRecord, recalculated []string) error {
	patch := storage.AssetPatch{State: rec.State}
	if needsMapCache(rec.Dependencies, recalculated) {
		cache := e.renderer.BuildMapCache(ctx, perception.NewPass(), rec.Layer())
		patch.MapCache = &cache
		rec.MapCache = &cache
	}
	if err := e.storage.UpdateAsset(ctx, rec.AssetID, patch); err != nil {
		return fmt.Errorf("failed to persist asset %s: %w", rec.AssetID, err)
	}
	return nil
}

func needsMapCache(graph state.DependencyGraph, keys []string) bool {
	for _, key := range keys {
		if len(graph[key].MapCache) > 0 {
			return true
		}
	}
	return false
}

// persistAll writes every asset the cascade recalculated. A failed write does not stop
// the others; failures are joined into the returned error.
func (e *Engine) persistAll(ctx context.Context, records map[string]*storage.AssetRecord, cascaded *state.CascadeResult) error {
	var errs []error
	for _, assetID := range cascaded.Recalculated.Assets() {
		rec, ok := records[assetID]
		if !ok {
			continue
		}
		if err := e.Persist(ctx, rec, cascaded.Recalculated[assetID]); err != nil {
			e.logger.Error("Failed to persist asset", "asset_id", assetID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
