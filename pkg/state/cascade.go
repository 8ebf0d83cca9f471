package state

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Loader fetches asset metadata that a cascade has not loaded yet
type Loader interface {
	LoadAssets(ctx context.Context, assetIDs []string) (map[string]*AssetMeta, error)
}

// Cascade propagates changes across assets along their import bindings
type Cascade struct {
	recalc *Recalculator
	loader Loader
	logger *slog.Logger
}

// CascadeResult holds the final state of every asset the cascade touched
type CascadeResult struct {
	Metas        map[string]*AssetMeta // every loaded asset, updated in place
	Recalculated ChangeSet             // per asset, in evaluation order
	Order        []string              // assets in the order they were evaluated
}

// States returns the final state of each asset with recalculated keys
func (r *CascadeResult) States() map[string]AssetState {
	out := make(map[string]AssetState, len(r.Recalculated))
	for asset := range r.Recalculated {
		if meta, ok := r.Metas[asset]; ok {
			out[asset] = meta.State
		}
	}
	return out
}

func NewCascade(recalc *Recalculator, loader Loader, logger *slog.Logger) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{recalc: recalc, loader: loader, logger: logger}
}

// Run recalculates each changed asset in import order and stages exported values into
// importing assets until no asset has unprocessed changes. metas is updated in place;
// importing assets missing from it are fetched through the loader on first reference.
// Each (asset, key) pair is processed at most once per run, which bounds the loop.
func (c *Cascade) Run(ctx context.Context, metas map[string]*AssetMeta, changed ChangeSet) (*CascadeResult, error) {
	if metas == nil {
		metas = make(map[string]*AssetMeta)
	}
	pending := make(ChangeSet, len(changed))
	for asset, keys := range changed {
		pending.Add(asset, keys...)
	}
	processed := make(map[string]map[string]bool)
	result := &CascadeResult{Metas: metas, Recalculated: make(ChangeSet)}

	if err := c.loadMissing(ctx, metas, pending.Assets()); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cascade aborted: %w", err)
		}

		assetID, keys := c.next(metas, pending, processed)
		if assetID == "" {
			break
		}
		delete(pending, assetID)
		if processed[assetID] == nil {
			processed[assetID] = make(map[string]bool)
		}
		for _, k := range keys {
			processed[assetID][k] = true
		}

		meta := metas[assetID]
		recalc := c.recalc.Recalculate(ctx, assetID, meta.State, meta.Dependencies, keys)
		meta.State = recalc.State
		result.Recalculated.Add(assetID, recalc.Recalculated...)
		result.Order = append(result.Order, assetID)

		c.logger.Debug("Asset recalculated",
			"asset_id", assetID,
			"changed", keys,
			"recalculated", recalc.Recalculated)

		staged, err := c.stageExports(ctx, metas, meta, recalc.Recalculated)
		if err != nil {
			return nil, err
		}
		for importer, awayKeys := range staged {
			pending.Add(importer, awayKeys...)
		}
	}

	return result, nil
}

// next picks the first asset in import order with unprocessed pending keys
func (c *Cascade) next(metas map[string]*AssetMeta, pending ChangeSet, processed map[string]map[string]bool) (string, []string) {
	tree := make(ImportTree)
	for id, meta := range metas {
		tree.Merge(meta.ImportTree)
		tree.Merge(ImportTree{id: nil})
	}
	order, cyclic := TopologicalOrder(tree)
	if len(cyclic) > 0 {
		c.logger.Warn("Import cycle detected, evaluating cyclic assets alphabetically", "assets", cyclic)
	}

	for _, assetID := range order {
		keys, ok := pending[assetID]
		if !ok {
			continue
		}
		if _, loaded := metas[assetID]; !loaded {
			continue
		}
		var fresh []string
		for _, k := range keys {
			if !processed[assetID][k] {
				fresh = append(fresh, k)
			}
		}
		if len(fresh) == 0 {
			delete(pending, assetID)
			continue
		}
		return assetID, fresh
	}
	return "", nil
}

// stageExports copies recalculated values into the importing assets' states and returns
// the keys staged per importing asset
func (c *Cascade) stageExports(ctx context.Context, metas map[string]*AssetMeta, meta *AssetMeta, keys []string) (ChangeSet, error) {
	var importers []string
	for _, key := range keys {
		for _, binding := range meta.Dependencies[key].Imported {
			if !slices.Contains(importers, binding.Asset) {
				importers = append(importers, binding.Asset)
			}
		}
	}
	if len(importers) == 0 {
		return nil, nil
	}
	if err := c.loadMissing(ctx, metas, importers); err != nil {
		return nil, err
	}

	staged := make(ChangeSet)
	for _, key := range keys {
		value := meta.State[key].Value
		for _, binding := range meta.Dependencies[key].Imported {
			importer, ok := metas[binding.Asset]
			if !ok {
				c.logger.Warn("Importing asset not found, dropping export",
					"asset_id", meta.AssetID,
					"key", key,
					"importer", binding.Asset)
				continue
			}
			if importer.State == nil {
				importer.State = make(AssetState)
			}
			entry, exists := importer.State[binding.Key]
			if !exists {
				entry = Entry{Key: binding.Key, Kind: KindVariable}
			}
			entry.Value = value
			importer.State[binding.Key] = entry
			staged.Add(binding.Asset, binding.Key)
		}
	}
	return staged, nil
}

func (c *Cascade) loadMissing(ctx context.Context, metas map[string]*AssetMeta, assetIDs []string) error {
	var missing []string
	for _, id := range assetIDs {
		if _, ok := metas[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 || c.loader == nil {
		return nil
	}

	loaded, err := c.loader.LoadAssets(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to load assets %v: %w", missing, err)
	}
	for id, meta := range loaded {
		if meta == nil {
			continue
		}
		if meta.AssetID == "" {
			meta.AssetID = id
		}
		metas[id] = meta
	}
	return nil
}
