package state

import (
	"context"
	"log/slog"
	"slices"

	"github.com/jwebster45206/world-engine/pkg/sandbox"
)

// DefaultMaxDepth is the depth ceiling used when none is configured
const DefaultMaxDepth = 64

// Recalculator recomputes the computed values of a single asset
type Recalculator struct {
	sandbox  *sandbox.Sandbox
	logger   *slog.Logger
	maxDepth int
}

// Recalculation is the outcome of one intra-asset pass
type Recalculation struct {
	State        AssetState
	Recalculated []string // changed keys first, then recomputed keys in evaluation order
	Circular     []string // keys skipped because they sit on a dependency cycle
	Truncated    []string // keys skipped because they exceed the depth ceiling
}

func NewRecalculator(sb *sandbox.Sandbox, logger *slog.Logger, maxDepth int) *Recalculator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recalculator{sandbox: sb, logger: logger, maxDepth: maxDepth}
}

// Recalculate recomputes every computed key transitively affected by changed. The input
// state is not modified. Keys on a dependency cycle keep their prior values, as does any
// key whose expression fails to evaluate.
func (r *Recalculator) Recalculate(ctx context.Context, assetID string, st AssetState, graph DependencyGraph, changed []string) Recalculation {
	seeds := dedupe(changed)
	if len(seeds) == 0 {
		return Recalculation{State: st}
	}

	reach := graph.Reachable(seeds)
	circular := graph.CyclicKeys(reach)
	blocked := make(map[string]bool, len(circular))
	for _, k := range circular {
		blocked[k] = true
	}
	if len(circular) > 0 {
		r.logger.Warn("Circular dependency detected, skipping keys",
			"asset_id", assetID,
			"keys", circular)
	}

	layers, truncated := graph.layer(seeds, blocked, r.maxDepth)
	if len(truncated) > 0 {
		r.logger.Warn("Recalculation depth ceiling reached, skipping keys",
			"asset_id", assetID,
			"max_depth", r.maxDepth,
			"keys", truncated)
	}

	next := st.Clone()
	recalculated := slices.Clone(seeds)
	memo := sandbox.NewMemo()

	for depth, keys := range layers {
		if len(keys) == 0 {
			continue
		}
		// Keys within one layer never read each other, so one snapshot serves the layer
		memo.Reset()
		bindings := next.Bindings()
		for _, key := range keys {
			entry, ok := next[key]
			if !ok || !entry.IsComputed() {
				r.logger.Debug("Dependent key is not a computed entry",
					"asset_id", assetID,
					"key", key)
				continue
			}
			value := memo.Evaluate(ctx, r.sandbox, entry.Src, bindings)
			if sandbox.IsError(value) {
				r.logger.Warn("Computed expression failed, keeping prior value",
					"asset_id", assetID,
					"key", key,
					"error", value)
			} else {
				entry.Value = value
				next[key] = entry
			}
			recalculated = append(recalculated, key)
		}
		r.logger.Debug("Recalculated layer",
			"asset_id", assetID,
			"depth", depth,
			"keys", keys)
	}

	return Recalculation{
		State:        next,
		Recalculated: recalculated,
		Circular:     circular,
		Truncated:    truncated,
	}
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
