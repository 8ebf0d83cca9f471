package world

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/sandbox"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// Publisher delivers room updates to connected characters
type Publisher interface {
	PublishRoomUpdate(ctx context.Context, update events.RoomUpdate) error
}

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	SandboxTimeout time.Duration
	RequestTimeout time.Duration
	MaxDepth       int
	RenderWorkers  int
}

// Engine runs actions against assets and keeps derived state, map caches and
// connected characters' views in step with the result.
type Engine struct {
	storage   storage.Storage
	publisher Publisher
	sandbox   *sandbox.Sandbox
	recalc    *state.Recalculator
	renderer  *perception.Renderer
	logger    *slog.Logger
	opts      Options
}

func NewEngine(store storage.Storage, publisher Publisher, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.RenderWorkers <= 0 {
		opts.RenderWorkers = 8
	}
	sb := sandbox.New(opts.SandboxTimeout)
	return &Engine{
		storage:   store,
		publisher: publisher,
		sandbox:   sb,
		recalc:    state.NewRecalculator(sb, logger, opts.MaxDepth),
		renderer:  perception.NewRenderer(sb, logger),
		logger:    logger,
		opts:      opts,
	}
}

// ActionResult reports what an action did
type ActionResult struct {
	ReturnValue  any             `json:"returnValue"`
	Error        string          `json:"error,omitempty"`
	Recalculated state.ChangeSet `json:"recalculated"`
	RoomUpdates  int             `json:"roomUpdates"`
	WriteErrors  []string        `json:"writeErrors,omitempty"`
}

// ExecuteAction runs src against the asset's current values, applies the variables it
// changed, cascades the change, persists every touched asset and refreshes the rooms
// whose rendering depends on a recalculated key. A failing script changes nothing.
func (e *Engine) ExecuteAction(ctx context.Context, assetID, src string) (*ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	rec, err := e.storage.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}

	out := e.sandbox.Execute(ctx, src, rec.State.Bindings())
	result := &ActionResult{Recalculated: state.ChangeSet{}}
	if evalErr, ok := out.Return.(*sandbox.EvalError); ok {
		e.logger.Warn("Action script failed",
			"asset_id", assetID,
			"error", evalErr.Err)
		result.Error = evalErr.Error()
		return result, nil
	}
	result.ReturnValue = out.Return

	changed := applyVariables(rec.State, out, e.logger, assetID)
	if len(changed) == 0 {
		e.logger.Debug("Action changed no variables", "asset_id", assetID)
		return result, nil
	}

	records := map[string]*storage.AssetRecord{assetID: rec}
	loader := &recordLoader{store: e.storage, records: records}
	cascade := state.NewCascade(e.recalc, loader, e.logger)
	cascaded, err := cascade.Run(ctx,
		map[string]*state.AssetMeta{assetID: &rec.AssetMeta},
		state.ChangeSet{assetID: changed})
	if err != nil {
		return nil, fmt.Errorf("failed to cascade changes from %s: %w", assetID, err)
	}
	result.Recalculated = cascaded.Recalculated

	if err := e.persistAll(ctx, records, cascaded); err != nil {
		e.logger.Error("Some asset writes failed", "asset_id", assetID, "error", err)
		result.WriteErrors = append(result.WriteErrors, err.Error())
	}

	sent, err := e.RefreshRooms(ctx, records, cascaded.Recalculated)
	if err != nil {
		e.logger.Error("Room refresh failed", "asset_id", assetID, "error", err)
	}
	result.RoomUpdates = sent

	e.logger.Info("Action executed",
		"asset_id", assetID,
		"assets_recalculated", len(cascaded.Recalculated),
		"room_updates", sent)
	return result, nil
}

// applyVariables copies script-modified values into st. Computed keys are derived and
// only ever written by recalculation, so changes to them are dropped.
func applyVariables(st state.AssetState, out sandbox.Result, logger *slog.Logger, assetID string) []string {
	var changed []string
	for _, key := range out.Changed {
		entry, ok := st[key]
		if !ok {
			continue
		}
		if entry.IsComputed() {
			logger.Debug("Ignoring assignment to computed key", "asset_id", assetID, "key", key)
			continue
		}
		entry.Value = out.Bindings[key]
		st[key] = entry
		changed = append(changed, key)
	}
	return changed
}

// recordLoader feeds the cascade from storage and keeps the full records it fetched
type recordLoader struct {
	store   storage.Storage
	records map[string]*storage.AssetRecord
}

func (l *recordLoader) LoadAssets(ctx context.Context, assetIDs []string) (map[string]*state.AssetMeta, error) {
	recs, err := l.store.BatchGetAssets(ctx, assetIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*state.AssetMeta, len(recs))
	for id, rec := range recs {
		l.records[id] = rec
		out[id] = &rec.AssetMeta
	}
	return out, nil
}
