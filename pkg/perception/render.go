package perception

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/jwebster45206/world-engine/pkg/sandbox"
)

// ComponentKind distinguishes rooms from features
type ComponentKind string

const (
	KindRoom    ComponentKind = "Room"
	KindFeature ComponentKind = "Feature"
)

// Exit is a directional link out of a room
type Exit struct {
	Name string `json:"name"`
	To   string `json:"to"`
}

// Appearance is one conditionally visible slice of a component's content
type Appearance struct {
	Conditions []string   `json:"conditions,omitempty"`
	Render     []Fragment `json:"render,omitempty"`
	Name       []Fragment `json:"name,omitempty"`
	Exits      []Exit     `json:"exits,omitempty"`
	Features   []string   `json:"features,omitempty"`
}

// Component is everything one asset says about a room or feature
type Component struct {
	Kind        ComponentKind `json:"kind"`
	Appearances []Appearance  `json:"appearances,omitempty"`
}

// Layer is one asset's contribution to a render: its current values and components
type Layer struct {
	AssetID    string
	Bindings   map[string]any
	Components map[string]Component
}

// Description is the rendered view of a room or feature
type Description struct {
	TargetID    string     `json:"targetId"`
	Name        string     `json:"name"`
	Description []Fragment `json:"description"`
	Exits       []Exit     `json:"exits"`
	Features    []string   `json:"features"`
}

// Pass carries the per-pass evaluation memo, one per asset. A Pass must not outlive the
// bindings it was used with.
type Pass struct {
	mu    sync.Mutex
	memos map[string]*sandbox.Memo
}

func NewPass() *Pass {
	return &Pass{memos: make(map[string]*sandbox.Memo)}
}

func (p *Pass) memo(assetID string) *sandbox.Memo {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.memos[assetID]
	if !ok {
		m = sandbox.NewMemo()
		p.memos[assetID] = m
	}
	return m
}

// Renderer evaluates appearance conditions and merges visible content
type Renderer struct {
	sandbox *sandbox.Sandbox
	logger  *slog.Logger
}

func NewRenderer(sb *sandbox.Sandbox, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{sandbox: sb, logger: logger}
}

// Render merges the visible appearances of target across layers. Layers are ordered by
// import precedence, most derived last, so later layers extend earlier ones.
func (r *Renderer) Render(ctx context.Context, pass *Pass, targetID string, layers []Layer) Description {
	desc := Description{
		TargetID:    targetID,
		Description: []Fragment{},
		Exits:       []Exit{},
		Features:    []string{},
	}

	var fragments, names []Fragment
	for _, layer := range layers {
		component, ok := layer.Components[targetID]
		if !ok {
			continue
		}
		memo := pass.memo(layer.AssetID)
		for _, appearance := range component.Appearances {
			if !r.visible(ctx, memo, layer, appearance.Conditions) {
				continue
			}
			fragments = append(fragments, appearance.Render...)
			names = append(names, appearance.Name...)
			desc.Exits = append(desc.Exits, appearance.Exits...)
			desc.Features = append(desc.Features, appearance.Features...)
		}
	}

	desc.Name = JoinNames(names)
	desc.Description = Merge(fragments)
	return desc
}

// visible ANDs conditions in order, stopping at the first false or failing one
func (r *Renderer) visible(ctx context.Context, memo *sandbox.Memo, layer Layer, conditions []string) bool {
	for _, cond := range conditions {
		v := memo.Evaluate(ctx, r.sandbox, cond, layer.Bindings)
		if sandbox.IsError(v) {
			r.logger.Debug("Condition failed to evaluate",
				"asset_id", layer.AssetID,
				"condition", cond,
				"error", v)
			return false
		}
		if !sandbox.Truthy(v) {
			return false
		}
	}
	return true
}

// MapRoom is the map-relevant view of one room
type MapRoom struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	Exits   []Exit `json:"exits"`
}

// MapCache is the precomputed room visibility snapshot for an asset
type MapCache struct {
	Rooms []MapRoom `json:"rooms"`
}

// BuildMapCache evaluates every room component in layer, sorted by room id
func (r *Renderer) BuildMapCache(ctx context.Context, pass *Pass, layer Layer) MapCache {
	cache := MapCache{Rooms: []MapRoom{}}
	for _, roomID := range slices.Sorted(maps.Keys(layer.Components)) {
		component := layer.Components[roomID]
		if component.Kind != KindRoom {
			continue
		}
		desc := r.Render(ctx, pass, roomID, []Layer{layer})
		visible := false
		memo := pass.memo(layer.AssetID)
		for _, appearance := range component.Appearances {
			if r.visible(ctx, memo, layer, appearance.Conditions) {
				visible = true
				break
			}
		}
		cache.Rooms = append(cache.Rooms, MapRoom{
			RoomID:  roomID,
			Name:    desc.Name,
			Visible: visible,
			Exits:   desc.Exits,
		})
	}
	return cache
}
