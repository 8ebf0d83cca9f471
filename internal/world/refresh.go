package world

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// audience is the set of characters sharing one room and one render scope
type audience struct {
	roomID  string
	assets  []string
	targets []string
}

// AffectedRooms returns the rooms whose rendering reads a recalculated key, sorted
func AffectedRooms(records map[string]*storage.AssetRecord, recalculated state.ChangeSet) []string {
	rooms := make(map[string]bool)
	for assetID, keys := range recalculated {
		rec, ok := records[assetID]
		if !ok {
			continue
		}
		for _, key := range keys {
			for _, room := range rec.Dependencies[key].Room {
				rooms[room] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(rooms))
}

// RefreshRooms re-renders every affected room once per distinct render scope among the
// characters in it and publishes the result to those characters. It returns the number
// of updates published. records is used as a read-through cache of asset records.
func (e *Engine) RefreshRooms(ctx context.Context, records map[string]*storage.AssetRecord, recalculated state.ChangeSet) (int, error) {
	rooms := AffectedRooms(records, recalculated)
	if len(rooms) == 0 {
		return 0, nil
	}

	characters, err := e.storage.ListCharactersInPlay(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list characters in play: %w", err)
	}
	groups := groupAudiences(rooms, characters)
	if len(groups) == 0 {
		e.logger.Debug("No characters in affected rooms", "rooms", rooms)
		return 0, nil
	}

	var scope []string
	for _, g := range groups {
		scope = append(scope, g.assets...)
	}
	if err := e.fillRecords(ctx, records, scope); err != nil {
		return 0, err
	}

	// Asset values are final at this point, so every render can share one pass
	pass := perception.NewPass()
	var sent atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.RenderWorkers)
	for _, a := range groups {
		g.Go(func() error {
			desc := e.renderer.Render(gctx, pass, a.roomID, layersFor(records, a.assets))
			update := events.NewRoomUpdate(desc, a.targets)
			if e.publisher == nil {
				return nil
			}
			if err := e.publisher.PublishRoomUpdate(gctx, update); err != nil {
				e.logger.Error("Failed to publish room update",
					"room_id", a.roomID,
					"targets", a.targets,
					"error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(sent.Load()), err
	}
	return int(sent.Load()), nil
}

// groupAudiences buckets the characters standing in one of rooms by (room, scope),
// in room order then first appearance
func groupAudiences(rooms []string, characters []storage.Character) []*audience {
	var groups []*audience
	index := make(map[string]*audience)
	for _, room := range rooms {
		for _, c := range characters {
			if c.RoomID != room {
				continue
			}
			key := room + "\x00" + strings.Join(c.Assets, "\x00")
			a, ok := index[key]
			if !ok {
				a = &audience{roomID: room, assets: c.Assets}
				index[key] = a
				groups = append(groups, a)
			}
			a.targets = append(a.targets, c.ID)
		}
	}
	return groups
}

// fillRecords loads any asset in ids that records does not hold yet
func (e *Engine) fillRecords(ctx context.Context, records map[string]*storage.AssetRecord, ids []string) error {
	var missing []string
	for _, id := range ids {
		if _, ok := records[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	loaded, err := e.storage.BatchGetAssets(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to load render scope %v: %w", missing, err)
	}
	for id, rec := range loaded {
		records[id] = rec
	}
	for _, id := range missing {
		if _, ok := loaded[id]; !ok {
			e.logger.Warn("Render scope asset not found", "asset_id", id)
		}
	}
	return nil
}

func layersFor(records map[string]*storage.AssetRecord, assets []string) []perception.Layer {
	layers := make([]perception.Layer, 0, len(assets))
	for _, id := range assets {
		if rec, ok := records[id]; ok {
			layers = append(layers, rec.Layer())
		}
	}
	return layers
}
