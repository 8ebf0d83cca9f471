package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

func setupTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	rs, err := NewRedisStorage("redis://"+mr.Addr(), logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create redis storage: %v", err)
	}

	t.Cleanup(func() {
		_ = rs.Close()
		mr.Close()
	})
	return rs, mr
}

func testRecord() *storage.AssetRecord {
	return &storage.AssetRecord{
		AssetMeta: state.AssetMeta{
			AssetID: "BASE",
			State: state.AssetState{
				"foo":     {Key: "foo", Kind: state.KindVariable, Value: true},
				"antiFoo": {Key: "antiFoo", Kind: state.KindComputed, Src: "!foo", Value: false, Dependencies: []string{"foo"}},
			},
			Dependencies: state.DependencyGraph{
				"foo": {Computed: []string{"antiFoo"}, Room: []string{"hall"}},
			},
			ImportTree: state.ImportTree{"BASE": nil},
		},
		Components: map[string]perception.Component{
			"hall": {
				Kind: perception.KindRoom,
				Appearances: []perception.Appearance{
					{Name: []perception.Fragment{perception.String("Hall")}},
				},
			},
		},
	}
}

func TestRedisStorage_PutAndGetAsset(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.PutAsset(ctx, testRecord()); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}

	got, err := rs.GetAsset(ctx, "BASE")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}

	if got.AssetID != "BASE" {
		t.Errorf("Expected asset id BASE, got %q", got.AssetID)
	}
	if got.State["foo"].Value != true {
		t.Errorf("Expected foo=true, got %v", got.State["foo"].Value)
	}
	if got.State["antiFoo"].Src != "!foo" {
		t.Errorf("Expected antiFoo src to round trip, got %q", got.State["antiFoo"].Src)
	}
	if !reflect.DeepEqual(got.Dependencies["foo"].Room, []string{"hall"}) {
		t.Errorf("Expected room dependency, got %v", got.Dependencies["foo"].Room)
	}
	if got.Components["hall"].Kind != perception.KindRoom {
		t.Errorf("Expected hall component, got %+v", got.Components)
	}
	if got.MapCache != nil {
		t.Errorf("Expected no map cache, got %+v", got.MapCache)
	}
}

func TestRedisStorage_GetAssetNotFound(t *testing.T) {
	rs, _ := setupTestRedis(t)

	_, err := rs.GetAsset(context.Background(), "missing")
	if !errors.Is(err, storage.ErrAssetNotFound) {
		t.Fatalf("Expected ErrAssetNotFound, got %v", err)
	}
}

func TestRedisStorage_UpdateAssetIsPartial(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.PutAsset(ctx, testRecord()); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}

	newState := testRecord().State
	newState["foo"] = state.Entry{Key: "foo", Kind: state.KindVariable, Value: false}
	if err := rs.UpdateAsset(ctx, "BASE", storage.AssetPatch{State: newState}); err != nil {
		t.Fatalf("UpdateAsset failed: %v", err)
	}
	if mr.HGet("asset:BASE", "mapCache") != "" {
		t.Errorf("State-only update must not write the map cache")
	}

	cache := &perception.MapCache{Rooms: []perception.MapRoom{{RoomID: "hall", Name: "Hall", Visible: true}}}
	if err := rs.UpdateAsset(ctx, "BASE", storage.AssetPatch{MapCache: cache}); err != nil {
		t.Fatalf("UpdateAsset failed: %v", err)
	}

	got, err := rs.GetAsset(ctx, "BASE")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.State["foo"].Value != false {
		t.Errorf("Expected foo=false after update, got %v", got.State["foo"].Value)
	}
	if _, ok := got.Components["hall"]; !ok {
		t.Errorf("Components should survive a partial update")
	}
	if got.MapCache == nil || len(got.MapCache.Rooms) != 1 || got.MapCache.Rooms[0].RoomID != "hall" {
		t.Errorf("Expected map cache with hall, got %+v", got.MapCache)
	}
}

func TestRedisStorage_PutAssetReplacesMapCache(t *testing.T) {
	rs, mr := setupTestRedis(t)
	ctx := context.Background()

	cached := testRecord()
	cached.MapCache = &perception.MapCache{Rooms: []perception.MapRoom{{RoomID: "hall", Name: "Hall", Visible: false}}}
	if err := rs.PutAsset(ctx, cached); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}

	// Reseeding without a cache must not leave the old one behind
	if err := rs.PutAsset(ctx, testRecord()); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}
	if mr.HGet("asset:BASE", "mapCache") != "" {
		t.Errorf("Expected stale map cache to be removed")
	}

	got, err := rs.GetAsset(ctx, "BASE")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if got.MapCache != nil {
		t.Errorf("Expected no map cache, got %+v", got.MapCache)
	}
	if got.State["foo"].Value != true {
		t.Errorf("Expected foo=true after reseed, got %v", got.State["foo"].Value)
	}
}

func TestRedisStorage_BatchGetAssets(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	rec := testRecord()
	if err := rs.PutAsset(ctx, rec); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}
	rec.AssetID = "LAYER"
	if err := rs.PutAsset(ctx, rec); err != nil {
		t.Fatalf("PutAsset failed: %v", err)
	}

	got, err := rs.BatchGetAssets(ctx, []string{"BASE", "LAYER", "missing"})
	if err != nil {
		t.Fatalf("BatchGetAssets failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 assets, got %d", len(got))
	}
	if got["LAYER"].AssetID != "LAYER" {
		t.Errorf("Expected LAYER record, got %q", got["LAYER"].AssetID)
	}
	if _, ok := got["missing"]; ok {
		t.Errorf("Missing assets must be omitted")
	}

	empty, err := rs.BatchGetAssets(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty result for no ids, got %v, %v", empty, err)
	}
}

func TestRedisStorage_Characters(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	for _, c := range []storage.Character{
		{ID: "tess", Name: "Tess", RoomID: "hall", Assets: []string{"BASE"}},
		{ID: "abe", Name: "Abe", RoomID: "study", Assets: []string{"BASE", "LAYER"}},
	} {
		if err := rs.PutCharacter(ctx, &c); err != nil {
			t.Fatalf("PutCharacter failed: %v", err)
		}
	}

	c, err := rs.GetCharacter(ctx, "abe")
	if err != nil {
		t.Fatalf("GetCharacter failed: %v", err)
	}
	if c.RoomID != "study" || len(c.Assets) != 2 {
		t.Errorf("Unexpected character: %+v", c)
	}

	list, err := rs.ListCharactersInPlay(ctx)
	if err != nil {
		t.Fatalf("ListCharactersInPlay failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "abe" || list[1].ID != "tess" {
		t.Errorf("Expected characters sorted by id, got %+v", list)
	}

	if _, err := rs.GetCharacter(ctx, "nobody"); !errors.Is(err, storage.ErrCharacterNotFound) {
		t.Errorf("Expected ErrCharacterNotFound, got %v", err)
	}
}
