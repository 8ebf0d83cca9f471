package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine seeds a store with one asset holding foo and antiFoo and a hall that
// turns dark when foo is false
func newTestEngine(t *testing.T) (*world.Engine, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	ctx := context.Background()

	require.NoError(t, store.PutAsset(ctx, &storage.AssetRecord{
		AssetMeta: state.AssetMeta{
			AssetID: "BASE",
			State: state.AssetState{
				"foo":     {Key: "foo", Kind: state.KindVariable, Value: true},
				"antiFoo": {Key: "antiFoo", Kind: state.KindComputed, Value: false, Src: "!foo"},
			},
			Dependencies: state.DependencyGraph{
				"foo":     {Computed: []string{"antiFoo"}},
				"antiFoo": {Room: []string{"hall"}, MapCache: []string{"hall"}},
			},
		},
		Components: map[string]perception.Component{
			"hall": {
				Kind: perception.KindRoom,
				Appearances: []perception.Appearance{
					{Name: []perception.Fragment{perception.String("Hall")}, Exits: []perception.Exit{{Name: "north", To: "study"}}},
					{Conditions: []string{"antiFoo"}, Render: []perception.Fragment{perception.String("It is dark.")}},
				},
			},
		},
	}))
	require.NoError(t, store.PutCharacter(ctx, &storage.Character{ID: "tess", Name: "Tess", RoomID: "hall", Assets: []string{"BASE"}}))
	require.NoError(t, store.PutCharacter(ctx, &storage.Character{ID: "bo", Name: "Bo", RoomID: "hall", Assets: []string{"BASE"}}))

	return world.NewEngine(store, nil, quietLogger(), world.Options{}), store
}
