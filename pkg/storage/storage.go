package storage

import (
	"context"
	"errors"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/state"
)

var (
	ErrAssetNotFound     = errors.New("asset not found")
	ErrCharacterNotFound = errors.New("character not found")
)

// AssetRecord is the metadata record stored for one asset. State, Dependencies and
// ImportTree come from the embedded state.AssetMeta.
type AssetRecord struct {
	state.AssetMeta
	MapCache   *perception.MapCache            `json:"mapCache,omitempty"`
	Components map[string]perception.Component `json:"components,omitempty"`
}

// Layer returns the record as a render layer
func (r *AssetRecord) Layer() perception.Layer {
	return perception.Layer{
		AssetID:    r.AssetID,
		Bindings:   r.State.Bindings(),
		Components: r.Components,
	}
}

// AssetPatch is a partial update of an asset record. Nil fields are left unchanged.
type AssetPatch struct {
	State    state.AssetState
	MapCache *perception.MapCache
}

// Character is a connected player character
type Character struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	RoomID string   `json:"roomId"`
	Assets []string `json:"assets"` // render scope, base asset first
}

// Storage defines the persistence operations the world engine needs
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Asset records. GetAsset returns ErrAssetNotFound for unknown ids; BatchGetAssets
	// omits them from the result.
	GetAsset(ctx context.Context, assetID string) (*AssetRecord, error)
	BatchGetAssets(ctx context.Context, assetIDs []string) (map[string]*AssetRecord, error)
	UpdateAsset(ctx context.Context, assetID string, patch AssetPatch) error
	PutAsset(ctx context.Context, record *AssetRecord) error

	// Characters
	GetCharacter(ctx context.Context, characterID string) (*Character, error)
	ListCharactersInPlay(ctx context.Context) ([]Character, error)
	PutCharacter(ctx context.Context, character *Character) error
}
