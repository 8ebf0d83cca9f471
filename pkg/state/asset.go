package state

import (
	"maps"
	"slices"
)

// EntryKind distinguishes assigned variables from derived values
type EntryKind string

const (
	KindVariable EntryKind = "Variable"
	KindComputed EntryKind = "Computed"
)

// Entry is one scoped value in an asset's state
type Entry struct {
	Key          string    `json:"key"`
	Kind         EntryKind `json:"kind"`
	Value        any       `json:"value,omitempty"`
	Default      any       `json:"default,omitempty"`
	Src          string    `json:"src,omitempty"`          // Computed only
	Dependencies []string  `json:"dependencies,omitempty"` // Computed only
}

// IsComputed reports whether the entry's value is derived from Src
func (e Entry) IsComputed() bool {
	return e.Kind == KindComputed
}

// AssetState maps scoped keys to entries belonging to a single asset
type AssetState map[string]Entry

// Clone returns a copy whose entries can be modified without affecting s
func (s AssetState) Clone() AssetState {
	out := make(AssetState, len(s))
	for k, e := range s {
		e.Dependencies = slices.Clone(e.Dependencies)
		out[k] = e
	}
	return out
}

// Bindings returns the key -> value snapshot handed to the sandbox
func (s AssetState) Bindings() map[string]any {
	out := make(map[string]any, len(s))
	for k, e := range s {
		out[k] = e.Value
	}
	return out
}

// ImportBinding names a key in another asset that imports a local key
type ImportBinding struct {
	Asset string `json:"asset"`
	Key   string `json:"key"`
}

// DependencyNode holds the reverse edges for one key
type DependencyNode struct {
	Computed []string        `json:"computed,omitempty"` // computed keys that read this key
	Room     []string        `json:"room,omitempty"`     // rooms whose render reads this key
	MapCache []string        `json:"mapCache,omitempty"` // map-visible rooms that read this key
	Imported []ImportBinding `json:"imported,omitempty"` // other assets importing this key
}

// DependencyGraph is the per-asset reverse dependency index, keyed by variable key
type DependencyGraph map[string]DependencyNode

// ImportTree maps an asset to the assets it imports from
type ImportTree map[string][]string

// Merge adds every edge of other into t
func (t ImportTree) Merge(other ImportTree) {
	for asset, imports := range other {
		for _, imp := range imports {
			if !slices.Contains(t[asset], imp) {
				t[asset] = append(t[asset], imp)
			}
		}
		if _, ok := t[asset]; !ok {
			t[asset] = nil
		}
	}
}

// ChangeSet maps asset ids to changed keys
type ChangeSet map[string][]string

// Add appends keys to the asset's list, skipping duplicates
func (c ChangeSet) Add(assetID string, keys ...string) {
	for _, k := range keys {
		if !slices.Contains(c[assetID], k) {
			c[assetID] = append(c[assetID], k)
		}
	}
}

// Assets returns the asset ids in sorted order
func (c ChangeSet) Assets() []string {
	return slices.Sorted(maps.Keys(c))
}

// AssetMeta is the portion of an asset record the recalculation engines work on
type AssetMeta struct {
	AssetID      string          `json:"assetId"`
	State        AssetState      `json:"state"`
	Dependencies DependencyGraph `json:"dependencies"`
	ImportTree   ImportTree      `json:"importTree"`
}
