package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/sandbox"
	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// AssetValidator checks a directory of asset records for structural problems that would
// make recalculation or rendering misbehave at runtime
type AssetValidator struct {
	sandbox *sandbox.Sandbox
	errors  []string
}

func NewAssetValidator() *AssetValidator {
	return &AssetValidator{sandbox: sandbox.New(sandbox.DefaultTimeout)}
}

var validKeyRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadDir strictly decodes every .json file in dir, keyed by asset id
func (v *AssetValidator) LoadDir(dir string) (map[string]*storage.AssetRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no asset files found in %s", dir)
	}

	assets := make(map[string]*storage.AssetRecord, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		var rec storage.AssetRecord
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&rec); err != nil {
			return nil, fmt.Errorf("file %s failed strict JSON unmarshaling: %w", path, err)
		}

		want := strings.TrimSuffix(filepath.Base(path), ".json")
		if rec.AssetID != want {
			v.addError(fmt.Sprintf("file %s declares assetId '%s'", filepath.Base(path), rec.AssetID))
		}
		if _, dup := assets[rec.AssetID]; dup {
			v.addError(fmt.Sprintf("asset '%s' is defined more than once", rec.AssetID))
		}
		assets[rec.AssetID] = &rec
	}
	return assets, nil
}

// Validate checks every asset and the links between them
func (v *AssetValidator) Validate(ctx context.Context, assets map[string]*storage.AssetRecord) error {
	rooms := make(map[string]bool)
	tree := make(state.ImportTree)
	for id, rec := range assets {
		for compID, comp := range rec.Components {
			if comp.Kind == perception.KindRoom {
				rooms[compID] = true
			}
		}
		tree.Merge(rec.ImportTree)
		tree.Merge(state.ImportTree{id: nil})
	}

	for _, id := range slices.Sorted(maps.Keys(assets)) {
		v.validateAsset(ctx, assets[id], assets, rooms)
	}

	if _, cyclic := state.TopologicalOrder(tree); len(cyclic) > 0 {
		v.addError(fmt.Sprintf("import cycle between assets %v", cyclic))
	}
	for asset, imports := range tree {
		for _, imp := range imports {
			if _, ok := assets[imp]; !ok {
				v.addError(fmt.Sprintf("asset '%s' imports unknown asset '%s'", asset, imp))
			}
		}
	}

	if len(v.errors) > 0 {
		slices.Sort(v.errors)
		return fmt.Errorf("validation errors:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *AssetValidator) validateAsset(ctx context.Context, rec *storage.AssetRecord, assets map[string]*storage.AssetRecord, rooms map[string]bool) {
	id := rec.AssetID
	bindings := rec.State.Bindings()

	for key, entry := range rec.State {
		if !validKeyRegex.MatchString(key) {
			v.addError(fmt.Sprintf("%s: key '%s' is not a valid identifier", id, key))
		}
		if entry.Key != "" && entry.Key != key {
			v.addError(fmt.Sprintf("%s: entry '%s' is stored under key '%s'", id, entry.Key, key))
		}
		switch entry.Kind {
		case state.KindVariable:
		case state.KindComputed:
			v.validateComputed(ctx, id, key, entry, rec.State, rec.Dependencies, bindings)
		default:
			v.addError(fmt.Sprintf("%s: key '%s' has unknown kind '%s'", id, key, entry.Kind))
		}
	}

	for key, node := range rec.Dependencies {
		if _, ok := rec.State[key]; !ok {
			v.addError(fmt.Sprintf("%s: dependency graph names unknown key '%s'", id, key))
		}
		for _, dep := range node.Computed {
			if e, ok := rec.State[dep]; !ok || !e.IsComputed() {
				v.addError(fmt.Sprintf("%s: key '%s' feeds '%s', which is not a computed key", id, key, dep))
			}
		}
		for _, room := range slices.Concat(node.Room, node.MapCache) {
			if !rooms[room] {
				v.addError(fmt.Sprintf("%s: key '%s' refreshes unknown room '%s'", id, key, room))
			}
		}
		for _, binding := range node.Imported {
			importer, ok := assets[binding.Asset]
			if !ok {
				v.addError(fmt.Sprintf("%s: key '%s' is exported to unknown asset '%s'", id, key, binding.Asset))
				continue
			}
			if e, ok := importer.State[binding.Key]; ok && e.IsComputed() {
				v.addError(fmt.Sprintf("%s: key '%s' is exported onto computed key '%s.%s'", id, key, binding.Asset, binding.Key))
			}
		}
	}

	if cyclic := rec.Dependencies.CyclicKeys(nil); len(cyclic) > 0 {
		v.addError(fmt.Sprintf("%s: circular computed keys %v", id, cyclic))
	}

	for compID, comp := range rec.Components {
		for i, appearance := range comp.Appearances {
			for _, cond := range appearance.Conditions {
				if out := v.sandbox.Evaluate(ctx, cond, bindings); sandbox.IsError(out) {
					v.addError(fmt.Sprintf("%s: condition %q on %s appearance %d fails: %v", id, cond, compID, i, out))
				}
			}
		}
	}
}

func (v *AssetValidator) validateComputed(ctx context.Context, id, key string, entry state.Entry, st state.AssetState, graph state.DependencyGraph, bindings map[string]any) {
	if strings.TrimSpace(entry.Src) == "" {
		v.addError(fmt.Sprintf("%s: computed key '%s' has no src", id, key))
		return
	}
	if out := v.sandbox.Evaluate(ctx, entry.Src, bindings); sandbox.IsError(out) {
		v.addError(fmt.Sprintf("%s: computed key '%s' fails to evaluate: %v", id, key, out))
	}
	for _, dep := range entry.Dependencies {
		if _, ok := st[dep]; !ok {
			v.addError(fmt.Sprintf("%s: computed key '%s' reads unknown key '%s'", id, key, dep))
			continue
		}
		if !slices.Contains(graph[dep].Computed, key) {
			v.addError(fmt.Sprintf("%s: computed key '%s' reads '%s' but the dependency graph has no edge for it", id, key, dep))
		}
	}
}

func (v *AssetValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}
