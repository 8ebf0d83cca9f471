package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseJSON = `{
  "assetId": "base",
  "state": {
    "foo": {"key": "foo", "kind": "Variable", "value": true},
    "antiFoo": {"key": "antiFoo", "kind": "Computed", "value": false, "src": "!foo", "dependencies": ["foo"]}
  },
  "dependencies": {
    "foo": {"computed": ["antiFoo"], "imported": [{"asset": "layer", "key": "foo"}]},
    "antiFoo": {"room": ["hall"]}
  },
  "importTree": {"base": []},
  "components": {
    "hall": {"kind": "Room", "appearances": [{"conditions": ["antiFoo"], "render": [{"tag": "String", "value": "Dark."}]}]}
  }
}`

const layerJSON = `{
  "assetId": "layer",
  "state": {"foo": {"key": "foo", "kind": "Variable", "value": true}},
  "dependencies": {},
  "importTree": {"layer": ["base"]}
}`

func writeAssets(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

func validateDir(t *testing.T, dir string) error {
	t.Helper()
	v := NewAssetValidator()
	assets, err := v.LoadDir(dir)
	if err != nil {
		return err
	}
	return v.Validate(context.Background(), assets)
}

func TestValidate_ValidAssets(t *testing.T) {
	dir := writeAssets(t, map[string]string{"base.json": baseJSON, "layer.json": layerJSON})
	if err := validateDir(t, dir); err != nil {
		t.Fatalf("expected valid assets, got %v", err)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "unknown field",
			files: map[string]string{"base.json": `{"assetId": "base", "bogus": 1}`},
			want:  "strict JSON",
		},
		{
			name:  "id mismatch",
			files: map[string]string{"other.json": layerJSON, "base.json": baseJSON},
			want:  "declares assetId 'layer'",
		},
		{
			name: "computed cycle",
			files: map[string]string{"a.json": `{
  "assetId": "a",
  "state": {
    "x": {"key": "x", "kind": "Computed", "src": "y", "dependencies": ["y"]},
    "y": {"key": "y", "kind": "Computed", "src": "x", "dependencies": ["x"]}
  },
  "dependencies": {"x": {"computed": ["y"]}, "y": {"computed": ["x"]}}
}`},
			want: "circular computed keys [x y]",
		},
		{
			name: "missing reverse edge",
			files: map[string]string{"a.json": `{
  "assetId": "a",
  "state": {
    "x": {"key": "x", "kind": "Variable", "value": 1},
    "y": {"key": "y", "kind": "Computed", "src": "x + 1", "dependencies": ["x"]}
  }
}`},
			want: "has no edge for it",
		},
		{
			name: "bad expression",
			files: map[string]string{"a.json": `{
  "assetId": "a",
  "state": {"y": {"key": "y", "kind": "Computed", "src": "1 +"}}
}`},
			want: "fails to evaluate",
		},
		{
			name: "import cycle",
			files: map[string]string{
				"a.json": `{"assetId": "a", "importTree": {"a": ["b"]}}`,
				"b.json": `{"assetId": "b", "importTree": {"b": ["a"]}}`,
			},
			want: "import cycle between assets [a b]",
		},
		{
			name:  "unknown room and importer",
			files: map[string]string{"base.json": strings.Replace(baseJSON, `"hall": {"kind": "Room"`, `"hall": {"kind": "Feature"`, 1)},
			want:  "refreshes unknown room 'hall'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDir(t, writeAssets(t, tt.files))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got:\n%v", tt.want, err)
			}
		})
	}
}

func TestLoadDir_Empty(t *testing.T) {
	if _, err := NewAssetValidator().LoadDir(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}
