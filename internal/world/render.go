package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

var ErrTargetNotFound = errors.New("target not found in render scope")

// RoomView is a room as one character sees it
type RoomView struct {
	perception.Description
	Characters []string `json:"characters"`
}

// Render describes targetID as characterID perceives it, through the character's own
// render scope. Other characters are listed only when they stand in targetID.
func (e *Engine) Render(ctx context.Context, targetID, characterID string) (*RoomView, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	character, err := e.storage.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load character %s: %w", characterID, err)
	}

	records := make(map[string]*storage.AssetRecord, len(character.Assets))
	if err := e.fillRecords(ctx, records, character.Assets); err != nil {
		return nil, err
	}
	layers := layersFor(records, character.Assets)

	found := false
	for _, layer := range layers {
		if _, ok := layer.Components[targetID]; ok {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}

	view := &RoomView{
		Description: e.renderer.Render(ctx, perception.NewPass(), targetID, layers),
		Characters:  []string{},
	}

	characters, err := e.storage.ListCharactersInPlay(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters in play: %w", err)
	}
	for _, c := range characters {
		if c.RoomID == targetID && c.ID != characterID {
			view.Characters = append(view.Characters, c.Name)
		}
	}
	return view, nil
}

// MapCache returns the stored map cache of an asset, building it when none was stored
func (e *Engine) MapCache(ctx context.Context, assetID string) (*perception.MapCache, error) {
	rec, err := e.storage.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}
	if rec.MapCache != nil {
		return rec.MapCache, nil
	}
	cache := e.renderer.BuildMapCache(ctx, perception.NewPass(), rec.Layer())
	return &cache, nil
}
