package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MockStorage is an in-memory implementation of Storage for testing. Records are copied
// on the way in and out so callers never share state with the store.
type MockStorage struct {
	mu           sync.RWMutex
	assets       map[string][]byte
	characters   map[string]Character
	pingError    error
	getErrors    map[string]error
	updateErrors map[string]error
	updates      []string
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

func NewMockStorage() *MockStorage {
	return &MockStorage{
		assets:       make(map[string][]byte),
		characters:   make(map[string]Character),
		getErrors:    make(map[string]error),
		updateErrors: make(map[string]error),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetGetError makes reads of assetID fail
func (m *MockStorage) SetGetError(assetID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErrors[assetID] = err
}

// SetUpdateError makes updates of assetID fail
func (m *MockStorage) SetUpdateError(assetID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErrors[assetID] = err
}

// Updates returns the asset ids passed to successful UpdateAsset calls, in order
func (m *MockStorage) Updates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.updates)
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

func (m *MockStorage) GetAsset(ctx context.Context, assetID string) (*AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(assetID)
}

func (m *MockStorage) getLocked(assetID string) (*AssetRecord, error) {
	if err := m.getErrors[assetID]; err != nil {
		return nil, err
	}
	data, ok := m.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetID)
	}
	var rec AssetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *MockStorage) BatchGetAssets(ctx context.Context, assetIDs []string) (map[string]*AssetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*AssetRecord, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := m.assets[id]; !ok && m.getErrors[id] == nil {
			continue
		}
		rec, err := m.getLocked(id)
		if err != nil {
			return nil, err
		}
		out[id] = rec
	}
	return out, nil
}

func (m *MockStorage) UpdateAsset(ctx context.Context, assetID string, patch AssetPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErrors[assetID]; err != nil {
		return err
	}
	rec, err := m.getLocked(assetID)
	if err != nil {
		return err
	}
	if patch.State != nil {
		rec.State = patch.State
	}
	if patch.MapCache != nil {
		rec.MapCache = patch.MapCache
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	m.assets[assetID] = data
	m.updates = append(m.updates, assetID)
	return nil
}

func (m *MockStorage) PutAsset(ctx context.Context, record *AssetRecord) error {
	if record == nil || record.AssetID == "" {
		return fmt.Errorf("asset record requires an id")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[record.AssetID] = data
	return nil
}

func (m *MockStorage) GetCharacter(ctx context.Context, characterID string) (*Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
	}
	c.Assets = slices.Clone(c.Assets)
	return &c, nil
}

func (m *MockStorage) ListCharactersInPlay(ctx context.Context) ([]Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Character, 0, len(m.characters))
	for _, c := range m.characters {
		c.Assets = slices.Clone(c.Assets)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Character) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MockStorage) PutCharacter(ctx context.Context, character *Character) error {
	if character == nil || character.ID == "" {
		return fmt.Errorf("character requires an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *character
	c.Assets = slices.Clone(c.Assets)
	m.characters[c.ID] = c
	return nil
}
