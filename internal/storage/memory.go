package storage

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
)

// MemoryStore keeps everything in process memory. Nothing survives a
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]map[string]bool
	moves    map[string][]stage.MoveRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]map[string]bool),
		moves:    make(map[string][]stage.MoveRecord),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) SaveAxisInversion(_ context.Context, stageName string, inverted map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[stageName] = maps.Clone(inverted)
	return nil
}

func (m *MemoryStore) LoadAxisInversion(_ context.Context, stageName string) (map[string]bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.settings[stageName]
	return maps.Clone(inv), ok, nil
}

func (m *MemoryStore) RecordMove(_ context.Context, rec stage.MoveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves[rec.Stage] = append(m.moves[rec.Stage], rec)
	return nil
}

func (m *MemoryStore) ListMoves(_ context.Context, stageName string, limit int) ([]stage.MoveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	moves := slices.Clone(m.moves[stageName])
	slices.Reverse(moves)
	if n := clampLimit(limit); len(moves) > n {
		moves = moves[:n]
	}
	if moves == nil {
		moves = make([]stage.MoveRecord, 0)
	}
	return moves, nil
}
