package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/vec"
)

// MemoryModelStore модели в памяти
type MemoryModelStore struct {
	mu     sync.RWMutex
	models map[string]*room.Model
}

// NewMemoryModelStore хранилище, заполненное встроенными моделями
func NewMemoryModelStore() *MemoryModelStore {
	s := &MemoryModelStore{models: make(map[string]*room.Model)}
	for _, m := range DefaultModels() {
		s.models[m.ID] = m
	}
	return s
}

func (s *MemoryModelStore) LoadModel(_ context.Context, id string) (*room.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrModelNotFound)
	}
	return m, nil
}

func (s *MemoryModelStore) SaveModel(_ context.Context, m *room.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
	return nil
}

func (s *MemoryModelStore) ListModels(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DefaultModels встроенные модели комнат
func DefaultModels() []*room.Model {
	return []*room.Model{
		{
			ID: "model_a",
			Heightmap: room.MustParseHeightmap("" +
				"xxxxxxxxxxxx\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxx000000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxx00000000\r" +
				"xxxxxxxxxxxx\r"),
			Door:          vec.Vec3{X: 3, Y: 5},
			DoorDirection: vec.East,
		},
		{
			ID: "model_terrace",
			Heightmap: room.MustParseHeightmap("" +
				"xxxxxxxxxx\r" +
				"x222221111\r" +
				"x222221111\r" +
				"0122221111\r" +
				"x111110000\r" +
				"x111110000\r" +
				"x000000000\r" +
				"xxxxxxxxxx\r"),
			Door:          vec.Vec3{X: 0, Y: 3},
			DoorDirection: vec.East,
		},
	}
}
