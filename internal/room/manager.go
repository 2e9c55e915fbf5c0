package room

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/sasha-s/go-deadlock"

	"github.com/annel0/room-server/internal/logging"
)

// Manager реестр загруженных комнат
type Manager struct {
	models    ModelProvider
	infos     InfoProvider
	positions PositionStore
	cfg       Config
	metrics   *Metrics
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         deadlock.RWMutex
	rooms      map[int]*Room
	forwarders []Forwarder
}

// NewManager создаёт менеджер; positions может быть nil
func NewManager(ctx context.Context, models ModelProvider, infos InfoProvider, positions PositionStore, cfg Config, metrics *Metrics) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		models:    models,
		infos:     infos,
		positions: positions,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logging.GetRoomLogger(),
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[int]*Room),
	}
}

// AddForwarder подключает получателя ко всем комнатам, в том числе будущим
func (m *Manager) AddForwarder(f Forwarder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarders = append(m.forwarders, f)
	for _, r := range m.rooms {
		r.broadcaster.AddForwarder(f)
	}
}

// Infos список всех комнат из хранилища, загруженных и нет
func (m *Manager) Infos(ctx context.Context) ([]*Info, error) {
	return m.infos.ListRooms(ctx)
}

// Get загруженная комната
func (m *Manager) Get(id int) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms загруженные комнаты по возрастанию id
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	list := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		list = append(list, r)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// GetOrLoad возвращает комнату, загружая описание и модель при первом обращении
func (m *Manager) GetOrLoad(ctx context.Context, id int) (*Room, error) {
	if r, ok := m.Get(id); ok {
		return r, nil
	}

	info, err := m.infos.LoadRoom(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load room %d: %w", id, err)
	}
	model, err := m.models.LoadModel(ctx, info.ModelID)
	if err != nil {
		return nil, fmt.Errorf("load model %q for room %d: %w", info.ModelID, id, err)
	}

	m.mu.Lock()
	if r, ok := m.rooms[id]; ok {
		// параллельная загрузка успела раньше
		m.mu.Unlock()
		return r, nil
	}
	r := NewRoom(m.ctx, info, model, m.cfg, m.positions, m.metrics)
	for _, f := range m.forwarders {
		r.broadcaster.AddForwarder(f)
	}
	m.rooms[id] = r
	m.mu.Unlock()

	m.metrics.roomsDelta(1)
	m.logger.Info("🏠 Комната %d (%s) загружена, модель %s %dx%d",
		id, info.Name, model.ID, model.Heightmap.Width(), model.Heightmap.Height())
	return r, nil
}

// Unload закрывает комнату
func (m *Manager) Unload(ctx context.Context, id int) error {
	m.mu.Lock()
	r, ok := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unload %d: %w", id, ErrRoomNotFound)
	}

	r.Close(ctx)
	m.metrics.roomsDelta(-1)
	m.logger.Info("📦 Комната %d выгружена", id)
	return nil
}

// UnloadIdle выгружает комнаты, пустующие дольше idle
func (m *Manager) UnloadIdle(ctx context.Context, idle time.Duration, now time.Time) int {
	var stale []int
	for _, r := range m.Rooms() {
		if since, empty := r.EmptySince(); empty && now.Sub(since) >= idle {
			stale = append(stale, r.ID())
		}
	}

	n := 0
	for _, id := range stale {
		if r, ok := m.Get(id); ok {
			if _, empty := r.EmptySince(); !empty {
				continue
			}
		}
		if err := m.Unload(ctx, id); err == nil {
			n++
		}
	}
	return n
}

// Run периодически выгружает пустые комнаты до отмены ctx
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.IdleUnload <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.IdleUnload / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.UnloadIdle(ctx, m.cfg.IdleUnload, now); n > 0 {
				m.logger.Debug("Выгружено пустых комнат: %d", n)
			}
		}
	}
}

// Shutdown закрывает все комнаты, сохраняя позиции, не более
// ShutdownParallelism комнат одновременно
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[int]*Room)
	m.mu.Unlock()

	limit := m.cfg.ShutdownParallelism
	if limit <= 0 {
		limit = 8
	}
	swg := sizedwaitgroup.New(limit)
	for _, r := range rooms {
		swg.Add()
		go func(r *Room) {
			defer swg.Done()
			r.Close(ctx)
			m.metrics.roomsDelta(-1)
		}(r)
	}
	swg.Wait()

	m.cancel()
	m.logger.Info("🛑 Закрыто комнат: %d", len(rooms))
}
