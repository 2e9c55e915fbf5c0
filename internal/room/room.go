// Package room содержит комнату и всё, что ею владеет: координатор клеток,
// рассылку событий подписчикам и менеджер загруженных комнат.
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/room/entity"
	"github.com/annel0/room-server/internal/vec"
)

var ErrRoomClosed = errors.New("room closed")

// Config параметры комнат
type Config struct {
	Entity              entity.Config
	MaxStepHeight       float64
	SubscriberBuffer    int
	IdleUnload          time.Duration
	ShutdownParallelism int
}

func DefaultConfig() Config {
	return Config{
		Entity:              entity.DefaultConfig(),
		MaxStepHeight:       DefaultMaxStepHeight,
		SubscriberBuffer:    128,
		IdleUnload:          time.Minute,
		ShutdownParallelism: 8,
	}
}

// Room загруженная комната: один координатор, один рассыльщик, сущности
type Room struct {
	info        *Info
	model       *Model
	cfg         Config
	coordinator *Coordinator
	broadcaster *Broadcaster
	positions   PositionStore
	metrics     *Metrics
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         deadlock.RWMutex
	entities   map[uint64]*entity.Entity
	names      map[uint64]string
	emptySince time.Time
	closed     bool
}

// NewRoom поднимает комнату и запускает её координатор
func NewRoom(parent context.Context, info *Info, model *Model, cfg Config, positions PositionStore, metrics *Metrics) *Room {
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		info:        info,
		model:       model,
		cfg:         cfg,
		coordinator: NewCoordinator(model.Heightmap, cfg.MaxStepHeight, metrics),
		broadcaster: NewBroadcaster(info.ID, metrics),
		positions:   positions,
		metrics:     metrics,
		logger:      logging.GetRoomLogger(),
		ctx:         ctx,
		cancel:      cancel,
		entities:    make(map[uint64]*entity.Entity),
		names:       make(map[uint64]string),
		emptySince:  time.Now(),
	}
	go r.coordinator.Run(ctx)
	return r
}

func (r *Room) ID() int { return r.info.ID }
func (r *Room) Info() *Info { return r.info }
func (r *Room) Model() *Model { return r.model }
func (r *Room) Coordinator() *Coordinator { return r.coordinator }
func (r *Room) Broadcaster() *Broadcaster { return r.broadcaster }

// Spawn вводит сущность в комнату: на сохранённую позицию или к двери
func (r *Room) Spawn(ctx context.Context, id uint64, name string) (*entity.Entity, error) {
	r.mu.RLock()
	closed := r.closed
	_, exists := r.entities[id]
	r.mu.RUnlock()
	if closed {
		return nil, ErrRoomClosed
	}
	if exists {
		return nil, fmt.Errorf("spawn %d: %w", id, ErrEntityExists)
	}

	pos := r.spawnPosition(ctx, id)
	holding, err := r.coordinator.BlockTile(ctx, pos.X, pos.Y)
	if err != nil {
		r.logger.Debug("Комната %d: клетка входа %s не занята: %v", r.info.ID, pos.ToVec2(), err)
		holding = false
	}

	r.mu.Lock()
	if r.closed || r.entities[id] != nil {
		r.mu.Unlock()
		if holding {
			_ = r.coordinator.ClearTile(ctx, pos.X, pos.Y)
		}
		if r.closed {
			return nil, ErrRoomClosed
		}
		return nil, fmt.Errorf("spawn %d: %w", id, ErrEntityExists)
	}

	stance := entity.NewStance(r.model.DoorDirection)
	e := entity.Start(r.ctx, entity.Options{
		ID:       id,
		Name:     name,
		Position: pos,
		Stance:   stance,
		Holding:  holding,
	}, r.coordinator, r.broadcaster, r.cfg.Entity)
	r.entities[id] = e
	r.names[id] = name
	r.mu.Unlock()

	r.metrics.entitiesDelta(1)
	r.broadcaster.PublishEvent(Event{
		Kind:     EntityJoined,
		EntityID: id,
		Name:     name,
		Update:   entity.PositionUpdated{EntityID: id, Position: pos, Stance: stance},
	})
	r.logger.Info("🚪 Сущность %d (%s) вошла в комнату %d на %s", id, name, r.info.ID, pos)
	return e, nil
}

// spawnPosition сохранённая позиция, если она всё ещё проходима, иначе дверь
func (r *Room) spawnPosition(ctx context.Context, id uint64) vec.Vec3 {
	if r.positions == nil {
		return r.model.Door
	}
	saved, ok, err := r.positions.LoadPosition(ctx, r.info.ID, id)
	if err != nil {
		r.logger.Warn("Комната %d: позиция %d не загружена: %v", r.info.ID, id, err)
		return r.model.Door
	}
	if !ok {
		return r.model.Door
	}
	canonical, ok, err := r.coordinator.GetHeight(ctx, saved.X, saved.Y)
	if err != nil || !ok {
		return r.model.Door
	}
	return canonical
}

// Despawn останавливает сущность, сохраняет её позицию и сообщает о выходе
func (r *Room) Despawn(ctx context.Context, id uint64) error {
	r.mu.Lock()
	e, ok := r.entities[id]
	name := r.names[id]
	if ok {
		delete(r.entities, id)
		delete(r.names, id)
		if len(r.entities) == 0 {
			r.emptySince = time.Now()
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("despawn %d: %w", id, ErrEntityMissing)
	}

	pos, posErr := e.GetPosition(ctx)
	e.Stop()
	r.metrics.entitiesDelta(-1)

	if posErr == nil && r.positions != nil {
		if err := r.positions.SavePosition(ctx, r.info.ID, id, pos); err != nil {
			r.logger.Warn("Комната %d: позиция %d не сохранена: %v", r.info.ID, id, err)
		}
	}

	r.broadcaster.PublishEvent(Event{
		Kind:     EntityLeft,
		EntityID: id,
		Name:     name,
		Update:   entity.PositionUpdated{EntityID: id, Position: pos},
	})
	r.logger.Info("👋 Сущность %d покинула комнату %d", id, r.info.ID)
	return nil
}

// Entity возвращает актор сущности
func (r *Room) Entity(id uint64) (*entity.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Len число сущностей
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// EmptySince время, с которого комната пуста; false если в ней кто-то есть
func (r *Room) EmptySince() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entities) > 0 {
		return time.Time{}, false
	}
	return r.emptySince, true
}

// Entities снимки всех сущностей, упорядоченные по id
func (r *Room) Entities(ctx context.Context) ([]entity.RenderInfo, error) {
	r.mu.RLock()
	list := make([]*entity.Entity, 0, len(r.entities))
	for _, e := range r.entities {
		list = append(list, e)
	}
	r.mu.RUnlock()

	infos := make([]entity.RenderInfo, 0, len(list))
	for _, e := range list {
		info, err := e.GetRenderInformation(ctx)
		if errors.Is(err, entity.ErrEntityStopped) {
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Close выводит всех, останавливает координатор и закрывает подписки
func (r *Room) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ids := make([]uint64, 0, len(r.entities))
	for id := range r.entities {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Despawn(ctx, id); err != nil {
			r.logger.Warn("Комната %d: %v", r.info.ID, err)
		}
	}

	r.coordinator.Stop()
	r.broadcaster.Close()
	r.cancel()
	<-r.coordinator.Done()
}
