// Package entity реализует движок движения сущности комнаты: один актор
// с почтовым ящиком на аватар и чистый автомат ходьбы Transition.
package entity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/vec"
)

// ErrEntityStopped сущность уже удалена из комнаты
var ErrEntityStopped = errors.New("entity stopped")

const (
	DefaultWalkInterval   = 499 * time.Millisecond
	DefaultRequestTimeout = 2 * time.Second
	mailboxSize           = 64
)

// TileAuthority координатор клеток комнаты
type TileAuthority interface {
	GetHeight(ctx context.Context, x, y int) (vec.Vec3, bool, error)
	BlockTile(ctx context.Context, x, y int) (bool, error)
	BlockTileTowardsDestination(ctx context.Context, from vec.Vec3, to vec.Vec2) (vec.Vec3, bool, error)
	ClearTile(ctx context.Context, x, y int) error
}

// PositionUpdated публикуется при каждом изменении позиции или стойки
type PositionUpdated struct {
	EntityID uint64
	Position vec.Vec3
	Stance   Stance
	Walking  bool
}

// Broadcaster получатель событий сущности; доставка без подтверждения
type Broadcaster interface {
	Publish(PositionUpdated)
}

// Config тайминги движения
type Config struct {
	WalkInterval   time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{WalkInterval: DefaultWalkInterval, RequestTimeout: DefaultRequestTimeout}
}

// Options параметры создания сущности
type Options struct {
	ID       uint64
	Name     string
	Position vec.Vec3
	Stance   Stance
	// Holding true, если клетка Position уже занята за сущностью
	Holding bool
}

// RenderInfo всё, что нужно клиенту для отрисовки
type RenderInfo struct {
	ID       uint64
	Name     string
	Position vec.Vec3
	Stance   Stance
	Walking  bool
}

type query struct {
	reply chan snapshot
}

type snapshot struct {
	state    State
	hasTimer bool
}

// Entity актор аватара. Состояние принадлежит только горутине run.
type Entity struct {
	id          uint64
	name        string
	authority   TileAuthority
	broadcaster Broadcaster
	cfg         Config
	logger      *logging.Logger

	mailbox chan interface{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// sendMu упорядочивает post и закрытие ящика в teardown: после stopped
	// в ящик ничего не попадает, и выданную клетку освобождает отправитель
	sendMu  sync.Mutex
	stopped bool

	// только для горутины run
	state    State
	timer    *time.Timer
	timerSeq uint64
}

// Start создаёт сущность и запускает её горутину
func Start(ctx context.Context, opts Options, authority TileAuthority, broadcaster Broadcaster, cfg Config) *Entity {
	if cfg.WalkInterval <= 0 {
		cfg.WalkInterval = DefaultWalkInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Entity{
		id:          opts.ID,
		name:        opts.Name,
		authority:   authority,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logging.GetEntityLogger(),
		mailbox:     make(chan interface{}, mailboxSize),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state: State{
			Position: opts.Position,
			Stance:   opts.Stance,
			Held:     opts.Position.ToVec2(),
			Holding:  opts.Holding,
		},
	}

	go e.run()
	return e
}

func (e *Entity) ID() uint64 { return e.id }

func (e *Entity) Name() string { return e.name }

// Done закрывается после остановки актора
func (e *Entity) Done() <-chan struct{} { return e.done }

// WalkTo начать ходьбу к клетке или сменить цель текущей ходьбы
func (e *Entity) WalkTo(dest vec.Vec2) error {
	return e.post(WalkRequested{Destination: dest})
}

// TeleportTo переместить без ходьбы; высота уточняется у координатора
func (e *Entity) TeleportTo(raw vec.Vec3) error {
	return e.post(TeleportRequested{Raw: raw})
}

// SetPosition безусловно установить позицию
func (e *Entity) SetPosition(pos vec.Vec3) error {
	return e.post(PositionSet{Position: pos})
}

// GetRenderInformation снимок для отрисовки
func (e *Entity) GetRenderInformation(ctx context.Context) (RenderInfo, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return RenderInfo{}, err
	}
	return RenderInfo{
		ID:       e.id,
		Name:     e.name,
		Position: snap.state.Position,
		Stance:   snap.state.Stance,
		Walking:  snap.state.Walking(),
	}, nil
}

// GetPosition текущая позиция
func (e *Entity) GetPosition(ctx context.Context) (vec.Vec3, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return vec.Vec3{}, err
	}
	return snap.state.Position, nil
}

// Stop останавливает актор, снимает таймер и освобождает клетки. Ждёт завершения.
func (e *Entity) Stop() {
	e.cancel()
	<-e.done
}

func (e *Entity) snapshot(ctx context.Context) (snapshot, error) {
	if e.ctx.Err() != nil {
		return snapshot{}, ErrEntityStopped
	}
	q := query{reply: make(chan snapshot, 1)}
	select {
	case e.mailbox <- q:
	case <-e.ctx.Done():
		return snapshot{}, ErrEntityStopped
	case <-ctx.Done():
		return snapshot{}, ctx.Err()
	}
	select {
	case s := <-q.reply:
		return s, nil
	case <-e.done:
		return snapshot{}, ErrEntityStopped
	case <-ctx.Done():
		return snapshot{}, ctx.Err()
	}
}

func (e *Entity) post(ev Event) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if e.stopped || e.ctx.Err() != nil {
		return ErrEntityStopped
	}
	select {
	case e.mailbox <- ev:
		return nil
	case <-e.ctx.Done():
		return ErrEntityStopped
	}
}

func (e *Entity) run() {
	defer close(e.done)
	defer e.teardown()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg := <-e.mailbox:
			switch m := msg.(type) {
			case query:
				m.reply <- snapshot{state: e.state, hasTimer: e.timer != nil}
			case Event:
				e.apply(m)
			}
		}
	}
}

func (e *Entity) apply(ev Event) {
	if step, ok := ev.(StepElapsed); ok && step.Seq == e.timerSeq {
		e.timer = nil
	}

	next, effects := Transition(e.state, ev)
	e.state = next
	for _, eff := range effects {
		e.execute(eff)
	}
}

func (e *Entity) execute(eff Effect) {
	switch f := eff.(type) {
	case RequestReservation:
		go e.reserveStep(f)
	case ScheduleArrival:
		if e.timer != nil {
			e.timer.Stop()
		}
		seq := f.Seq
		e.timerSeq = seq
		e.timer = time.AfterFunc(e.cfg.WalkInterval, func() {
			_ = e.post(StepElapsed{Seq: seq})
		})
	case ReleaseTile:
		e.release(f.Tile)
	case ReserveTile:
		go e.reserveStanding(f.Tile)
	case LookupHeight:
		go e.lookupHeight(f.Raw)
	case Broadcast:
		e.broadcaster.Publish(PositionUpdated{
			EntityID: e.id,
			Position: e.state.Position,
			Stance:   e.state.Stance,
			Walking:  e.state.Walking(),
		})
	}
}

// reserveStep выполняется вне актора; результат возвращается событием
func (e *Entity) reserveStep(r RequestReservation) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()

	tile, ok, err := e.authority.BlockTileTowardsDestination(ctx, r.From, r.To)
	if err != nil {
		e.logger.Debug("Сущность %d: резерв шага %s -> %s не получен: %v", e.id, r.From, r.To, err)
		ok = false
	}

	var ev Event = ReservationDenied{Seq: r.Seq}
	if ok {
		ev = ReservationGranted{Seq: r.Seq, Tile: tile}
	}
	if e.post(ev) != nil && ok {
		// сущность удалена, пока шёл запрос
		e.release(tile.ToVec2())
	}
}

func (e *Entity) reserveStanding(tile vec.Vec2) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()

	ok, err := e.authority.BlockTile(ctx, tile.X, tile.Y)
	if err != nil {
		ok = false
	}
	if e.post(TileReserved{Tile: tile, Granted: ok}) != nil && ok {
		e.release(tile)
	}
}

// lookupHeight при отказе или таймауте оставляет позицию как есть
func (e *Entity) lookupHeight(raw vec.Vec3) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
	defer cancel()

	pos := raw
	canonical, ok, err := e.authority.GetHeight(ctx, raw.X, raw.Y)
	switch {
	case err != nil:
		e.logger.Debug("Сущность %d: высота %s не получена: %v", e.id, raw.ToVec2(), err)
	case ok:
		pos = canonical
	}
	_ = e.post(Teleported{Position: pos})
}

// release не зависит от e.ctx: клетку нужно вернуть и после Stop
func (e *Entity) release(tile vec.Vec2) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()
	if err := e.authority.ClearTile(ctx, tile.X, tile.Y); err != nil {
		e.logger.Warn("Сущность %d: не удалось освободить клетку %s: %v", e.id, tile, err)
	}
}

// teardown после отмены: таймер без побочных эффектов, клетки назад координатору.
// Ответы координатора, оставшиеся в ящике, тоже несут занятые клетки.
func (e *Entity) teardown() {
	e.sendMu.Lock()
	e.stopped = true
	e.sendMu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	// каждую клетку освобождаем один раз: повторный ClearTile снял бы чужую бронь
	tiles := make(map[vec.Vec2]struct{})
	if e.state.Holding {
		tiles[e.state.Held] = struct{}{}
	}
	if e.state.Phase == Transiting {
		tiles[e.state.Next.ToVec2()] = struct{}{}
	}
	for drained := false; !drained; {
		select {
		case msg := <-e.mailbox:
			switch m := msg.(type) {
			case ReservationGranted:
				tiles[m.Tile.ToVec2()] = struct{}{}
			case TileReserved:
				if m.Granted {
					tiles[m.Tile] = struct{}{}
				}
			}
		default:
			drained = true
		}
	}

	for tile := range tiles {
		e.release(tile)
	}
}
