package room

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/vec"
)

// DefaultMaxStepHeight максимальный перепад высот за один шаг
const DefaultMaxStepHeight = 1.5

var ErrCoordinatorStopped = errors.New("coordinator stopped")

// request одна операция над клетками; выполняется только горутиной координатора
type request struct {
	enqueued time.Time
	run      func()
}

// Coordinator единственный владелец занятости клеток комнаты.
// Все операции проходят через очередь и выполняются строго по одной,
// поэтому "проверить и занять" атомарно.
type Coordinator struct {
	heightmap *Heightmap
	maxStep   float64
	metrics   *Metrics
	logger    *logging.Logger

	// reserved принадлежит горутине Run
	reserved map[vec.Vec2]struct{}

	requests chan request
	stopped  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewCoordinator создаёт координатор; Run нужно запустить отдельно
func NewCoordinator(hm *Heightmap, maxStep float64, metrics *Metrics) *Coordinator {
	if maxStep <= 0 {
		maxStep = DefaultMaxStepHeight
	}
	return &Coordinator{
		heightmap: hm,
		maxStep:   maxStep,
		metrics:   metrics,
		logger:    logging.GetRoomLogger(),
		reserved:  make(map[vec.Vec2]struct{}),
		requests:  make(chan request, 256),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run обрабатывает очередь до Stop или отмены ctx
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-c.stopped:
			return
		case req := <-c.requests:
			c.metrics.waited(time.Since(req.enqueued))
			req.run()
		}
	}
}

// Stop останавливает координатор; ожидающие вызовы получают ErrCoordinatorStopped
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Done закрывается по выходу из Run
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// call ставит fn в очередь и ждёт ответа не дольше ctx. Если ответ опоздал,
// late получает его уже после возврата вызывающему.
func call[T any](ctx context.Context, c *Coordinator, fn func() T, late func(T)) (T, error) {
	var zero T
	reply := make(chan T, 1)
	req := request{
		enqueued: time.Now(),
		run: func() {
			if ctx.Err() != nil {
				reply <- zero
				return
			}
			reply <- fn()
		},
	}

	select {
	case c.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.stopped:
		return zero, ErrCoordinatorStopped
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		if late != nil {
			go func() {
				select {
				case v := <-reply:
					late(v)
				case <-c.stopped:
				}
			}()
		}
		return zero, ctx.Err()
	case <-c.stopped:
		return zero, ErrCoordinatorStopped
	}
}

type grant struct {
	tile vec.Vec3
	ok   bool
}

// GetHeight возвращает каноническую точку клетки; false вне карты или на закрытой клетке
func (c *Coordinator) GetHeight(ctx context.Context, x, y int) (vec.Vec3, bool, error) {
	g, err := call(ctx, c, func() grant {
		p, ok := c.canonical(vec.Vec2{X: x, Y: y})
		return grant{tile: p, ok: ok}
	}, nil)
	return g.tile, g.ok, err
}

// BlockTile занимает клетку, если она проходима и свободна
func (c *Coordinator) BlockTile(ctx context.Context, x, y int) (bool, error) {
	tile := vec.Vec2{X: x, Y: y}
	return call(ctx, c, func() bool {
		ok := c.reserve(tile)
		c.metrics.reservation(ok)
		return ok
	}, func(ok bool) {
		if ok {
			c.lateRelease(tile)
		}
	})
}

// BlockTileTowardsDestination делает один жадный шаг от from к to и атомарно
// занимает клетку шага. Обхода препятствий нет: заблокированный шаг даёт false.
func (c *Coordinator) BlockTileTowardsDestination(ctx context.Context, from vec.Vec3, to vec.Vec2) (vec.Vec3, bool, error) {
	g, err := call(ctx, c, func() grant {
		next, ok := c.nextStep(from, to)
		if ok {
			ok = c.reserve(next.ToVec2())
		}
		c.metrics.reservation(ok)
		return grant{tile: next, ok: ok}
	}, func(g grant) {
		if g.ok {
			c.lateRelease(g.tile.ToVec2())
		}
	})
	return g.tile, g.ok, err
}

// ClearTile освобождает клетку; повторный вызов ничего не меняет
func (c *Coordinator) ClearTile(ctx context.Context, x, y int) error {
	tile := vec.Vec2{X: x, Y: y}
	_, err := call(ctx, c, func() struct{} {
		delete(c.reserved, tile)
		c.metrics.cleared()
		return struct{}{}
	}, nil)
	return err
}

// ReservedTiles снимок занятых клеток
func (c *Coordinator) ReservedTiles(ctx context.Context) ([]vec.Vec2, error) {
	return call(ctx, c, func() []vec.Vec2 {
		tiles := make([]vec.Vec2, 0, len(c.reserved))
		for t := range c.reserved {
			tiles = append(tiles, t)
		}
		return tiles
	}, nil)
}

// GetAbsoluteHeightMap карта высот без обращения к очереди: она неизменяема
func (c *Coordinator) GetAbsoluteHeightMap() *Heightmap {
	return c.heightmap
}

// lateRelease откатывает резерв, выданный уже ушедшему по таймауту вызывающему
func (c *Coordinator) lateRelease(tile vec.Vec2) {
	c.logger.Debug("⏱️ Откат опоздавшего резерва клетки %s", tile)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.ClearTile(ctx, tile.X, tile.Y); err != nil && !errors.Is(err, ErrCoordinatorStopped) {
		c.logger.Warn("Не удалось откатить резерв %s: %v", tile, err)
	}
}

func (c *Coordinator) canonical(p vec.Vec2) (vec.Vec3, bool) {
	h, ok := c.heightmap.TileHeight(p.X, p.Y)
	if !ok {
		return vec.Vec3{}, false
	}
	return p.WithHeight(h), true
}

func (c *Coordinator) reserve(tile vec.Vec2) bool {
	if !c.heightmap.Walkable(tile) {
		return false
	}
	if _, taken := c.reserved[tile]; taken {
		return false
	}
	c.reserved[tile] = struct{}{}
	return true
}

// nextStep соседняя клетка по знаку смещения к цели
func (c *Coordinator) nextStep(from vec.Vec3, to vec.Vec2) (vec.Vec3, bool) {
	start := from.ToVec2()
	delta := to.Sub(start)
	if delta.IsZero() {
		return vec.Vec3{}, false
	}

	next, ok := c.canonical(start.Add(delta.Sign()))
	if !ok {
		return vec.Vec3{}, false
	}

	base := from.Z
	if h, ok := c.heightmap.TileHeight(start.X, start.Y); ok {
		base = h
	}
	if math.Abs(next.Z-base) > c.maxStep {
		return vec.Vec3{}, false
	}
	return next, true
}
