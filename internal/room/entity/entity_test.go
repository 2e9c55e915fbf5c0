package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/vec"
)

// fakeAuthority открытая карта 10x10 с жадным шагом
type fakeAuthority struct {
	mu        sync.Mutex
	reserved  map[vec.Vec2]bool
	heights   map[vec.Vec2]float64
	stallStep bool
	stallGet  bool
	// stepGate если задан, резерв шага ждёт его закрытия
	stepGate chan struct{}
	clears   int
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{reserved: map[vec.Vec2]bool{}, heights: map[vec.Vec2]float64{}}
}

func (f *fakeAuthority) inside(p vec.Vec2) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < 10 && p.Y < 10
}

func (f *fakeAuthority) GetHeight(ctx context.Context, x, y int) (vec.Vec3, bool, error) {
	f.mu.Lock()
	stall := f.stallGet
	h, known := f.heights[vec.Vec2{X: x, Y: y}]
	f.mu.Unlock()

	if stall {
		<-ctx.Done()
		return vec.Vec3{}, false, ctx.Err()
	}
	if !known {
		return vec.Vec3{}, false, nil
	}
	return vec.Vec3{X: x, Y: y, Z: h}, true, nil
}

func (f *fakeAuthority) BlockTile(_ context.Context, x, y int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := vec.Vec2{X: x, Y: y}
	if !f.inside(p) || f.reserved[p] {
		return false, nil
	}
	f.reserved[p] = true
	return true, nil
}

func (f *fakeAuthority) BlockTileTowardsDestination(ctx context.Context, from vec.Vec3, to vec.Vec2) (vec.Vec3, bool, error) {
	f.mu.Lock()
	stall, gate := f.stallStep, f.stepGate
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return vec.Vec3{}, false, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return vec.Vec3{}, false, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delta := to.Sub(from.ToVec2())
	if delta.IsZero() {
		return vec.Vec3{}, false, nil
	}
	next := from.ToVec2().Add(delta.Sign())
	if !f.inside(next) || f.reserved[next] {
		return vec.Vec3{}, false, nil
	}
	f.reserved[next] = true
	return next.WithHeight(0), true, nil
}

func (f *fakeAuthority) ClearTile(_ context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reserved, vec.Vec2{X: x, Y: y})
	f.clears++
	return nil
}

func (f *fakeAuthority) reservedTiles() map[vec.Vec2]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[vec.Vec2]bool, len(f.reserved))
	for k, v := range f.reserved {
		out[k] = v
	}
	return out
}

type recorder struct {
	ch chan PositionUpdated
}

func newRecorder() *recorder { return &recorder{ch: make(chan PositionUpdated, 64)} }

func (r *recorder) Publish(u PositionUpdated) { r.ch <- u }

func (r *recorder) next(t *testing.T) PositionUpdated {
	t.Helper()
	select {
	case u := <-r.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
		return PositionUpdated{}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case u := <-r.ch:
		t.Fatalf("unexpected broadcast: %+v", u)
	case <-time.After(d):
	}
}

// gatedPublisher держит актор в первом Publish, пока не закрыт release
type gatedPublisher struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPublisher) Publish(PositionUpdated) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

// timerArmed есть ли у актора взведённый таймер шага
func (e *Entity) timerArmed(ctx context.Context) (bool, error) {
	snap, err := e.snapshot(ctx)
	return snap.hasTimer, err
}

var fastConfig = Config{WalkInterval: 20 * time.Millisecond, RequestTimeout: 100 * time.Millisecond}

func startAt(t *testing.T, auth *fakeAuthority, rec *recorder, p vec.Vec3) *Entity {
	t.Helper()
	return startWith(t, auth, rec, p, fastConfig)
}

func startWith(t *testing.T, auth *fakeAuthority, rec *recorder, p vec.Vec3, cfg Config) *Entity {
	t.Helper()
	ok, _ := auth.BlockTile(context.Background(), p.X, p.Y)
	require.True(t, ok)
	e := Start(context.Background(), Options{ID: 1, Name: "alice", Position: p, Holding: true}, auth, rec, cfg)
	t.Cleanup(e.Stop)
	return e
}

func TestEntityWalksTwoTiles(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	require.NoError(t, e.WalkTo(vec.Vec2{X: 2, Y: 0}))

	u := rec.next(t)
	mv, ok := u.Stance.Property(PropWalkingToward)
	require.True(t, ok)
	assert.Equal(t, "1,0,0.0", mv)
	assert.Equal(t, vec.Vec3{}, u.Position)
	assert.True(t, u.Walking)

	u = rec.next(t)
	assert.Equal(t, vec.Vec3{X: 1}, u.Position)
	assert.False(t, auth.reservedTiles()[vec.Vec2{}], "origin released on arrival")

	u = rec.next(t)
	mv, _ = u.Stance.Property(PropWalkingToward)
	assert.Equal(t, "2,0,0.0", mv)

	u = rec.next(t)
	assert.Equal(t, vec.Vec3{X: 2}, u.Position)
	assert.False(t, u.Walking)
	assert.False(t, u.Stance.Has(PropWalkingToward))
	assert.Equal(t, vec.East, u.Stance.BodyDirection)

	assert.Equal(t, map[vec.Vec2]bool{{X: 2}: true}, auth.reservedTiles())
}

func TestEntityWalkToCurrentPosition(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{X: 4, Y: 4})

	require.NoError(t, e.WalkTo(vec.Vec2{X: 4, Y: 4}))
	rec.quiet(t, 5*fastConfig.WalkInterval)

	info, err := e.GetRenderInformation(context.Background())
	require.NoError(t, err)
	assert.False(t, info.Walking)
	assert.Equal(t, "alice", info.Name)
}

func TestEntityRetargetCompletesStepFirst(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := startWith(t, auth, rec, vec.Vec3{}, Config{WalkInterval: 150 * time.Millisecond, RequestTimeout: time.Second})

	require.NoError(t, e.WalkTo(vec.Vec2{X: 2, Y: 0}))
	u := rec.next(t)
	mv, _ := u.Stance.Property(PropWalkingToward)
	require.Equal(t, "1,0,0.0", mv)

	require.NoError(t, e.WalkTo(vec.Vec2{X: 5, Y: 5}))

	u = rec.next(t)
	assert.Equal(t, vec.Vec3{X: 1}, u.Position, "reserved step still completes")

	u = rec.next(t)
	mv, _ = u.Stance.Property(PropWalkingToward)
	assert.Equal(t, "2,1,0.0", mv, "then heads for the new target")
	assert.Equal(t, vec.SouthEast, u.Stance.HeadDirection)
}

func TestEntityReservationTimeout(t *testing.T) {
	auth := newFakeAuthority()
	auth.stallStep = true
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	require.NoError(t, e.WalkTo(vec.Vec2{X: 3, Y: 0}))

	u := rec.next(t)
	assert.False(t, u.Walking)
	assert.False(t, u.Stance.Has(PropWalkingToward))
	assert.Equal(t, vec.Vec3{}, u.Position)

	rec.quiet(t, 3*fastConfig.RequestTimeout)

	armed, err := e.timerArmed(context.Background())
	require.NoError(t, err)
	assert.False(t, armed)
}

func TestEntityTeleportFallback(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	require.NoError(t, e.TeleportTo(vec.Vec3{X: 3, Y: 3}))
	u := rec.next(t)
	assert.Equal(t, vec.Vec3{X: 3, Y: 3}, u.Position)

	pos, err := e.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 3, Y: 3}, pos)

	require.Eventually(t, func() bool {
		r := auth.reservedTiles()
		return r[vec.Vec2{X: 3, Y: 3}] && !r[vec.Vec2{}]
	}, time.Second, 5*time.Millisecond)
}

func TestEntityTeleportCanonicalHeight(t *testing.T) {
	auth := newFakeAuthority()
	auth.heights[vec.Vec2{X: 4, Y: 4}] = 2
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	require.NoError(t, e.TeleportTo(vec.Vec3{X: 4, Y: 4, Z: 9}))
	u := rec.next(t)
	assert.Equal(t, vec.Vec3{X: 4, Y: 4, Z: 2}, u.Position)
}

func TestEntityTeleportLookupTimeout(t *testing.T) {
	auth := newFakeAuthority()
	auth.stallGet = true
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	raw := vec.Vec3{X: 7, Y: 1, Z: 0.5}
	require.NoError(t, e.TeleportTo(raw))
	u := rec.next(t)
	assert.Equal(t, raw, u.Position)
}

func TestEntitySetPosition(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := startAt(t, auth, rec, vec.Vec3{})

	require.NoError(t, e.SetPosition(vec.Vec3{}))
	u := rec.next(t)
	assert.Equal(t, vec.Vec3{}, u.Position)

	require.NoError(t, e.SetPosition(vec.Vec3{X: 6, Y: 2, Z: 1}))
	u = rec.next(t)
	assert.Equal(t, vec.Vec3{X: 6, Y: 2, Z: 1}, u.Position)
	require.Eventually(t, func() bool {
		r := auth.reservedTiles()
		return len(r) == 1 && r[vec.Vec2{X: 6, Y: 2}]
	}, time.Second, 5*time.Millisecond)
}

func TestEntityTeleportEndsWalk(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	walk := 300 * time.Millisecond
	e := startWith(t, auth, rec, vec.Vec3{}, Config{WalkInterval: walk, RequestTimeout: time.Second})

	require.NoError(t, e.WalkTo(vec.Vec2{X: 3, Y: 0}))
	u := rec.next(t)
	require.True(t, u.Walking)

	require.NoError(t, e.TeleportTo(vec.Vec3{X: 6, Y: 6}))
	u = rec.next(t)
	assert.Equal(t, vec.Vec3{X: 6, Y: 6}, u.Position)
	assert.False(t, u.Walking)
	assert.False(t, u.Stance.Has(PropWalkingToward))

	// шаг на (1,0) уже не завершится
	rec.quiet(t, 3*walk)
	pos, err := e.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 6, Y: 6}, pos)
	assert.Equal(t, map[vec.Vec2]bool{{X: 6, Y: 6}: true}, auth.reservedTiles())
}

func TestEntityStopReleasesTiles(t *testing.T) {
	auth := newFakeAuthority()
	rec := newRecorder()
	e := Start(context.Background(), Options{ID: 2, Position: vec.Vec3{}, Holding: true}, auth, rec,
		Config{WalkInterval: time.Hour, RequestTimeout: time.Second})
	_, _ = auth.BlockTile(context.Background(), 0, 0)

	require.NoError(t, e.WalkTo(vec.Vec2{X: 3, Y: 0}))
	rec.next(t) // шаг на (1,0) выдан, таймер на час

	e.Stop()
	assert.Empty(t, auth.reservedTiles())
	assert.ErrorIs(t, e.WalkTo(vec.Vec2{X: 1, Y: 1}), ErrEntityStopped)

	_, err := e.GetPosition(context.Background())
	assert.ErrorIs(t, err, ErrEntityStopped)
}

func TestEntityStopReleasesQueuedReplies(t *testing.T) {
	for i := 0; i < 20; i++ {
		auth := newFakeAuthority()
		auth.stepGate = make(chan struct{})
		pub := newGatedPublisher()
		// клетка спавна не занята: её бронь придёт ответом в ящик
		e := Start(context.Background(), Options{ID: 3, Position: vec.Vec3{}}, auth, pub,
			Config{WalkInterval: time.Hour, RequestTimeout: 5 * time.Second})

		require.NoError(t, e.WalkTo(vec.Vec2{X: 3, Y: 0}))
		require.NoError(t, e.SetPosition(vec.Vec3{}))
		waitClosed(t, pub.entered, "broadcast")

		// актор занят в Publish; резерв (0,0) и выданный шаг (1,0) ждут в ящике
		close(auth.stepGate)
		require.Eventually(t, func() bool { return len(e.mailbox) == 2 }, 2*time.Second, time.Millisecond)

		go e.Stop()
		require.Eventually(t, func() bool { return e.ctx.Err() != nil }, 2*time.Second, time.Millisecond)
		close(pub.release)
		waitClosed(t, e.Done(), "entity stop")

		require.Empty(t, auth.reservedTiles(), "iteration %d", i)
	}
}
