package room

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/vec"
)

const testMap = "" +
	"00000\r" +
	"000x0\r" +
	"00020\r" +
	"00001\r"

func newTestCoordinator(t *testing.T, metrics *Metrics) *Coordinator {
	t.Helper()
	c := NewCoordinator(MustParseHeightmap(testMap), DefaultMaxStepHeight, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func TestBlockTileMutualExclusion(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.BlockTile(ctx, 2, 0)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestBlockTowardsMutualExclusion(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	// все идут через (1,0): слева, снизу-слева, снизу и прямой резерв
	starts := []vec.Vec3{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 1}}
	targets := []vec.Vec2{{X: 4, Y: 0}, {X: 4, Y: -3}, {X: 1, Y: -5}, {X: -2, Y: -1}}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for round := 0; round < 16; round++ {
		for i := range starts {
			wg.Add(1)
			go func(from vec.Vec3, to vec.Vec2) {
				defer wg.Done()
				tile, ok, err := c.BlockTileTowardsDestination(ctx, from, to)
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					assert.Equal(t, vec.Vec2{X: 1, Y: 0}, tile.ToVec2())
					granted.Add(1)
				}
			}(starts[i], targets[i])
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.BlockTile(ctx, 1, 0)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestClearTileIdempotent(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	ok, err := c.BlockTile(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.ClearTile(ctx, 0, 0))
	once, err := c.ReservedTiles(ctx)
	require.NoError(t, err)

	require.NoError(t, c.ClearTile(ctx, 0, 0))
	twice, err := c.ReservedTiles(ctx)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Empty(t, twice)

	ok, err = c.BlockTile(ctx, 0, 0)
	require.NoError(t, err)
	assert.True(t, ok, "cleared tile can be reserved again")
}

func TestBlockTowardsGreedyStep(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		from vec.Vec3
		to   vec.Vec2
		want vec.Vec3
		ok   bool
	}{
		{"east", vec.Vec3{X: 0, Y: 0}, vec.Vec2{X: 4, Y: 0}, vec.Vec3{X: 1, Y: 0}, true},
		{"diagonal", vec.Vec3{X: 0, Y: 3}, vec.Vec2{X: 4, Y: 0}, vec.Vec3{X: 1, Y: 2}, true},
		{"same tile", vec.Vec3{X: 4, Y: 3}, vec.Vec2{X: 4, Y: 3}, vec.Vec3{}, false},
		{"blocked tile", vec.Vec3{X: 2, Y: 1}, vec.Vec2{X: 4, Y: 1}, vec.Vec3{}, false},
		{"out of bounds", vec.Vec3{X: 4, Y: 0}, vec.Vec2{X: 9, Y: 0}, vec.Vec3{}, false},
		{"step up one", vec.Vec3{X: 3, Y: 3}, vec.Vec2{X: 4, Y: 3}, vec.Vec3{X: 4, Y: 3, Z: 1}, true},
		{"step up too high", vec.Vec3{X: 2, Y: 3}, vec.Vec2{X: 3, Y: 2}, vec.Vec3{}, false},
		{"step down too far", vec.Vec3{X: 3, Y: 2, Z: 2}, vec.Vec2{X: 0, Y: 2}, vec.Vec3{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := c.BlockTileTowardsDestination(ctx, tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestBlockTowardsAlreadyReserved(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	ok, _ := c.BlockTile(ctx, 1, 0)
	require.True(t, ok)

	_, ok, err := c.BlockTileTowardsDestination(ctx, vec.Vec3{}, vec.Vec2{X: 3, Y: 0})
	require.NoError(t, err)
	assert.False(t, ok, "no alternate tile is tried")
}

func TestGetHeight(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	p, ok, err := c.GetHeight(ctx, 3, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 3, Y: 2, Z: 2}, p)

	_, ok, err = c.GetHeight(ctx, 3, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = c.GetHeight(ctx, 40, 40)
	assert.False(t, ok)

	assert.Equal(t, 5, c.GetAbsoluteHeightMap().Width())
}

func TestTimedOutRequestIsSkipped(t *testing.T) {
	c := newTestCoordinator(t, nil)

	started := make(chan struct{})
	gate := make(chan struct{})
	go func() {
		_, _ = call(context.Background(), c, func() struct{} {
			close(started)
			<-gate
			return struct{}{}
		}, nil)
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ok, err := c.BlockTile(ctx, 4, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ok)

	close(gate)
	require.Eventually(t, func() bool {
		tiles, err := c.ReservedTiles(context.Background())
		return err == nil && len(tiles) == 0
	}, time.Second, 5*time.Millisecond)

	ok, err = c.BlockTile(context.Background(), 4, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoppedCoordinator(t *testing.T) {
	c := NewCoordinator(MustParseHeightmap(testMap), 0, nil)
	go c.Run(context.Background())
	c.Stop()
	<-c.Done()

	_, err := c.BlockTile(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrCoordinatorStopped)
	assert.ErrorIs(t, c.ClearTile(context.Background(), 0, 0), ErrCoordinatorStopped)
}

func TestCoordinatorMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c := newTestCoordinator(t, m)
	ctx := context.Background()

	_, _ = c.BlockTile(ctx, 0, 0)
	_, _ = c.BlockTile(ctx, 0, 0)
	_ = c.ClearTile(ctx, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clears))
}
