package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/vec"
)

func TestDefaultModelsAreValid(t *testing.T) {
	for _, m := range DefaultModels() {
		t.Run(m.ID, func(t *testing.T) {
			assert.True(t, m.Heightmap.Walkable(m.Door.ToVec2()), "door must be walkable")
		})
	}

	s := NewMemoryModelStore()
	ids, err := s.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"model_a", "model_terrace"}, ids)

	for _, info := range DefaultRooms() {
		_, err := s.LoadModel(context.Background(), info.ModelID)
		assert.NoError(t, err, "room %d references a known model", info.ID)
	}

	_, err = s.LoadModel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestBadgerModelStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerModelStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	model := &room.Model{
		ID:            "model_test",
		Heightmap:     room.MustParseHeightmap("x00\r012\r"),
		Door:          vec.Vec3{X: 1, Y: 0},
		DoorDirection: vec.South,
	}
	require.NoError(t, store.SaveModel(ctx, model))

	loaded, err := store.LoadModel(ctx, "model_test")
	require.NoError(t, err)
	assert.Equal(t, model.ID, loaded.ID)
	assert.Equal(t, model.Heightmap.String(), loaded.Heightmap.String())
	assert.Equal(t, model.Door, loaded.Door)
	assert.Equal(t, vec.South, loaded.DoorDirection)

	_, err = store.LoadModel(ctx, "missing")
	assert.ErrorIs(t, err, ErrModelNotFound)

	n, err := store.Seed(ctx, DefaultModels())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = store.Seed(ctx, DefaultModels())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "seed skips existing models")

	ids, err := store.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"model_a", "model_terrace", "model_test"}, ids)
}

func TestMemoryRoomRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRoomRepo(DefaultRooms()...)

	info, err := repo.LoadRoom(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "model_a", info.ModelID)

	info.Name = "mutated"
	again, _ := repo.LoadRoom(ctx, 1)
	assert.Equal(t, "Welcome Lobby", again.Name, "repo returns copies")

	_, err = repo.LoadRoom(ctx, 42)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)

	require.NoError(t, repo.SaveRoom(ctx, &room.Info{ID: 3, Name: "Pool", ModelID: "model_a"}))
	assert.Error(t, repo.SaveRoom(ctx, &room.Info{ID: 0}))

	list, err := repo.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{list[0].ID, list[1].ID, list[2].ID})
}

func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		require.NoError(t, repo.SavePosition(ctx, 1, 10, vec.Vec3{X: 3, Y: 4, Z: 1.5}))
		pos, ok, err := repo.LoadPosition(ctx, 1, 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, vec.Vec3{X: 3, Y: 4, Z: 1.5}, pos)
	})

	t.Run("Per room", func(t *testing.T) {
		_, ok, err := repo.LoadPosition(ctx, 2, 10)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Invalid entity", func(t *testing.T) {
		assert.Error(t, repo.SavePosition(ctx, 1, 0, vec.Vec3{}))
	})

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := uint64(1); i <= 50; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				_ = repo.SavePosition(ctx, 9, id, vec.Vec3{X: int(id)})
			}(i)
		}
		wg.Wait()
		pos, ok, _ := repo.LoadPosition(ctx, 9, 25)
		assert.True(t, ok)
		assert.Equal(t, 25, pos.X)
		assert.Equal(t, 51, repo.Count())
	})
}

// Интеграционные тесты запускаются только при наличии сервисов
func TestRedisPositionRepo(t *testing.T) {
	addr := os.Getenv("ROOM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROOM_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	repo, err := NewRedisPositionRepo(ctx, &RedisConfig{Addr: addr, KeyPrefix: "test:room:pos:"})
	require.NoError(t, err)
	defer repo.Close()
	defer repo.ClearRoom(ctx, 77)

	require.NoError(t, repo.SavePosition(ctx, 77, 5, vec.Vec3{X: 1, Y: 2, Z: 0.5}))
	pos, ok, err := repo.LoadPosition(ctx, 77, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 0.5}, pos)

	_, ok, err = repo.LoadPosition(ctx, 77, 6)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMariaRepos(t *testing.T) {
	dsn := os.Getenv("ROOM_TEST_MARIA_DSN")
	if dsn == "" {
		t.Skip("ROOM_TEST_MARIA_DSN not set")
	}
	ctx := context.Background()
	rooms, err := NewMariaRoomRepo(dsn)
	require.NoError(t, err)
	defer rooms.Close()

	require.NoError(t, rooms.SaveRoom(ctx, &room.Info{ID: 9001, Name: "Test", ModelID: "model_a"}))
	info, err := rooms.LoadRoom(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, "Test", info.Name)

	_, err = rooms.LoadRoom(ctx, -1)
	assert.ErrorIs(t, err, room.ErrRoomNotFound)

	positions, err := NewMariaPositionRepo(rooms.DB())
	require.NoError(t, err)
	require.NoError(t, positions.SavePosition(ctx, 9001, 1, vec.Vec3{X: 2, Y: 3}))
	pos, ok, err := positions.LoadPosition(ctx, 9001, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vec.Vec3{X: 2, Y: 3}, pos)
}
