package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/vec"
)

func TestModelGenerator(t *testing.T) {
	g := NewModelGenerator(42)
	m, err := g.Generate("model_gen", 16, 12)
	require.NoError(t, err)

	assert.Equal(t, "model_gen", m.ID)
	assert.Equal(t, 16, m.Heightmap.Width())
	assert.Equal(t, 12, m.Heightmap.Height())
	assert.Equal(t, vec.Vec3{X: 0, Y: 6}, m.Door)
	assert.Equal(t, vec.East, m.DoorDirection)
	assert.True(t, m.Heightmap.Walkable(m.Door.ToVec2()))
	assert.True(t, m.Heightmap.Walkable(vec.Vec2{X: 1, Y: 6}))

	// стены по краю, кроме двери
	for x := 0; x < 16; x++ {
		assert.False(t, m.Heightmap.Walkable(vec.Vec2{X: x, Y: 0}))
		assert.False(t, m.Heightmap.Walkable(vec.Vec2{X: x, Y: 11}))
	}
	assert.False(t, m.Heightmap.Walkable(vec.Vec2{X: 15, Y: 6}))

	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			if h, ok := m.Heightmap.TileHeight(x, y); ok {
				assert.Less(t, h, float64(g.Levels))
			}
		}
	}

	again, err := NewModelGenerator(42).Generate("model_gen", 16, 12)
	require.NoError(t, err)
	assert.Equal(t, m.Heightmap.String(), again.Heightmap.String(), "same seed, same map")
}

func TestModelGeneratorTooSmall(t *testing.T) {
	_, err := NewModelGenerator(1).Generate("tiny", 2, 5)
	assert.ErrorIs(t, err, ErrModelTooSmall)
}
