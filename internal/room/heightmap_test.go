package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/vec"
)

func TestParseHeightmap(t *testing.T) {
	hm, err := ParseHeightmap("x00\r\n012\r\n0a3\n")
	require.NoError(t, err)
	assert.Equal(t, 3, hm.Width())
	assert.Equal(t, 3, hm.Height())

	_, ok := hm.TileHeight(0, 0)
	assert.False(t, ok, "x is blocked")

	h, ok := hm.TileHeight(2, 1)
	assert.True(t, ok)
	assert.Equal(t, 2.0, h)

	h, ok = hm.TileHeight(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 10.0, h)

	_, ok = hm.TileHeight(3, 0)
	assert.False(t, ok)
	_, ok = hm.TileHeight(-1, 0)
	assert.False(t, ok)

	assert.True(t, hm.Walkable(vec.Vec2{X: 1, Y: 0}))
	assert.False(t, hm.Walkable(vec.Vec2{X: 0, Y: 0}))

	assert.Equal(t, "x00\r012\r0a3\r", hm.String())
	assert.Equal(t, []string{"x00", "012", "0a3"}, hm.Rows())
}

func TestParseHeightmapErrors(t *testing.T) {
	_, err := ParseHeightmap("\r\n\r\n")
	assert.ErrorIs(t, err, ErrEmptyHeightmap)

	_, err = ParseHeightmap("000\r00")
	assert.ErrorIs(t, err, ErrRaggedHeightmap)

	_, err = ParseHeightmap("0#0")
	assert.Error(t, err)

	assert.Panics(t, func() { MustParseHeightmap("") })
}
