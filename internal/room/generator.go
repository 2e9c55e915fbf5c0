package room

import (
	"errors"
	"strings"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/room-server/internal/vec"
)

// ModelGenerator строит модели комнат из шума Перлина: карта по краю
// закрыта стеной, дверь на западной стене посередине, взгляд на восток.
type ModelGenerator struct {
	Seed       int64   // Сид шума
	NoiseScale float64 // Масштаб шума (меньше — плавнее рельеф)
	Levels     int     // Число уровней высоты, не больше 36
	// WallBelow значения шума ниже порога дают закрытые клетки
	WallBelow float64
}

// NewModelGenerator генератор с настройками по умолчанию
func NewModelGenerator(seed int64) *ModelGenerator {
	return &ModelGenerator{
		Seed:       seed,
		NoiseScale: 0.15,
		Levels:     3,
		WallBelow:  0.3,
	}
}

var ErrModelTooSmall = errors.New("model must be at least 3x3")

// Generate детерминирован для одинаковых сида и размеров
func (g *ModelGenerator) Generate(id string, width, height int) (*Model, error) {
	if width < 3 || height < 3 {
		return nil, ErrModelTooSmall
	}
	levels := g.Levels
	if levels <= 0 {
		levels = 1
	}
	if levels > 36 {
		levels = 36
	}

	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	noise := perlin.NewPerlin(alpha, beta, n, g.Seed)

	door := vec.Vec2{X: 0, Y: height / 2}
	rows := make([]string, height)
	for y := 0; y < height; y++ {
		var row strings.Builder
		for x := 0; x < width; x++ {
			tile := vec.Vec2{X: x, Y: y}
			switch {
			case tile == door || tile == door.Add(vec.East.Offset()):
				// дверь и клетка перед ней всегда открыты и на нулевой высоте
				row.WriteByte('0')
			case x == 0 || y == 0 || x == width-1 || y == height-1:
				row.WriteByte(BlockedTile)
			default:
				// от -1 до 1 приводим к 0..1
				v := (noise.Noise2D(float64(x)*g.NoiseScale, float64(y)*g.NoiseScale) + 1.0) / 2.0
				if v < g.WallBelow {
					row.WriteByte(BlockedTile)
					continue
				}
				level := int((v - g.WallBelow) / (1 - g.WallBelow) * float64(levels))
				if level >= levels {
					level = levels - 1
				}
				row.WriteByte(encodeHeight(float64(level)))
			}
		}
		rows[y] = row.String()
	}

	hm, err := ParseHeightmap(strings.Join(rows, "\r"))
	if err != nil {
		return nil, err
	}
	return &Model{
		ID:            id,
		Heightmap:     hm,
		Door:          door.WithHeight(0),
		DoorDirection: vec.East,
	}, nil
}
