package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет координаты тайла в комнате (без высоты)
type Vec2 struct {
	X, Y int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Sign возвращает вектор единичного шага (-1, 0, 1 по каждой оси)
func (v Vec2) Sign() Vec2 {
	return Vec2{X: sign(v.X), Y: sign(v.Y)}
}

// IsZero сообщает, нулевой ли вектор
func (v Vec2) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// WithHeight поднимает тайл до позиции с указанной высотой
func (v Vec2) WithHeight(z float64) Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: z}
}

func (v Vec2) String() string {
	return fmt.Sprintf("%d,%d", v.X, v.Y)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
