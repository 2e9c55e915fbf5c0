package vec

import (
	"fmt"
	"strconv"
	"strings"
)

// Vec3 представляет позицию сущности: тайл (X, Y) и высоту Z
type Vec3 struct {
	X int
	Y int
	Z float64
}

// ToVec2 преобразует Vec3 в Vec2, игнорируя высоту
func (v Vec3) ToVec2() Vec2 {
	return Vec2{
		X: v.X,
		Y: v.Y,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// String возвращает позицию в формате клиента: "x,y,z"
func (v Vec3) String() string {
	return fmt.Sprintf("%d,%d,%s", v.X, v.Y, FormatHeight(v.Z))
}

// FormatHeight печатает высоту всегда с дробной частью ("0.0", "1.5")
func FormatHeight(z float64) string {
	s := strconv.FormatFloat(z, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
