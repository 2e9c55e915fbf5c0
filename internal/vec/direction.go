package vec

// Direction одно из 8 направлений компаса, по часовой стрелке от севера
type Direction uint8

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

var directionNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return "UNKNOWN"
}

// Offset возвращает единичный шаг для направления (ось Y растёт на юг)
func (d Direction) Offset() Vec2 {
	switch d {
	case North:
		return Vec2{X: 0, Y: -1}
	case NorthEast:
		return Vec2{X: 1, Y: -1}
	case East:
		return Vec2{X: 1, Y: 0}
	case SouthEast:
		return Vec2{X: 1, Y: 1}
	case South:
		return Vec2{X: 0, Y: 1}
	case SouthWest:
		return Vec2{X: -1, Y: 1}
	case West:
		return Vec2{X: -1, Y: 0}
	case NorthWest:
		return Vec2{X: -1, Y: -1}
	}
	return Vec2{}
}

// DirectionBetween вычисляет направление взгляда при движении from -> to.
// Возвращает false, если смещения нет.
func DirectionBetween(from, to Vec2) (Direction, bool) {
	step := to.Sub(from).Sign()
	switch step {
	case Vec2{X: 0, Y: -1}:
		return North, true
	case Vec2{X: 1, Y: -1}:
		return NorthEast, true
	case Vec2{X: 1, Y: 0}:
		return East, true
	case Vec2{X: 1, Y: 1}:
		return SouthEast, true
	case Vec2{X: 0, Y: 1}:
		return South, true
	case Vec2{X: -1, Y: 1}:
		return SouthWest, true
	case Vec2{X: -1, Y: 0}:
		return West, true
	case Vec2{X: -1, Y: -1}:
		return NorthWest, true
	}
	return 0, false
}
