package room

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/room-server/internal/vec"
)

// BlockedTile символ непроходимой клетки в карте высот
const BlockedTile = 'x'

var (
	ErrEmptyHeightmap  = errors.New("heightmap is empty")
	ErrRaggedHeightmap = errors.New("heightmap rows differ in width")
)

// Heightmap неизменяемая сетка высот комнаты. После загрузки модели
// читается без блокировок всеми сущностями и координатором.
type Heightmap struct {
	width   int
	height  int
	heights []float64
	open    []bool
}

// ParseHeightmap разбирает карту в формате модели: строки через CR/LF,
// '0'-'9' и 'a'-'z' задают высоту 0..35, 'x' закрывает клетку.
func ParseHeightmap(text string) (*Heightmap, error) {
	rows := strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })
	if len(rows) == 0 {
		return nil, ErrEmptyHeightmap
	}

	width := len(rows[0])
	hm := &Heightmap{
		width:   width,
		height:  len(rows),
		heights: make([]float64, 0, width*len(rows)),
		open:    make([]bool, 0, width*len(rows)),
	}

	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d: %w", y, ErrRaggedHeightmap)
		}
		for x := 0; x < len(row); x++ {
			h, ok, err := parseTile(row[x])
			if err != nil {
				return nil, fmt.Errorf("tile %d,%d: %w", x, y, err)
			}
			hm.heights = append(hm.heights, h)
			hm.open = append(hm.open, ok)
		}
	}

	return hm, nil
}

// MustParseHeightmap как ParseHeightmap, но паникует; для встроенных моделей и тестов
func MustParseHeightmap(text string) *Heightmap {
	hm, err := ParseHeightmap(text)
	if err != nil {
		panic(err)
	}
	return hm
}

func parseTile(c byte) (float64, bool, error) {
	switch {
	case c == BlockedTile || c == 'X':
		return 0, false, nil
	case c >= '0' && c <= '9':
		return float64(c - '0'), true, nil
	case c >= 'a' && c <= 'z':
		return float64(c-'a') + 10, true, nil
	default:
		return 0, false, fmt.Errorf("unexpected symbol %q", c)
	}
}

func (h *Heightmap) Width() int  { return h.width }
func (h *Heightmap) Height() int { return h.height }

// InBounds проверяет, что клетка лежит внутри карты
func (h *Heightmap) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < h.width && y < h.height
}

// TileHeight возвращает высоту проходимой клетки; false вне карты или на 'x'
func (h *Heightmap) TileHeight(x, y int) (float64, bool) {
	if !h.InBounds(x, y) {
		return 0, false
	}
	i := y*h.width + x
	return h.heights[i], h.open[i]
}

// Walkable true, если клетка в пределах карты и открыта
func (h *Heightmap) Walkable(p vec.Vec2) bool {
	_, ok := h.TileHeight(p.X, p.Y)
	return ok
}

// String кодирует карту обратно в текст, строки заканчиваются '\r'
func (h *Heightmap) String() string {
	var sb strings.Builder
	sb.Grow((h.width + 1) * h.height)
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			i := y*h.width + x
			if !h.open[i] {
				sb.WriteByte(BlockedTile)
				continue
			}
			sb.WriteByte(encodeHeight(h.heights[i]))
		}
		sb.WriteByte('\r')
	}
	return sb.String()
}

// Rows возвращает карту построчно, удобно для JSON
func (h *Heightmap) Rows() []string {
	return strings.FieldsFunc(h.String(), func(r rune) bool { return r == '\r' })
}

func encodeHeight(v float64) byte {
	n := int(v)
	if n < 10 {
		return byte('0' + n)
	}
	return byte('a' + n - 10)
}
