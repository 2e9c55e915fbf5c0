package entity

import (
	"sort"
	"strings"

	"github.com/annel0/room-server/internal/vec"
)

// PropWalkingToward ключ свойства "идёт к клетке"; значение "x,y,z"
const PropWalkingToward = "mv"

// Stance направление головы и тела плюс короткоживущие свойства анимации.
// Значение неизменяемо: методы возвращают копию.
type Stance struct {
	HeadDirection vec.Direction
	BodyDirection vec.Direction
	properties    map[string]string
}

// NewStance стойка с одинаковым направлением головы и тела
func NewStance(dir vec.Direction) Stance {
	return Stance{HeadDirection: dir, BodyDirection: dir}
}

// Facing поворачивает голову и тело
func (s Stance) Facing(dir vec.Direction) Stance {
	s.HeadDirection = dir
	s.BodyDirection = dir
	return s
}

// With ставит свойство, заменяя прежнее значение по ключу
func (s Stance) With(key, value string) Stance {
	props := make(map[string]string, len(s.properties)+1)
	for k, v := range s.properties {
		props[k] = v
	}
	props[key] = value
	s.properties = props
	return s
}

// Without убирает свойство
func (s Stance) Without(key string) Stance {
	if _, ok := s.properties[key]; !ok {
		return s
	}
	props := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		if k != key {
			props[k] = v
		}
	}
	s.properties = props
	return s
}

func (s Stance) Property(key string) (string, bool) {
	v, ok := s.properties[key]
	return v, ok
}

func (s Stance) Has(key string) bool {
	_, ok := s.properties[key]
	return ok
}

// Properties копия набора свойств
func (s Stance) Properties() map[string]string {
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// Encode свойства в формате статуса клиента: "/mv 1,0,0.0/" (ключи по алфавиту)
func (s Stance) Encode() string {
	if len(s.properties) == 0 {
		return "/"
	}
	keys := make([]string, 0, len(s.properties))
	for k := range s.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('/')
	for _, k := range keys {
		sb.WriteString(k)
		if v := s.properties[k]; v != "" {
			sb.WriteByte(' ')
			sb.WriteString(v)
		}
		sb.WriteByte('/')
	}
	return sb.String()
}
