package eventbus

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Типы событий комнат
const (
	TypeEntityMoved  = "EntityMoved"
	TypeEntityJoined = "EntityJoined"
	TypeEntityLeft   = "EntityLeft"
)

// PositionEvent полезная нагрузка событий сущности комнаты
type PositionEvent struct {
	RoomID     int               `msgpack:"room"`
	EntityID   uint64            `msgpack:"entity"`
	Name       string            `msgpack:"name,omitempty"`
	X          int               `msgpack:"x"`
	Y          int               `msgpack:"y"`
	Z          float64           `msgpack:"z"`
	Head       uint8             `msgpack:"head"`
	Body       uint8             `msgpack:"body"`
	Properties map[string]string `msgpack:"props,omitempty"`
	Walking    bool              `msgpack:"walking"`
}

// EncodePositionEvent сериализует событие в msgpack
func EncodePositionEvent(ev *PositionEvent) ([]byte, error) {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode position event: %w", err)
	}
	return data, nil
}

// DecodePositionEvent обратная операция
func DecodePositionEvent(data []byte) (*PositionEvent, error) {
	var ev PositionEvent
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode position event: %w", err)
	}
	return &ev, nil
}
