package protocol

import "fmt"

// OpCode код операции кадра
type OpCode int

// Клиент -> Сервер
const (
	OpGetHeightmap OpCode = 60  // G_HMAP: запрос карты высот
	OpGetUsers     OpCode = 61  // G_USRS: запрос списка сущностей
	OpLeaveRoom    OpCode = 53  // QUIT: выход из комнаты
	OpWalk         OpCode = 75  // MOVE: B64 x, B64 y
	OpEnterRoom    OpCode = 59  // GOTOFLAT: VL64 id комнаты, строка имени
	OpPing         OpCode = 196 // PING клиента, сервер отвечает OpPong
	OpTeleport     OpCode = 500 // staff: VL64 x, VL64 y, строка высоты (может быть пустой)
)

// Сервер -> Клиент
const (
	OpUsers     OpCode = 28  // USERS: описание сущностей
	OpLogout    OpCode = 29  // LOGOUT: сущность покинула комнату
	OpHeightmap OpCode = 31  // HEIGHTMAP
	OpStatus    OpCode = 34  // STATUS: позиции и стойки
	OpError     OpCode = 33  // ERROR
	OpPong      OpCode = 50  // PONG: ответ на OpPing
	OpRoomReady OpCode = 69  // ROOM_READY: вход выполнен
)

var opCodeNames = map[OpCode]string{
	OpGetHeightmap: "G_HMAP",
	OpGetUsers:     "G_USRS",
	OpLeaveRoom:    "QUIT",
	OpWalk:         "MOVE",
	OpEnterRoom:    "GOTOFLAT",
	OpPing:         "PING",
	OpTeleport:     "TELEPORT",
	OpUsers:        "USERS",
	OpLogout:       "LOGOUT",
	OpHeightmap:    "HEIGHTMAP",
	OpStatus:       "STATUS",
	OpError:        "ERROR",
	OpPong:         "PONG",
	OpRoomReady:    "ROOM_READY",
}

func (op OpCode) String() string {
	if name, ok := opCodeNames[op]; ok {
		return fmt.Sprintf("%s(%d)", name, int(op))
	}
	return fmt.Sprintf("OP(%d)", int(op))
}

// Known сообщает, есть ли код в каталоге
func (op OpCode) Known() bool {
	_, ok := opCodeNames[op]
	return ok
}
