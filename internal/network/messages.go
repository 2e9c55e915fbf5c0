package network

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/annel0/room-server/internal/protocol"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/room/entity"
	"github.com/annel0/room-server/internal/vec"
)

// StatusLine строка статуса клиента: "{id} {x},{y},{z},{head},{body}{stance}\r"
func StatusLine(id uint64, pos vec.Vec3, stance entity.Stance) string {
	return fmt.Sprintf("%d %s,%d,%d%s\r", id, pos, stance.HeadDirection, stance.BodyDirection, stance.Encode())
}

// UserEntry описание сущности для кадра USERS
func UserEntry(id uint64, name string, pos vec.Vec3) string {
	return fmt.Sprintf("i:%d\rn:%s\rl:%d %d %s\r", id, name, pos.X, pos.Y, vec.FormatHeight(pos.Z))
}

func statusFrame(lines ...string) *protocol.Writer {
	return protocol.NewWriter(protocol.OpStatus).Raw(strings.Join(lines, ""))
}

func usersFrame(infos []entity.RenderInfo) *protocol.Writer {
	var sb strings.Builder
	for _, info := range infos {
		sb.WriteString(UserEntry(info.ID, info.Name, info.Position))
	}
	return protocol.NewWriter(protocol.OpUsers).Raw(sb.String())
}

func errorFrame(msg string) *protocol.Writer {
	return protocol.NewWriter(protocol.OpError).String(msg)
}

// encodeEvent переводит событие комнаты в исходящие кадры
func encodeEvent(ev room.Event) []*protocol.Writer {
	u := ev.Update
	switch ev.Kind {
	case room.EntityMoved:
		return []*protocol.Writer{statusFrame(StatusLine(u.EntityID, u.Position, u.Stance))}
	case room.EntityJoined:
		users := protocol.NewWriter(protocol.OpUsers).Raw(UserEntry(ev.EntityID, ev.Name, u.Position))
		return []*protocol.Writer{users, statusFrame(StatusLine(ev.EntityID, u.Position, u.Stance))}
	case room.EntityLeft:
		return []*protocol.Writer{protocol.NewWriter(protocol.OpLogout).Raw(strconv.FormatUint(ev.EntityID, 10))}
	}
	return nil
}
