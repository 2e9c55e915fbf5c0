package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/protocol"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/room/entity"
	"github.com/annel0/room-server/internal/vec"
)

// Conn байтовый поток клиента: TCP, KCP или адаптер WebSocket
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// RoomSource выдаёт загруженную комнату по id
type RoomSource interface {
	GetOrLoad(ctx context.Context, id int) (*room.Room, error)
}

// SessionConfig параметры сессии
type SessionConfig struct {
	MaxFrameBody   int
	SendQueue      int
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	AllowTeleport  bool
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxFrameBody:   8192,
		SendQueue:      256,
		RequestTimeout: 2 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

type handler func(s *Session, r *protocol.Reader) error

var handlers = map[protocol.OpCode]handler{
	protocol.OpEnterRoom:    (*Session).handleEnterRoom,
	protocol.OpLeaveRoom:    (*Session).handleLeaveRoom,
	protocol.OpWalk:         (*Session).handleWalk,
	protocol.OpGetHeightmap: (*Session).handleGetHeightmap,
	protocol.OpGetUsers:     (*Session).handleGetUsers,
	protocol.OpPing:         (*Session).handlePing,
	protocol.OpTeleport:     (*Session).handleTeleport,
}

var errNotInRoom = errors.New("not in room")

// Session одно клиентское соединение. Кадры читаются и обрабатываются
// последовательно в Serve; запись идёт через очередь отправки в writePump.
type Session struct {
	id        uint64
	transport string
	conn      Conn
	rooms     RoomSource
	cfg       SessionConfig
	metrics   *Metrics
	logger    *logging.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	ctx       context.Context

	// Принадлежат горутине Serve
	current *room.Room
	ent     *entity.Entity
	sub     *room.Subscription
	relay   sync.WaitGroup
}

// NewSession создаёт сессию; id становится id сущности в комнате
func NewSession(id uint64, transport string, conn Conn, rooms RoomSource, cfg SessionConfig, metrics *Metrics) *Session {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSessionConfig().SendQueue
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultSessionConfig().RequestTimeout
	}
	return &Session{
		id:        id,
		transport: transport,
		conn:      conn,
		rooms:     rooms,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logging.GetNetworkLogger().With("session", id),
		send:      make(chan []byte, cfg.SendQueue),
		closed:    make(chan struct{}),
	}
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Transport() string { return s.transport }

// Serve обслуживает соединение до его закрытия. Возвращает nil при штатном
// закрытии и ошибку кадра, из-за которой соединение было разорвано.
func (s *Session) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer cancel()
	defer s.cleanup()

	go s.writePump()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
			cancel()
		}
		s.conn.Close()
	}()

	s.logger.Info("🔌 Сессия %d открыта (%s, %s)", s.id, s.transport, s.conn.RemoteAddr())
	for {
		frame, err := protocol.ReadFrame(s.conn, s.cfg.MaxFrameBody)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			switch {
			case errors.Is(err, protocol.ErrInvalidHeader):
				s.metrics.frameError("header")
			case errors.Is(err, protocol.ErrFrameTooLarge):
				s.metrics.frameError("too_large")
			default:
				s.metrics.frameError("read")
			}
			s.logger.Warn("⚠️ Сессия %d: разрыв из-за кадра: %v", s.id, err)
			return err
		}

		started := time.Now()
		s.dispatch(frame)
		s.metrics.frameIn(frame.OpCode, time.Since(started))
	}
}

// Close разрывает соединение; очистка выполняется в Serve
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

func (s *Session) dispatch(frame *protocol.Frame) {
	h, ok := handlers[frame.OpCode]
	if !ok {
		s.metrics.frameError("unknown_opcode")
		s.logger.Debug("Сессия %d: неизвестный код %s пропущен", s.id, frame.OpCode)
		return
	}
	if s.logger.Enabled(logging.TRACE) {
		s.logger.Trace("← %s\n%s", frame.OpCode, logging.HexDump(frame.Body))
	}

	if err := h(s, protocol.NewReader(frame.Body)); err != nil {
		s.logger.Debug("Сессия %d: %s: %v", s.id, frame.OpCode, err)
		if errors.Is(err, protocol.ErrBodyTruncated) {
			s.metrics.frameError("body")
		}
		s.enqueue(errorFrame(err.Error()))
	}
}

func (s *Session) handleEnterRoom(r *protocol.Reader) error {
	roomID, err := r.VL64()
	if err != nil {
		return err
	}
	name := "guest-" + strconv.FormatUint(s.id, 10)
	if r.Remaining() > 0 {
		if n, err := r.String(); err == nil && n != "" {
			name = n
		}
	}

	s.leave()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	rm, err := s.rooms.GetOrLoad(ctx, roomID)
	if err != nil {
		return fmt.Errorf("enter room %d: %w", roomID, err)
	}

	// Подписка до входа, чтобы клиент увидел собственное появление
	sub := rm.Broadcaster().Subscribe(s.cfg.SendQueue)
	ent, err := rm.Spawn(ctx, s.id, name)
	if err != nil {
		sub.Close()
		return fmt.Errorf("enter room %d: %w", roomID, err)
	}

	s.current, s.ent, s.sub = rm, ent, sub
	s.relay.Add(1)
	go s.relayEvents(sub)

	s.enqueue(protocol.NewWriter(protocol.OpRoomReady).VL64(roomID).String(rm.Model().ID))
	return nil
}

func (s *Session) handleLeaveRoom(*protocol.Reader) error {
	if s.current == nil {
		return errNotInRoom
	}
	s.leave()
	return nil
}

func (s *Session) handleWalk(r *protocol.Reader) error {
	if s.ent == nil {
		return errNotInRoom
	}
	x, err := r.B64(2)
	if err != nil {
		return err
	}
	y, err := r.B64(2)
	if err != nil {
		return err
	}
	return s.ent.WalkTo(vec.Vec2{X: x, Y: y})
}

func (s *Session) handleTeleport(r *protocol.Reader) error {
	if !s.cfg.AllowTeleport {
		return errors.New("teleport not allowed")
	}
	if s.ent == nil {
		return errNotInRoom
	}
	x, err := r.VL64()
	if err != nil {
		return err
	}
	y, err := r.VL64()
	if err != nil {
		return err
	}
	var z float64
	if r.Remaining() > 0 {
		raw, _ := r.String()
		if raw != "" {
			if z, err = strconv.ParseFloat(raw, 64); err != nil {
				return fmt.Errorf("teleport height %q: %w", raw, err)
			}
		}
	}
	return s.ent.TeleportTo(vec.Vec3{X: x, Y: y, Z: z})
}

func (s *Session) handleGetHeightmap(*protocol.Reader) error {
	if s.current == nil {
		return errNotInRoom
	}
	s.enqueue(protocol.NewWriter(protocol.OpHeightmap).Raw(s.current.Model().Heightmap.String()))
	return nil
}

func (s *Session) handleGetUsers(*protocol.Reader) error {
	if s.current == nil {
		return errNotInRoom
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	infos, err := s.current.Entities(ctx)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		lines = append(lines, StatusLine(info.ID, info.Position, info.Stance))
	}
	s.enqueue(usersFrame(infos))
	s.enqueue(statusFrame(lines...))
	return nil
}

func (s *Session) handlePing(*protocol.Reader) error {
	s.enqueue(protocol.NewWriter(protocol.OpPong))
	return nil
}

// leave выводит сущность из текущей комнаты и ждёт доставки оставшихся событий
func (s *Session) leave() {
	if s.current == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	if err := s.current.Despawn(ctx, s.id); err != nil && !errors.Is(err, room.ErrEntityMissing) {
		s.logger.Warn("⚠️ Сессия %d: ошибка выхода из комнаты %d: %v", s.id, s.current.ID(), err)
	}
	s.sub.Close()
	s.relay.Wait()
	s.current, s.ent, s.sub = nil, nil, nil
}

// relayEvents переносит события комнаты в очередь отправки
func (s *Session) relayEvents(sub *room.Subscription) {
	defer s.relay.Done()
	for ev := range sub.C() {
		for _, w := range encodeEvent(ev) {
			s.enqueue(w)
		}
	}
}

// enqueue кладёт кадр в очередь без блокировки; при переполнении кадр теряется
func (s *Session) enqueue(w *protocol.Writer) {
	data, err := w.Frame()
	if err != nil {
		s.logger.Error("❌ Сессия %d: не удалось собрать кадр %s: %v", s.id, w.OpCode(), err)
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.send <- data:
		s.metrics.frameOut(w.OpCode())
	default:
		s.metrics.dropped()
		s.logger.Warn("⚠️ Сессия %d: очередь отправки полна, кадр %s отброшен", s.id, w.OpCode())
	}
}

type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

func (s *Session) writePump() {
	dw, hasDeadline := s.conn.(deadlineWriter)
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.send:
			if hasDeadline && s.cfg.WriteTimeout > 0 {
				_ = dw.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if _, err := s.conn.Write(data); err != nil {
				if s.ctx.Err() == nil {
					s.logger.Debug("Сессия %d: ошибка записи: %v", s.id, err)
				}
				s.Close()
				return
			}
		}
	}
}

func (s *Session) cleanup() {
	s.leave()
	s.Close()
	s.logger.Info("👋 Сессия %d закрыта", s.id)
}
