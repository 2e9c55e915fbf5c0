// Package network принимает клиентские соединения (TCP, KCP, WebSocket)
// и ведёт сессию на каждое соединение поверх кадров пакета protocol.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/room-server/internal/logging"
)

const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
	TransportWS  = "ws"
)

// Server реестр сессий и циклы приёма соединений
type Server struct {
	rooms   RoomSource
	cfg     SessionConfig
	metrics *Metrics
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID    atomic.Uint64
	mu        sync.Mutex
	sessions  map[uint64]*Session
	listeners []net.Listener
}

func NewServer(parent context.Context, rooms RoomSource, cfg SessionConfig, metrics *Metrics) *Server {
	ctx, cancel := context.WithCancel(parent)
	return &Server{
		rooms:    rooms,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logging.GetNetworkLogger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[uint64]*Session),
	}
}

// ListenTCP открывает TCP-порт и запускает цикл приёма
func (s *Server) ListenTCP(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.startListener(l, TransportTCP)
	return l.Addr(), nil
}

// ListenKCP открывает KCP (надёжный UDP) и запускает цикл приёма
func (s *Server) ListenKCP(addr string) (net.Addr, error) {
	l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.startListener(l, TransportKCP)
	return l.Addr(), nil
}

func (s *Server) startListener(l net.Listener, transport string) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(l, transport)
	}()
	s.logger.Info("🚀 %s сервер запущен на %s", transport, l.Addr())
}

func (s *Server) acceptLoop(l net.Listener, transport string) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Ошибка принятия соединения (%s): %v", transport, err)
			continue
		}

		if sess, ok := conn.(*kcp.UDPSession); ok {
			tuneKCP(sess)
		}

		go s.HandleConn(conn, transport)
	}
}

// tuneKCP настройки KCP для интерактивного трафика
func tuneKCP(conn *kcp.UDPSession) {
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

// HandleConn обслуживает соединение до закрытия. Блокирует.
func (s *Server) HandleConn(conn Conn, transport string) {
	id := s.nextID.Add(1)
	sess := NewSession(id, transport, conn, s.rooms, s.cfg, s.metrics)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[id] = sess
	s.wg.Add(1)
	s.mu.Unlock()
	s.metrics.connOpened(transport)

	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.metrics.connClosed(transport)
		s.wg.Done()
	}()

	if err := sess.Serve(s.ctx); err != nil {
		s.logger.Debug("Сессия %d завершена с ошибкой: %v", id, err)
	}
}

// Sessions число открытых сессий
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown закрывает слушатели и все сессии, ждёт их завершения
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	for _, l := range s.listeners {
		l.Close()
	}
	s.listeners = nil
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("🛑 Сетевой сервер остановлен")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
