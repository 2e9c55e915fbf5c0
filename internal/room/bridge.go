package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/room-server/internal/eventbus"
	"github.com/annel0/room-server/internal/logging"
)

// BusBridge пересылает события комнат во внешнюю шину. Publish шины может
// ходить в сеть, поэтому события копятся в очереди и уходят из своей горутины.
type BusBridge struct {
	bus     eventbus.EventBus
	source  string
	queue   chan Event
	dropped atomic.Uint64
	logger  *logging.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewBusBridge(bus eventbus.EventBus, source string, queue int) *BusBridge {
	if queue <= 0 {
		queue = 1024
	}
	return &BusBridge{
		bus:    bus,
		source: source,
		queue:  make(chan Event, queue),
		logger: logging.GetComponentLogger(logging.ComponentBridge),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Forward реализует Forwarder; не блокируется
func (bb *BusBridge) Forward(ev Event) {
	select {
	case bb.queue <- ev:
	default:
		bb.dropped.Add(1)
	}
}

// Dropped события, не вместившиеся в очередь
func (bb *BusBridge) Dropped() uint64 { return bb.dropped.Load() }

// Run отправляет события до Stop
func (bb *BusBridge) Run() {
	defer close(bb.done)
	for {
		select {
		case ev := <-bb.queue:
			bb.send(ev)
		case <-bb.quit:
			for {
				select {
				case ev := <-bb.queue:
					bb.send(ev)
				default:
					return
				}
			}
		}
	}
}

// Stop досылает очередь и останавливает Run
func (bb *BusBridge) Stop() {
	bb.stopOnce.Do(func() { close(bb.quit) })
	<-bb.done
}

func (bb *BusBridge) send(ev Event) {
	env, err := toEnvelope(bb.source, ev)
	if err != nil {
		bb.logger.Warn("Событие комнаты %d не сериализовано: %v", ev.RoomID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bb.bus.Publish(ctx, env); err != nil {
		bb.logger.Warn("Публикация %s в шину: %v", env.EventType, err)
	}
}

func toEnvelope(source string, ev Event) (*eventbus.Envelope, error) {
	u := ev.Update
	payload, err := eventbus.EncodePositionEvent(&eventbus.PositionEvent{
		RoomID:     ev.RoomID,
		EntityID:   ev.EntityID,
		Name:       ev.Name,
		X:          u.Position.X,
		Y:          u.Position.Y,
		Z:          u.Position.Z,
		Head:       uint8(u.Stance.HeadDirection),
		Body:       uint8(u.Stance.BodyDirection),
		Properties: u.Stance.Properties(),
		Walking:    u.Walking,
	})
	if err != nil {
		return nil, err
	}

	var eventType string
	switch ev.Kind {
	case EntityJoined:
		eventType = eventbus.TypeEntityJoined
	case EntityLeft:
		eventType = eventbus.TypeEntityLeft
	default:
		eventType = eventbus.TypeEntityMoved
	}

	env := eventbus.NewEnvelope(source, eventType, payload)
	env.CorrelationID = fmt.Sprintf("room-%d", ev.RoomID)
	if ev.Kind != EntityMoved {
		// вход и выход важнее промежуточных шагов
		env.Priority = 5
	}
	return env, nil
}
