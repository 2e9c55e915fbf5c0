package room

import (
	"sync"
	"sync/atomic"

	"github.com/annel0/room-server/internal/room/entity"
)

// EventKind тип события комнаты
type EventKind uint8

const (
	EntityMoved EventKind = iota
	EntityJoined
	EntityLeft
)

func (k EventKind) String() string {
	switch k {
	case EntityMoved:
		return "moved"
	case EntityJoined:
		return "joined"
	case EntityLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event событие, доставляемое подписчикам комнаты
type Event struct {
	Kind     EventKind
	RoomID   int
	EntityID uint64
	Name     string
	Update   entity.PositionUpdated
}

// Forwarder получает копию каждого события (например, мост в шину)
type Forwarder interface {
	Forward(Event)
}

// Subscription канал событий одного подписчика
type Subscription struct {
	id uint64
	c  chan Event
	b  *Broadcaster
}

// C события в порядке публикации; закрывается при отписке
func (s *Subscription) C() <-chan Event { return s.c }

// Close отписывает подписчика
func (s *Subscription) Close() { s.b.unsubscribe(s.id) }

// Broadcaster список наблюдателей комнаты. Publish не блокируется:
// если буфер подписчика полон, событие для него отбрасывается.
type Broadcaster struct {
	roomID  int
	metrics *Metrics

	mu         sync.RWMutex
	subs       map[uint64]chan Event
	forwarders []Forwarder
	nextID     uint64
	closed     bool

	dropped atomic.Uint64
}

func NewBroadcaster(roomID int, metrics *Metrics) *Broadcaster {
	return &Broadcaster{
		roomID:  roomID,
		metrics: metrics,
		subs:    make(map[uint64]chan Event),
	}
}

// AddForwarder подключает получателя копий событий
func (b *Broadcaster) AddForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarders = append(b.forwarders, f)
	b.mu.Unlock()
}

// Subscribe новый подписчик с буфером buffer событий
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, c: make(chan Event, buffer), b: b}
	if b.closed {
		close(sub.c)
		return sub
	}
	b.subs[sub.id] = sub.c
	return sub
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(c)
	}
}

// Publish реализует entity.Broadcaster
func (b *Broadcaster) Publish(u entity.PositionUpdated) {
	b.PublishEvent(Event{Kind: EntityMoved, EntityID: u.EntityID, Update: u})
}

// PublishEvent рассылает событие всем текущим подписчикам
func (b *Broadcaster) PublishEvent(ev Event) {
	ev.RoomID = b.roomID

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
			b.dropped.Add(1)
			b.metrics.droppedEvent()
		}
	}
	for _, f := range b.forwarders {
		f.Forward(ev)
	}
}

// Subscribers число подписчиков
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped сколько событий не дошло до медленных подписчиков
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Close закрывает каналы всех подписчиков
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.subs {
		delete(b.subs, id)
		close(c)
	}
}
