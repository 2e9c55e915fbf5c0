package entity

import (
	"fmt"

	"github.com/annel0/room-server/internal/vec"
)

// Phase фаза автомата ходьбы
type Phase uint8

const (
	Idle Phase = iota
	AwaitingReservation
	Transiting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingReservation:
		return "awaiting_reservation"
	case Transiting:
		return "transiting"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// State полное состояние движения сущности. Transition не меняет его на месте.
type State struct {
	Phase    Phase
	Position vec.Vec3
	Stance   Stance

	// Destination куда сущность идёт; имеет смысл только при Phase != Idle
	Destination vec.Vec2
	// Next клетка, зарезервированная под текущий шаг (Transiting)
	Next vec.Vec3
	// Held клетка, на которой сущность стоит по данным координатора
	Held    vec.Vec2
	Holding bool
	// Seq сопоставляет ответы резервирования и таймеры с текущим шагом
	Seq uint64
}

// Walking true, пока есть ожидающий запрос или взведённый таймер
func (s State) Walking() bool {
	return s.Phase != Idle
}

// Event входящее событие автомата
type Event interface{ event() }

type (
	// WalkRequested запрос WalkTo
	WalkRequested struct{ Destination vec.Vec2 }
	// ReservationGranted координатор выдал клетку шага
	ReservationGranted struct {
		Seq  uint64
		Tile vec.Vec3
	}
	// ReservationDenied шага нет, таймаут или ошибка
	ReservationDenied struct{ Seq uint64 }
	// StepElapsed истёк интервал шага
	StepElapsed struct{ Seq uint64 }
	// TeleportRequested запрос TeleportTo до уточнения высоты
	TeleportRequested struct{ Raw vec.Vec3 }
	// Teleported итоговая позиция телепорта
	Teleported struct{ Position vec.Vec3 }
	// PositionSet безусловная установка позиции
	PositionSet struct{ Position vec.Vec3 }
	// TileReserved ответ на попытку занять клетку стояния
	TileReserved struct {
		Tile    vec.Vec2
		Granted bool
	}
)

func (WalkRequested) event()      {}
func (ReservationGranted) event() {}
func (ReservationDenied) event()  {}
func (StepElapsed) event()        {}
func (TeleportRequested) event()  {}
func (Teleported) event()         {}
func (PositionSet) event()        {}
func (TileReserved) event()       {}

// Effect побочное действие, которое исполняет актор сущности
type Effect interface{ effect() }

type (
	// RequestReservation попросить жадный шаг From -> To
	RequestReservation struct {
		Seq  uint64
		From vec.Vec3
		To   vec.Vec2
	}
	// ScheduleArrival взвести таймер шага
	ScheduleArrival struct{ Seq uint64 }
	// ReleaseTile освободить клетку (синхронно, до следующих эффектов)
	ReleaseTile struct{ Tile vec.Vec2 }
	// ReserveTile попытаться занять клетку стояния, ответ приходит TileReserved
	ReserveTile struct{ Tile vec.Vec2 }
	// LookupHeight уточнить высоту для телепорта, ответ приходит Teleported
	LookupHeight struct{ Raw vec.Vec3 }
	// Broadcast опубликовать текущие позицию и стойку
	Broadcast struct{}
)

func (RequestReservation) effect() {}
func (ScheduleArrival) effect()    {}
func (ReleaseTile) effect()        {}
func (ReserveTile) effect()        {}
func (LookupHeight) effect()       {}
func (Broadcast) effect()          {}

// Transition чистая функция автомата ходьбы
func Transition(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case WalkRequested:
		return onWalk(s, e)
	case ReservationGranted:
		return onGranted(s, e)
	case ReservationDenied:
		if s.Phase != AwaitingReservation || e.Seq != s.Seq {
			return s, nil
		}
		return stop(s), []Effect{Broadcast{}}
	case StepElapsed:
		return onArrival(s, e)
	case TeleportRequested:
		return s, []Effect{LookupHeight{Raw: e.Raw}}
	case Teleported:
		return place(s, e.Position)
	case PositionSet:
		return place(s, e.Position)
	case TileReserved:
		return onTileReserved(s, e)
	}
	return s, nil
}

func onWalk(s State, e WalkRequested) (State, []Effect) {
	if s.Phase != Idle {
		// текущий шаг не прерываем, меняется только цель
		s.Destination = e.Destination
		return s, nil
	}
	if e.Destination == s.Position.ToVec2() {
		return s, nil
	}
	s.Destination = e.Destination
	return request(s)
}

func onGranted(s State, e ReservationGranted) (State, []Effect) {
	if s.Phase != AwaitingReservation || e.Seq != s.Seq {
		// клетка выдана под уже неактуальный запрос
		return s, []Effect{ReleaseTile{Tile: e.Tile.ToVec2()}}
	}

	if dir, ok := vec.DirectionBetween(s.Position.ToVec2(), e.Tile.ToVec2()); ok {
		s.Stance = s.Stance.Facing(dir)
	}
	s.Stance = s.Stance.With(PropWalkingToward, e.Tile.String())
	s.Next = e.Tile
	s.Phase = Transiting
	return s, []Effect{Broadcast{}, ScheduleArrival{Seq: s.Seq}}
}

func onArrival(s State, e StepElapsed) (State, []Effect) {
	if s.Phase != Transiting || e.Seq != s.Seq {
		return s, nil
	}

	var effects []Effect
	if s.Holding {
		effects = append(effects, ReleaseTile{Tile: s.Held})
	}
	s.Position = s.Next
	s.Held = s.Next.ToVec2()
	s.Holding = true
	s.Next = vec.Vec3{}
	s.Stance = s.Stance.Without(PropWalkingToward)

	if s.Destination != s.Position.ToVec2() {
		s.Phase = AwaitingReservation
		effects = append(effects, Broadcast{})
		next, more := request(s)
		return next, append(effects, more...)
	}

	s = stop(s)
	return s, append(effects, Broadcast{})
}

// place ставит сущность на позицию поверх любой ходьбы. Текущий шаг
// отменяется: Seq растёт, поэтому ответ на запрос и таймер шага устаревают.
func place(s State, pos vec.Vec3) (State, []Effect) {
	var effects []Effect
	if s.Phase == Transiting {
		effects = append(effects, ReleaseTile{Tile: s.Next.ToVec2()})
	}
	if s.Phase != Idle {
		s.Seq++
		s = stop(s)
	}

	tile := pos.ToVec2()
	s.Position = pos
	switch {
	case s.Holding && s.Held == tile:
		// клетка уже за сущностью
	case s.Holding:
		effects = append(effects, ReleaseTile{Tile: s.Held})
		s.Holding = false
		effects = append(effects, ReserveTile{Tile: tile})
	default:
		effects = append(effects, ReserveTile{Tile: tile})
	}
	return s, append(effects, Broadcast{})
}

func onTileReserved(s State, e TileReserved) (State, []Effect) {
	if !e.Granted {
		return s, nil
	}
	if s.Holding || e.Tile != s.Position.ToVec2() {
		// сущность уже ушла с клетки или держит другую
		return s, []Effect{ReleaseTile{Tile: e.Tile}}
	}
	s.Held = e.Tile
	s.Holding = true
	return s, nil
}

func request(s State) (State, []Effect) {
	s.Seq++
	s.Phase = AwaitingReservation
	return s, []Effect{RequestReservation{Seq: s.Seq, From: s.Position, To: s.Destination}}
}

func stop(s State) State {
	s.Phase = Idle
	s.Destination = vec.Vec2{}
	s.Next = vec.Vec3{}
	s.Stance = s.Stance.Without(PropWalkingToward)
	return s
}
