package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/vec"
)

func idleAt(x, y int) State {
	p := vec.Vec3{X: x, Y: y}
	return State{Position: p, Stance: NewStance(vec.South), Held: p.ToVec2(), Holding: true}
}

func TestWalkToCurrentPositionIsNoop(t *testing.T) {
	s := idleAt(3, 3)
	next, effects := Transition(s, WalkRequested{Destination: vec.Vec2{X: 3, Y: 3}})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestWalkTwoTiles(t *testing.T) {
	s := idleAt(0, 0)

	s, effects := Transition(s, WalkRequested{Destination: vec.Vec2{X: 2, Y: 0}})
	assert.Equal(t, AwaitingReservation, s.Phase)
	assert.True(t, s.Walking())
	require.Equal(t, []Effect{RequestReservation{Seq: 1, From: vec.Vec3{}, To: vec.Vec2{X: 2, Y: 0}}}, effects)

	s, effects = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 1, Y: 0}})
	assert.Equal(t, Transiting, s.Phase)
	assert.Equal(t, vec.East, s.Stance.HeadDirection)
	assert.Equal(t, vec.East, s.Stance.BodyDirection)
	mv, ok := s.Stance.Property(PropWalkingToward)
	require.True(t, ok)
	assert.Equal(t, "1,0,0.0", mv)
	assert.Equal(t, vec.Vec3{}, s.Position, "position changes only on arrival")
	assert.Equal(t, []Effect{Broadcast{}, ScheduleArrival{Seq: 1}}, effects)

	s, effects = Transition(s, StepElapsed{Seq: 1})
	assert.Equal(t, vec.Vec3{X: 1, Y: 0}, s.Position)
	assert.Equal(t, AwaitingReservation, s.Phase)
	assert.False(t, s.Stance.Has(PropWalkingToward))
	assert.Equal(t, []Effect{
		ReleaseTile{Tile: vec.Vec2{X: 0, Y: 0}},
		Broadcast{},
		RequestReservation{Seq: 2, From: vec.Vec3{X: 1}, To: vec.Vec2{X: 2, Y: 0}},
	}, effects)

	s, _ = Transition(s, ReservationGranted{Seq: 2, Tile: vec.Vec3{X: 2, Y: 0}})
	s, effects = Transition(s, StepElapsed{Seq: 2})
	assert.Equal(t, Idle, s.Phase)
	assert.False(t, s.Walking())
	assert.Equal(t, vec.Vec3{X: 2}, s.Position)
	assert.Equal(t, vec.Vec2{X: 2}, s.Held)
	assert.False(t, s.Stance.Has(PropWalkingToward))
	assert.Equal(t, []Effect{ReleaseTile{Tile: vec.Vec2{X: 1, Y: 0}}, Broadcast{}}, effects)
}

func TestRetargetDuringTransit(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 2, Y: 0}})
	s, _ = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 1, Y: 0}})

	s, effects := Transition(s, WalkRequested{Destination: vec.Vec2{X: 5, Y: 5}})
	assert.Empty(t, effects, "in-flight step is not interrupted")
	assert.Equal(t, Transiting, s.Phase)
	assert.Equal(t, vec.Vec3{X: 1, Y: 0}, s.Next)

	s, effects = Transition(s, StepElapsed{Seq: 1})
	assert.Equal(t, vec.Vec3{X: 1, Y: 0}, s.Position)
	require.Len(t, effects, 3)
	assert.Equal(t, RequestReservation{Seq: 2, From: vec.Vec3{X: 1}, To: vec.Vec2{X: 5, Y: 5}}, effects[2])
}

func TestRetargetWhileAwaiting(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 4, Y: 0}})
	s, effects := Transition(s, WalkRequested{Destination: vec.Vec2{X: 0, Y: 4}})
	assert.Empty(t, effects)
	assert.Equal(t, uint64(1), s.Seq, "no second request while one is in flight")
	assert.Equal(t, vec.Vec2{X: 0, Y: 4}, s.Destination)
}

func TestDenialStopsWithOneBroadcast(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 0, Y: 2}})

	s, effects := Transition(s, ReservationDenied{Seq: 1})
	assert.Equal(t, Idle, s.Phase)
	assert.False(t, s.Stance.Has(PropWalkingToward))
	assert.Equal(t, []Effect{Broadcast{}}, effects)

	// повторный отказ по тому же запросу ничего не делает
	s2, effects := Transition(s, ReservationDenied{Seq: 1})
	assert.Equal(t, s, s2)
	assert.Empty(t, effects)
}

func TestStaleGrantIsReleased(t *testing.T) {
	s := idleAt(0, 0)
	s, effects := Transition(s, ReservationGranted{Seq: 7, Tile: vec.Vec3{X: 1, Y: 1}})
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, []Effect{ReleaseTile{Tile: vec.Vec2{X: 1, Y: 1}}}, effects)
}

func TestStaleStepIsIgnored(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 2, Y: 0}})
	s, _ = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 1, Y: 0}})

	next, effects := Transition(s, StepElapsed{Seq: 0})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestGrantWithoutDeltaKeepsDirection(t *testing.T) {
	s := idleAt(2, 2)
	s.Stance = NewStance(vec.NorthWest)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 3, Y: 3}})

	s, _ = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 2, Y: 2}})
	assert.Equal(t, vec.NorthWest, s.Stance.HeadDirection)
	assert.Equal(t, vec.NorthWest, s.Stance.BodyDirection)
}

func TestTeleport(t *testing.T) {
	s := idleAt(0, 0)

	s, effects := Transition(s, TeleportRequested{Raw: vec.Vec3{X: 3, Y: 3}})
	assert.Equal(t, []Effect{LookupHeight{Raw: vec.Vec3{X: 3, Y: 3}}}, effects)
	assert.Equal(t, vec.Vec3{}, s.Position)

	s, effects = Transition(s, Teleported{Position: vec.Vec3{X: 3, Y: 3, Z: 1}})
	assert.Equal(t, vec.Vec3{X: 3, Y: 3, Z: 1}, s.Position)
	assert.False(t, s.Holding)
	assert.Equal(t, []Effect{
		ReleaseTile{Tile: vec.Vec2{}},
		ReserveTile{Tile: vec.Vec2{X: 3, Y: 3}},
		Broadcast{},
	}, effects)

	s, effects = Transition(s, TileReserved{Tile: vec.Vec2{X: 3, Y: 3}, Granted: true})
	assert.Empty(t, effects)
	assert.True(t, s.Holding)
	assert.Equal(t, vec.Vec2{X: 3, Y: 3}, s.Held)
}

func TestLateTileReservationIsReturned(t *testing.T) {
	s := idleAt(5, 5)
	s.Holding = false

	_, effects := Transition(s, TileReserved{Tile: vec.Vec2{X: 1, Y: 1}, Granted: true})
	assert.Equal(t, []Effect{ReleaseTile{Tile: vec.Vec2{X: 1, Y: 1}}}, effects)

	next, effects := Transition(s, TileReserved{Tile: vec.Vec2{X: 5, Y: 5}, Granted: false})
	assert.Empty(t, effects)
	assert.False(t, next.Holding)
}

func TestSetPositionAlwaysBroadcasts(t *testing.T) {
	s := idleAt(0, 0)
	s, effects := Transition(s, PositionSet{Position: vec.Vec3{}})
	assert.Equal(t, []Effect{Broadcast{}}, effects)

	s, effects = Transition(s, PositionSet{Position: vec.Vec3{X: 9, Y: 9, Z: 2}})
	assert.Equal(t, vec.Vec3{X: 9, Y: 9, Z: 2}, s.Position)
	assert.False(t, s.Holding)
	assert.Equal(t, []Effect{
		ReleaseTile{Tile: vec.Vec2{}},
		ReserveTile{Tile: vec.Vec2{X: 9, Y: 9}},
		Broadcast{},
	}, effects)

	s, _ = Transition(s, TileReserved{Tile: vec.Vec2{X: 9, Y: 9}, Granted: true})
	assert.True(t, s.Holding)
	assert.Equal(t, vec.Vec2{X: 9, Y: 9}, s.Held)
}

func TestTeleportDuringTransitEndsWalk(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 4, Y: 0}})
	s, _ = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 1, Y: 0}})
	require.Equal(t, Transiting, s.Phase)

	s, effects := Transition(s, Teleported{Position: vec.Vec3{X: 7, Y: 7}})
	assert.Equal(t, []Effect{
		ReleaseTile{Tile: vec.Vec2{X: 1, Y: 0}},
		ReleaseTile{Tile: vec.Vec2{}},
		ReserveTile{Tile: vec.Vec2{X: 7, Y: 7}},
		Broadcast{},
	}, effects)
	assert.Equal(t, Idle, s.Phase)
	assert.False(t, s.Stance.Has(PropWalkingToward))
	assert.Equal(t, vec.Vec3{X: 7, Y: 7}, s.Position)

	// таймер старого шага не возвращает сущность назад
	next, effects := Transition(s, StepElapsed{Seq: 1})
	assert.Empty(t, effects)
	assert.Equal(t, vec.Vec3{X: 7, Y: 7}, next.Position)
}

func TestSetPositionWhileAwaitingDropsRequest(t *testing.T) {
	s := idleAt(0, 0)
	s, _ = Transition(s, WalkRequested{Destination: vec.Vec2{X: 4, Y: 0}})

	s, effects := Transition(s, PositionSet{Position: vec.Vec3{}})
	assert.Equal(t, []Effect{Broadcast{}}, effects)
	assert.Equal(t, Idle, s.Phase)

	// ответ на отменённый запрос возвращается координатору
	s, effects = Transition(s, ReservationGranted{Seq: 1, Tile: vec.Vec3{X: 1, Y: 0}})
	assert.Equal(t, []Effect{ReleaseTile{Tile: vec.Vec2{X: 1, Y: 0}}}, effects)
	assert.Equal(t, vec.Vec3{}, s.Position)
}

func TestStanceEncode(t *testing.T) {
	st := NewStance(vec.East)
	assert.Equal(t, "/", st.Encode())

	st = st.With(PropWalkingToward, "1,0,0.0").With("sit", "")
	assert.Equal(t, "/mv 1,0,0.0/sit/", st.Encode())

	st2 := st.With(PropWalkingToward, "2,0,0.0")
	v, _ := st.Property(PropWalkingToward)
	assert.Equal(t, "1,0,0.0", v, "With does not mutate the original")
	v, _ = st2.Property(PropWalkingToward)
	assert.Equal(t, "2,0,0.0", v)

	assert.Equal(t, "/sit/", st2.Without(PropWalkingToward).Encode())
}
