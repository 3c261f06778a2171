package room

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/emak3/sekigae/internal/assign"
	"github.com/emak3/sekigae/internal/protocol"
	"github.com/emak3/sekigae/internal/reservation"
	"github.com/emak3/sekigae/internal/seatmap"
)

type Msg interface{ isRoomMsg() }

type Join struct {
	ClientID string
	Outbox   chan protocol.ServerMessage
}

type Leave struct{ ClientID string }

type HoldNumber struct {
	ClientID  string
	Number    int
	Timestamp int64
}

type ConfirmNumber struct {
	ClientID  string
	Number    int
	Timestamp int64
}

type ReleaseNumber struct {
	ClientID string
	Number   int
}

type UpdateStudents struct {
	ClientID string
	Students []seatmap.Student
}

type UpdateGrid struct {
	ClientID string
	Grid     seatmap.GridConfig
}

type UpdateAssignedSeats struct {
	ClientID string
	Seats    []*seatmap.SeatAssignment
}

type UpdateAttendance struct {
	ClientID string
	Settings seatmap.AttendanceSettings
}

type AssignSeats struct {
	ClientID string
	Mode     assign.Mode
}

type RequestData struct{ ClientID string }

type ClearAll struct{ ClientID string }

// ReleaseHolder frees every hold the disconnecting client owned and tells
// the room they left.
type ReleaseHolder struct{ ClientID string }

// IdleCheck asks whether the room is evictable: no members and no
// modification since the cutoff.
type IdleCheck struct {
	Cutoff int64
	Reply  chan bool
}

// GetState reflects internal state without data races; test-only.
type GetState struct{ Reply chan View }

type Shutdown struct{}

type holdExpired struct{ exp reservation.Expiry }

func (Join) isRoomMsg()                {}
func (Leave) isRoomMsg()               {}
func (HoldNumber) isRoomMsg()          {}
func (ConfirmNumber) isRoomMsg()       {}
func (ReleaseNumber) isRoomMsg()       {}
func (UpdateStudents) isRoomMsg()      {}
func (UpdateGrid) isRoomMsg()          {}
func (UpdateAssignedSeats) isRoomMsg() {}
func (UpdateAttendance) isRoomMsg()    {}
func (AssignSeats) isRoomMsg()         {}
func (RequestData) isRoomMsg()         {}
func (ClearAll) isRoomMsg()            {}
func (ReleaseHolder) isRoomMsg()       {}
func (IdleCheck) isRoomMsg()           {}
func (GetState) isRoomMsg()            {}
func (Shutdown) isRoomMsg()            {}
func (holdExpired) isRoomMsg()         {}

type View struct {
	State      seatmap.Room
	NumClients int
	NumHolds   int
}

// Options tune a room. Zero values get sensible defaults.
type Options struct {
	HoldTTL time.Duration
	Logger  *zap.Logger
	Rand    *rand.Rand
}

// Room is the serialized coordinator for one room id: a single goroutine
// consumes the inbox, so state and holds need no locking. Hold expiry
// timers post holdExpired back into the same inbox instead of mutating
// from the timer goroutine.
type Room struct {
	id      string
	inbox   chan Msg
	state   seatmap.Room
	holds   *reservation.Ledger
	clients map[string]chan protocol.ServerMessage
	rng     *rand.Rand
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRoom(parent context.Context, id string, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	r := &Room{
		id:      id,
		inbox:   make(chan Msg, 64),
		state:   seatmap.CreateDefault(),
		clients: make(map[string]chan protocol.ServerMessage),
		rng:     rng,
		log:     log.With(zap.String("room", id)),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.holds = reservation.NewLedger(opts.HoldTTL, func(e reservation.Expiry) {
		select {
		case r.inbox <- holdExpired{exp: e}:
		case <-r.ctx.Done():
		}
	})

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Send delivers a message unless the room has shut down. Callers holding a
// stale pointer to an evicted room get false and should re-resolve it.
func (r *Room) Send(m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Leave:
				delete(r.clients, msg.ClientID)
			case HoldNumber:
				r.handleHold(msg)
			case ConfirmNumber:
				r.handleConfirm(msg)
			case ReleaseNumber:
				r.handleRelease(msg)
			case holdExpired:
				r.handleExpired(msg.exp)
			case UpdateStudents:
				r.handleUpdateStudents(msg)
			case UpdateGrid:
				r.handleUpdateGrid(msg)
			case UpdateAssignedSeats:
				r.handleUpdateSeats(msg)
			case UpdateAttendance:
				r.handleUpdateAttendance(msg)
			case AssignSeats:
				r.handleAssign(msg)
			case RequestData:
				r.sendTo(msg.ClientID, protocol.ServerMessage{Type: protocol.EvtRoomData, Room: r.validSnapshot()})
			case ClearAll:
				r.handleClearAll(msg)
			case ReleaseHolder:
				r.handleReleaseHolder(msg)
			case IdleCheck:
				msg.Reply <- len(r.clients) == 0 && r.state.LastModified < msg.Cutoff
			case GetState:
				msg.Reply <- View{State: r.state, NumClients: len(r.clients), NumHolds: r.holds.Len()}
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	r.clients[msg.ClientID] = msg.Outbox
	r.sendTo(msg.ClientID, protocol.ServerMessage{Type: protocol.EvtRoomData, Room: r.validSnapshot()})
}

func (r *Room) handleHold(msg HoldNumber) {
	if msg.Number < 1 || msg.Number > r.state.Attendance.MaxNumber {
		r.log.Warn("hold request out of range",
			zap.Int("number", msg.Number),
			zap.Int("maxNumber", r.state.Attendance.MaxNumber))
		return
	}
	status := r.holds.Claim(msg.Number, msg.ClientID, seatmap.UsedNumbers(r.state.Students))
	if status != reservation.Granted {
		r.log.Debug("hold rejected",
			zap.Int("number", msg.Number),
			zap.String("client", msg.ClientID),
			zap.String("reason", string(status)))
		r.sendTo(msg.ClientID, protocol.ServerMessage{
			Type:         protocol.EvtNumberConflictDetected,
			Number:       msg.Number,
			ConflictType: string(status),
		})
		return
	}
	r.log.Debug("number held", zap.Int("number", msg.Number), zap.String("client", msg.ClientID))
	r.sendTo(msg.ClientID, protocol.ServerMessage{
		Type:      protocol.EvtNumberHoldConfirmed,
		Number:    msg.Number,
		Timestamp: msg.Timestamp,
	})
	r.broadcast(protocol.ServerMessage{
		Type:   protocol.EvtNumberTemporarilyHeld,
		Number: msg.Number,
		HeldBy: msg.ClientID,
	}, msg.ClientID)
}

func (r *Room) handleConfirm(msg ConfirmNumber) {
	if !r.holds.Confirm(msg.Number, msg.ClientID) {
		r.sendTo(msg.ClientID, protocol.ServerMessage{
			Type:         protocol.EvtNumberConflictDetected,
			Number:       msg.Number,
			ConflictType: string(reservation.NotHeld),
		})
		return
	}
	r.sendTo(msg.ClientID, protocol.ServerMessage{
		Type:      protocol.EvtNumberConfirmed,
		Number:    msg.Number,
		Timestamp: msg.Timestamp,
	})
	r.broadcast(protocol.ServerMessage{
		Type:        protocol.EvtNumberConfirmed,
		Number:      msg.Number,
		ConfirmedBy: msg.ClientID,
	}, msg.ClientID)
}

func (r *Room) handleRelease(msg ReleaseNumber) {
	if !r.holds.Release(msg.Number, msg.ClientID) {
		return
	}
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtNumberReleased, Number: msg.Number}, msg.ClientID)
}

func (r *Room) handleExpired(e reservation.Expiry) {
	if !r.holds.Expire(e) {
		// Confirmed, released, or re-claimed before the timer fired.
		return
	}
	r.log.Info("hold expired", zap.Int("number", e.Number), zap.String("client", e.HolderID))
	r.sendTo(e.HolderID, protocol.ServerMessage{Type: protocol.EvtTemporaryHoldExpired, Number: e.Number})
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtNumberReleased, Number: e.Number}, e.HolderID)
}

func (r *Room) handleUpdateStudents(msg UpdateStudents) {
	prev := seatmap.UsedNumbers(r.state.Students)
	students := seatmap.SanitizeStudents(msg.Students, r.state.Grid, r.state.Attendance.MaxNumber)
	if dropped := len(msg.Students) - len(students); dropped > 0 {
		r.log.Warn("dropped malformed students", zap.Int("count", dropped))
	}

	// A freshly committed number invalidates anyone else's hold on it.
	for _, s := range students {
		if s.Number == nil || prev[*s.Number] {
			continue
		}
		holder, ok := r.holds.ForceExpire(*s.Number)
		if !ok || holder == msg.ClientID {
			continue
		}
		r.log.Info("hold superseded by committed student",
			zap.Int("number", *s.Number), zap.String("client", holder))
		r.sendTo(holder, protocol.ServerMessage{
			Type:         protocol.EvtNumberConflictDetected,
			Number:       *s.Number,
			ConflictType: string(reservation.NowUsed),
		})
		r.broadcast(protocol.ServerMessage{Type: protocol.EvtNumberReleased, Number: *s.Number}, holder)
	}

	r.state.Students = students
	r.touch()
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtStudentsUpdated, Students: students}, msg.ClientID)
}

func (r *Room) handleUpdateGrid(msg UpdateGrid) {
	r.state = seatmap.Resize(r.state, msg.Grid.Rows, msg.Grid.Cols, msg.Grid.DisabledSeats)
	r.touch()
	grid := r.state.Grid
	att := r.state.Attendance
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtGridConfigUpdated, GridConfig: &grid}, msg.ClientID)
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtAssignedSeatsUpdated, AssignedSeats: r.state.AssignedSeats}, msg.ClientID)
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtAttendanceSettingsUpdated, AttendanceSettings: &att}, msg.ClientID)
}

func (r *Room) handleUpdateSeats(msg UpdateAssignedSeats) {
	if len(msg.Seats) != r.state.Grid.TotalSeats() {
		r.log.Warn("assigned seats length mismatch",
			zap.Int("got", len(msg.Seats)),
			zap.Int("want", r.state.Grid.TotalSeats()))
		return
	}
	r.state.AssignedSeats = msg.Seats
	r.touch()
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtAssignedSeatsUpdated, AssignedSeats: msg.Seats}, msg.ClientID)
}

func (r *Room) handleUpdateAttendance(msg UpdateAttendance) {
	settings := msg.Settings
	if settings.MaxNumber < seatmap.MinMaxNumber {
		settings.MaxNumber = seatmap.MinMaxNumber
	}
	if settings.MaxNumber > seatmap.MaxMaxNumber {
		settings.MaxNumber = seatmap.MaxMaxNumber
	}
	settings.SeatCapacity = r.state.Grid.UsableSeats()
	absent := []int{}
	for _, n := range settings.AbsentNumbers {
		if n >= 1 && n <= settings.MaxNumber {
			absent = append(absent, n)
		}
	}
	settings.AbsentNumbers = absent

	r.state.Attendance = settings
	r.touch()
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtAttendanceSettingsUpdated, AttendanceSettings: &settings}, msg.ClientID)
}

func (r *Room) handleAssign(msg AssignSeats) {
	mode := msg.Mode
	if mode != assign.ModeRandom {
		mode = assign.ModePreference
	}
	res := assign.Run(r.state.Students, r.state.Grid, mode, r.rng)
	r.state.Students = res.Students
	r.state.AssignedSeats = res.Seats
	r.touch()
	// The requester needs the result too, so nobody is excluded here.
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtStudentsUpdated, Students: res.Students}, "")
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtAssignedSeatsUpdated, AssignedSeats: res.Seats}, "")
}

func (r *Room) handleClearAll(msg ClearAll) {
	grid := r.state.Grid
	total := grid.TotalSeats()
	usable := grid.UsableSeats()
	maxNumber := usable
	if maxNumber < seatmap.MinMaxNumber {
		maxNumber = seatmap.MinMaxNumber
	}
	if maxNumber > seatmap.MaxMaxNumber {
		maxNumber = seatmap.MaxMaxNumber
	}
	r.state = seatmap.Room{
		Students:      []seatmap.Student{},
		Grid:          grid,
		AssignedSeats: make([]*seatmap.SeatAssignment, total),
		Attendance: seatmap.AttendanceSettings{
			MaxNumber:     maxNumber,
			SeatCapacity:  usable,
			AbsentEnabled: false,
			AbsentNumbers: []int{},
		},
	}
	r.touch()
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtRoomData, Room: r.snapshot()}, "")
}

func (r *Room) handleReleaseHolder(msg ReleaseHolder) {
	freed := r.holds.ReleaseAllByHolder(msg.ClientID)
	for _, n := range freed {
		r.broadcast(protocol.ServerMessage{Type: protocol.EvtNumberReleased, Number: n}, msg.ClientID)
	}
	delete(r.clients, msg.ClientID)
	if len(freed) > 0 {
		r.log.Info("released holds on disconnect",
			zap.String("client", msg.ClientID), zap.Ints("numbers", freed))
	}
	r.broadcast(protocol.ServerMessage{Type: protocol.EvtUserDisconnected, ID: msg.ClientID}, msg.ClientID)
}

// validSnapshot repairs the state first if it no longer validates, so a
// joiner or reconnector never sees a corrupt room.
func (r *Room) validSnapshot() *seatmap.Room {
	if !seatmap.Validate(r.state) {
		r.log.Warn("room state failed validation, repairing")
		r.state = seatmap.Repair(r.state)
	}
	return r.snapshot()
}

func (r *Room) snapshot() *seatmap.Room {
	snap := r.state
	return &snap
}

func (r *Room) touch() {
	r.state.LastModified = time.Now().UnixMilli()
}

func (r *Room) sendTo(clientID string, msg protocol.ServerMessage) {
	ch, ok := r.clients[clientID]
	if !ok {
		return
	}
	select {
	case ch <- msg:
	default:
		// Slow or stuck client: drop it rather than block the room. The
		// outbox stays open; the connection owns and outlives it.
		delete(r.clients, clientID)
		r.log.Warn("dropping slow client", zap.String("client", clientID))
	}
}

func (r *Room) broadcast(msg protocol.ServerMessage, exclude string) {
	for id, ch := range r.clients {
		if id == exclude {
			continue
		}
		select {
		case ch <- msg:
		default:
			delete(r.clients, id)
			r.log.Warn("dropping slow client", zap.String("client", id))
		}
	}
}

func (r *Room) shutdown() {
	// Outboxes are owned by their connections; deregistering is enough.
	// Writers notice via their own context when the connection ends.
	clear(r.clients)
	r.holds.Close()
	r.cancel()
}
