package protocol

import "github.com/emak3/sekigae/internal/seatmap"

// Client -> server message types.
const (
	CmdJoinRoom                 = "joinRoom"
	CmdHoldNumber               = "holdNumber"
	CmdConfirmNumber            = "confirmNumber"
	CmdReleaseNumber            = "releaseNumber"
	CmdUpdateStudents           = "updateStudents"
	CmdUpdateGridConfig         = "updateGridConfig"
	CmdUpdateAssignedSeats      = "updateAssignedSeats"
	CmdUpdateAttendanceSettings = "updateAttendanceSettings"
	CmdAssignSeats              = "assignSeats"
	CmdRequestData              = "requestData"
	CmdClearAllData             = "clearAllData"
)

// Server -> client event types.
const (
	EvtRoomData                  = "roomData"
	EvtStudentsUpdated           = "studentsUpdated"
	EvtGridConfigUpdated         = "gridConfigUpdated"
	EvtAssignedSeatsUpdated      = "assignedSeatsUpdated"
	EvtAttendanceSettingsUpdated = "attendanceSettingsUpdated"
	EvtNumberHoldConfirmed       = "numberHoldConfirmed"
	EvtNumberTemporarilyHeld     = "numberTemporarilyHeld"
	EvtNumberConfirmed           = "numberConfirmed"
	EvtNumberReleased            = "numberReleased"
	EvtNumberConflictDetected    = "numberConflictDetected"
	EvtTemporaryHoldExpired      = "temporaryHoldExpired"
	EvtUserDisconnected          = "userDisconnected"
	EvtError                     = "error"
)

// ClientMessage is the single frame shape clients send. Which fields are
// meaningful depends on Type; unknown or missing fields are dropped at the
// boundary rather than rejected wholesale.
type ClientMessage struct {
	Type               string                      `json:"type"`
	RoomID             string                      `json:"roomId,omitempty"`
	Number             int                         `json:"number,omitempty"`
	Timestamp          int64                       `json:"timestamp,omitempty"`
	Mode               string                      `json:"mode,omitempty"`
	Students           []seatmap.Student           `json:"students,omitempty"`
	GridConfig         *seatmap.GridConfig         `json:"gridConfig,omitempty"`
	AssignedSeats      []*seatmap.SeatAssignment   `json:"assignedSeats,omitempty"`
	AttendanceSettings *seatmap.AttendanceSettings `json:"attendanceSettings,omitempty"`
}

// ServerMessage is the envelope for every event the server emits.
type ServerMessage struct {
	Type               string                      `json:"type"`
	Room               *seatmap.Room               `json:"room,omitempty"`
	Students           []seatmap.Student           `json:"students,omitempty"`
	GridConfig         *seatmap.GridConfig         `json:"gridConfig,omitempty"`
	AssignedSeats      []*seatmap.SeatAssignment   `json:"assignedSeats,omitempty"`
	AttendanceSettings *seatmap.AttendanceSettings `json:"attendanceSettings,omitempty"`
	Number             int                         `json:"number,omitempty"`
	Timestamp          int64                       `json:"timestamp,omitempty"`
	ConflictType       string                      `json:"conflictType,omitempty"`
	HeldBy             string                      `json:"heldBy,omitempty"`
	ConfirmedBy        string                      `json:"confirmedBy,omitempty"`
	ID                 string                      `json:"id,omitempty"`
	Error              string                      `json:"error,omitempty"`
}
