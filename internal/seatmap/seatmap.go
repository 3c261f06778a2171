package seatmap

import (
	"slices"
	"strings"
	"time"
)

const (
	MinRows = 3
	MaxRows = 8
	MinCols = 3
	MaxCols = 8

	MinMaxNumber = 1
	MaxMaxNumber = 100

	DefaultRows = 5
	DefaultCols = 5

	MaxPreferences = 3
)

type GridConfig struct {
	Rows          int   `json:"rows"`
	Cols          int   `json:"cols"`
	DisabledSeats []int `json:"disabledSeats"`
}

func (g GridConfig) TotalSeats() int {
	return g.Rows * g.Cols
}

// UsableSeats is the number of seats students can actually sit in.
func (g GridConfig) UsableSeats() int {
	return g.Rows*g.Cols - len(g.DisabledSeats)
}

func (g GridConfig) IsDisabled(index int) bool {
	return slices.Contains(g.DisabledSeats, index)
}

type Student struct {
	Name         string `json:"name"`
	Number       *int   `json:"number"`
	Preferences  []int  `json:"preferences,omitempty"`
	Assigned     bool   `json:"assigned,omitempty"`
	AssignedSeat *int   `json:"assignedSeat,omitempty"`
}

// SeatAssignment is one occupied slot of the seat map. Preference records
// how the seat was decided: 1..3 for a granted preference, 0 for random
// fallback, -1 for auto-numbered students, -2 for a placeholder number with
// no enrolled student behind it.
type SeatAssignment struct {
	Name       string `json:"name"`
	Number     *int   `json:"number,omitempty"`
	Preference int    `json:"preference"`
}

const (
	PreferenceRandom      = 0
	PreferenceAutoNumber  = -1
	PreferencePlaceholder = -2
)

type AttendanceSettings struct {
	MaxNumber     int   `json:"maxNumber"`
	SeatCapacity  int   `json:"seatCapacity"`
	AbsentEnabled bool  `json:"absentEnabled"`
	AbsentNumbers []int `json:"absentNumbers"`
}

// Room is the authoritative state for one room. AssignedSeats always has
// exactly Grid.Rows*Grid.Cols entries; nil means the seat is empty.
type Room struct {
	Students      []Student          `json:"students"`
	Grid          GridConfig         `json:"gridConfig"`
	AssignedSeats []*SeatAssignment  `json:"assignedSeats"`
	Attendance    AttendanceSettings `json:"attendanceSettings"`
	LastModified  int64              `json:"timestamp"`
}

// CreateDefault builds the room a first joiner sees: a 5x5 grid with every
// seat usable and attendance numbers 1..25.
func CreateDefault() Room {
	grid := GridConfig{Rows: DefaultRows, Cols: DefaultCols, DisabledSeats: []int{}}
	total := grid.TotalSeats()
	return Room{
		Students:      []Student{},
		Grid:          grid,
		AssignedSeats: make([]*SeatAssignment, total),
		Attendance: AttendanceSettings{
			MaxNumber:     total,
			SeatCapacity:  total,
			AbsentEnabled: false,
			AbsentNumbers: []int{},
		},
		LastModified: time.Now().UnixMilli(),
	}
}

// Validate reports whether the room satisfies the structural invariants.
// It never panics; a corrupted room simply returns false and is expected to
// go through Repair.
func Validate(r Room) bool {
	if r.Grid.Rows < MinRows || r.Grid.Rows > MaxRows {
		return false
	}
	if r.Grid.Cols < MinCols || r.Grid.Cols > MaxCols {
		return false
	}
	total := r.Grid.TotalSeats()
	for _, d := range r.Grid.DisabledSeats {
		if d < 0 || d >= total {
			return false
		}
	}
	if len(r.AssignedSeats) != total {
		return false
	}
	if r.Attendance.MaxNumber < MinMaxNumber || r.Attendance.MaxNumber > MaxMaxNumber {
		return false
	}
	for _, n := range r.Attendance.AbsentNumbers {
		if n < 1 || n > r.Attendance.MaxNumber {
			return false
		}
	}
	seen := map[int]bool{}
	for _, s := range r.Students {
		if strings.TrimSpace(s.Name) == "" {
			return false
		}
		if s.Number != nil {
			if seen[*s.Number] {
				return false
			}
			seen[*s.Number] = true
		}
	}
	return true
}

// Repair rebuilds a valid room from whatever survived corruption. Grid
// bounds are clamped, out-of-range entries filtered, and the seat map
// recreated empty: assignments are not recoverable once the grid they were
// made against is suspect. Students and settings are kept as far as they
// type-check.
func Repair(r Room) Room {
	grid := GridConfig{
		Rows:          clamp(r.Grid.Rows, MinRows, MaxRows),
		Cols:          clamp(r.Grid.Cols, MinCols, MaxCols),
		DisabledSeats: []int{},
	}
	total := grid.TotalSeats()
	for _, d := range r.Grid.DisabledSeats {
		if d >= 0 && d < total {
			grid.DisabledSeats = append(grid.DisabledSeats, d)
		}
	}

	att := AttendanceSettings{
		MaxNumber:     clamp(r.Attendance.MaxNumber, MinMaxNumber, MaxMaxNumber),
		SeatCapacity:  grid.UsableSeats(),
		AbsentEnabled: r.Attendance.AbsentEnabled,
		AbsentNumbers: []int{},
	}
	for _, n := range r.Attendance.AbsentNumbers {
		if n >= 1 && n <= att.MaxNumber {
			att.AbsentNumbers = append(att.AbsentNumbers, n)
		}
	}

	return Room{
		Students:      SanitizeStudents(r.Students, grid, att.MaxNumber),
		Grid:          grid,
		AssignedSeats: make([]*SeatAssignment, total),
		Attendance:    att,
		LastModified:  time.Now().UnixMilli(),
	}
}

// Resize re-materializes the seat map for a new grid shape. Seat index i
// keeps its occupant when it exists in both the old and the new grid;
// everything else starts empty.
func Resize(r Room, rows, cols int, disabled []int) Room {
	grid := GridConfig{
		Rows:          clamp(rows, MinRows, MaxRows),
		Cols:          clamp(cols, MinCols, MaxCols),
		DisabledSeats: []int{},
	}
	total := grid.TotalSeats()
	for _, d := range disabled {
		if d >= 0 && d < total {
			grid.DisabledSeats = append(grid.DisabledSeats, d)
		}
	}

	seats := make([]*SeatAssignment, total)
	for i := 0; i < len(r.AssignedSeats) && i < total; i++ {
		seats[i] = r.AssignedSeats[i]
	}

	out := r
	out.Grid = grid
	out.AssignedSeats = seats
	out.Attendance.SeatCapacity = grid.UsableSeats()
	return out
}

// SanitizeStudents keeps the entries a strict parser would accept: trimmed
// non-empty names, numbers inside [1,maxNumber] with duplicates dropped
// (first occurrence wins), and at most three distinct preferences that
// point at enabled seats.
func SanitizeStudents(students []Student, grid GridConfig, maxNumber int) []Student {
	out := make([]Student, 0, len(students))
	seen := map[int]bool{}
	total := grid.TotalSeats()
	for _, s := range students {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		st := Student{Name: name, Assigned: s.Assigned, AssignedSeat: s.AssignedSeat}
		if s.Number != nil {
			n := *s.Number
			if n >= 1 && n <= maxNumber && !seen[n] {
				seen[n] = true
				st.Number = intPtr(n)
			}
		}
		for _, p := range s.Preferences {
			if len(st.Preferences) == MaxPreferences {
				break
			}
			if p < 0 || p >= total || grid.IsDisabled(p) || slices.Contains(st.Preferences, p) {
				continue
			}
			st.Preferences = append(st.Preferences, p)
		}
		out = append(out, st)
	}
	return out
}

// UsedNumbers collects the attendance numbers committed students occupy.
func UsedNumbers(students []Student) map[int]bool {
	used := make(map[int]bool, len(students))
	for _, s := range students {
		if s.Number != nil {
			used[*s.Number] = true
		}
	}
	return used
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func intPtr(v int) *int { return &v }
