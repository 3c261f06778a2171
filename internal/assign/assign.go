package assign

import (
	"fmt"
	"math/rand"

	"github.com/emak3/sekigae/internal/seatmap"
)

// Mode selects the assignment strategy.
type Mode string

const (
	// ModePreference honors seat preferences rank by rank before falling
	// back to random placement.
	ModePreference Mode = "preference"
	// ModeRandom ignores preferences entirely.
	ModeRandom Mode = "random"
)

// Result carries the outcome of one assignment run. Students is a full
// replacement for the room's student list: Run assigns attendance numbers
// to students that had none, which is its only side effect beyond seat
// placement.
type Result struct {
	Seats    []*seatmap.SeatAssignment
	Students []seatmap.Student
}

// Run resolves students into a conflict-free seat map. It operates on
// copies of its inputs and is deterministic for a fixed rng, so tests
// inject a seeded source while production passes a time-seeded one.
//
// Preference mode is three full passes: every still-unassigned numbered
// student is tried at rank 1 before anyone is tried at rank 2. Each pass
// re-shuffles the candidate list independently; pass-to-pass ordering is
// deliberately uncorrelated.
func Run(students []seatmap.Student, grid seatmap.GridConfig, mode Mode, rng *rand.Rand) Result {
	working := make([]seatmap.Student, len(students))
	copy(working, students)
	for i := range working {
		working[i].Assigned = false
		working[i].AssignedSeat = nil
	}

	seats := make([]*seatmap.SeatAssignment, grid.TotalSeats())

	if mode == ModePreference {
		for pref := 1; pref <= seatmap.MaxPreferences; pref++ {
			assignByPreference(working, grid, seats, pref, rng)
		}
		assignNumberedFallback(working, grid, seats, rng)
		assignUnnumbered(working, grid, seats, rng)
	} else {
		assignAllRandom(working, grid, seats, rng)
	}

	fillPlaceholders(working, grid, seats, rng)

	return Result{Seats: seats, Students: working}
}

// assignByPreference runs one preference pass over the numbered students.
// The candidate order is shuffled so input order never biases who wins a
// contested seat.
func assignByPreference(students []seatmap.Student, grid seatmap.GridConfig, seats []*seatmap.SeatAssignment, pref int, rng *rand.Rand) {
	order := candidateOrder(students, rng, func(s seatmap.Student) bool {
		return s.Number != nil && !s.Assigned && len(s.Preferences) >= pref
	})
	for _, i := range order {
		s := &students[i]
		seat := s.Preferences[pref-1]
		// A stale preference can outlive a grid shrink.
		if seat < 0 || seat >= len(seats) || grid.IsDisabled(seat) || seats[seat] != nil {
			continue
		}
		seats[seat] = &seatmap.SeatAssignment{Name: s.Name, Number: s.Number, Preference: pref}
		s.Assigned = true
		s.AssignedSeat = intPtr(seat)
	}
}

// assignNumberedFallback places numbered students that won none of their
// preferences into random empty seats.
func assignNumberedFallback(students []seatmap.Student, grid seatmap.GridConfig, seats []*seatmap.SeatAssignment, rng *rand.Rand) {
	order := candidateOrder(students, rng, func(s seatmap.Student) bool {
		return s.Number != nil && !s.Assigned
	})
	empty := emptySeats(grid, seats)
	rng.Shuffle(len(empty), func(i, j int) { empty[i], empty[j] = empty[j], empty[i] })
	for _, i := range order {
		if len(empty) == 0 {
			return
		}
		s := &students[i]
		seat := empty[len(empty)-1]
		empty = empty[:len(empty)-1]
		seats[seat] = &seatmap.SeatAssignment{Name: s.Name, Number: s.Number, Preference: seatmap.PreferenceRandom}
		s.Assigned = true
		s.AssignedSeat = intPtr(seat)
	}
}

// assignUnnumbered gives each number-less student an unused attendance
// number and a random empty seat. Mutating the student's number is the one
// write Run makes outside the seat map.
func assignUnnumbered(students []seatmap.Student, grid seatmap.GridConfig, seats []*seatmap.SeatAssignment, rng *rand.Rand) {
	numbers := unusedNumbers(students, grid)
	rng.Shuffle(len(numbers), func(i, j int) { numbers[i], numbers[j] = numbers[j], numbers[i] })
	empty := emptySeats(grid, seats)
	rng.Shuffle(len(empty), func(i, j int) { empty[i], empty[j] = empty[j], empty[i] })

	for i := range students {
		if students[i].Number != nil {
			continue
		}
		if len(empty) == 0 || len(numbers) == 0 {
			return
		}
		seat := empty[len(empty)-1]
		empty = empty[:len(empty)-1]
		number := numbers[len(numbers)-1]
		numbers = numbers[:len(numbers)-1]

		students[i].Number = intPtr(number)
		students[i].Assigned = true
		students[i].AssignedSeat = intPtr(seat)
		seats[seat] = &seatmap.SeatAssignment{Name: students[i].Name, Number: intPtr(number), Preference: seatmap.PreferenceAutoNumber}
	}
}

// assignAllRandom is the fully-random mode: every student, numbered or not,
// gets a random empty seat at rank 0.
func assignAllRandom(students []seatmap.Student, grid seatmap.GridConfig, seats []*seatmap.SeatAssignment, rng *rand.Rand) {
	order := candidateOrder(students, rng, func(seatmap.Student) bool { return true })
	empty := emptySeats(grid, seats)
	rng.Shuffle(len(empty), func(i, j int) { empty[i], empty[j] = empty[j], empty[i] })
	for _, i := range order {
		if len(empty) == 0 {
			return
		}
		s := &students[i]
		seat := empty[len(empty)-1]
		empty = empty[:len(empty)-1]
		seats[seat] = &seatmap.SeatAssignment{Name: s.Name, Number: s.Number, Preference: seatmap.PreferenceRandom}
		s.Assigned = true
		s.AssignedSeat = intPtr(seat)
	}
}

// fillPlaceholders seats the attendance numbers nobody enrolled under.
// Each remaining empty seat takes an unused number with a number-only
// label, marking it reserved.
func fillPlaceholders(students []seatmap.Student, grid seatmap.GridConfig, seats []*seatmap.SeatAssignment, rng *rand.Rand) {
	numbers := unusedNumbers(students, grid)
	empty := emptySeats(grid, seats)
	if len(numbers) == 0 || len(empty) == 0 {
		return
	}
	rng.Shuffle(len(numbers), func(i, j int) { numbers[i], numbers[j] = numbers[j], numbers[i] })
	rng.Shuffle(len(empty), func(i, j int) { empty[i], empty[j] = empty[j], empty[i] })

	n := min(len(numbers), len(empty))
	for i := 0; i < n; i++ {
		number := numbers[i]
		seats[empty[i]] = &seatmap.SeatAssignment{
			Name:       fmt.Sprintf("%d番", number),
			Number:     intPtr(number),
			Preference: seatmap.PreferencePlaceholder,
		}
	}
}

// candidateOrder returns the indices of students matching keep, shuffled.
func candidateOrder(students []seatmap.Student, rng *rand.Rand, keep func(seatmap.Student) bool) []int {
	order := make([]int, 0, len(students))
	for i, s := range students {
		if keep(s) {
			order = append(order, i)
		}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func emptySeats(grid seatmap.GridConfig, seats []*seatmap.SeatAssignment) []int {
	empty := []int{}
	for i := 0; i < grid.TotalSeats(); i++ {
		if !grid.IsDisabled(i) && seats[i] == nil {
			empty = append(empty, i)
		}
	}
	return empty
}

// unusedNumbers lists 1..usableSeats minus the numbers students occupy.
func unusedNumbers(students []seatmap.Student, grid seatmap.GridConfig) []int {
	used := seatmap.UsedNumbers(students)
	unused := []int{}
	for n := 1; n <= grid.UsableSeats(); n++ {
		if !used[n] {
			unused = append(unused, n)
		}
	}
	return unused
}

func intPtr(v int) *int { return &v }
