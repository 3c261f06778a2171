package assign

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emak3/sekigae/internal/seatmap"
)

func num(v int) *int { return &v }

func grid(rows, cols int, disabled ...int) seatmap.GridConfig {
	if disabled == nil {
		disabled = []int{}
	}
	return seatmap.GridConfig{Rows: rows, Cols: cols, DisabledSeats: disabled}
}

func seededRun(t *testing.T, students []seatmap.Student, g seatmap.GridConfig, mode Mode, seed int64) Result {
	t.Helper()
	return Run(students, g, mode, rand.New(rand.NewSource(seed)))
}

func TestRun_FirstPreferenceWins(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0, 1, 2}},
	}
	res := seededRun(t, students, grid(3, 3), ModePreference, 1)

	require.Len(t, res.Seats, 9)
	require.NotNil(t, res.Seats[0])
	require.Equal(t, "A", res.Seats[0].Name)
	require.Equal(t, 1, *res.Seats[0].Number)
	require.Equal(t, 1, res.Seats[0].Preference)

	// Every other seat is a placeholder carrying a distinct unused number.
	seen := map[int]bool{1: true}
	for i := 1; i < 9; i++ {
		s := res.Seats[i]
		require.NotNil(t, s, "seat %d", i)
		require.Equal(t, seatmap.PreferencePlaceholder, s.Preference)
		require.Equal(t, fmt.Sprintf("%d番", *s.Number), s.Name)
		require.False(t, seen[*s.Number], "number %d placed twice", *s.Number)
		require.True(t, *s.Number >= 2 && *s.Number <= 9)
		seen[*s.Number] = true
	}
}

func TestRun_EarlierRanksBeatLaterRanks(t *testing.T) {
	// B wants seat 0 as second choice; A wants it first. Rank 1 completes
	// across all students before rank 2 starts, so A always wins seat 0.
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0, 1, 2}},
		{Name: "B", Number: num(2), Preferences: []int{3, 0, 4}},
	}
	for seed := int64(0); seed < 20; seed++ {
		res := seededRun(t, students, grid(3, 3), ModePreference, seed)
		require.Equal(t, "A", res.Seats[0].Name, "seed %d", seed)
		require.Equal(t, "B", res.Seats[3].Name, "seed %d", seed)
		require.Equal(t, 1, res.Seats[3].Preference, "seed %d", seed)
	}
}

func TestRun_ContestedSeatGoesToExactlyOne(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{4, 0, 1}},
		{Name: "B", Number: num(2), Preferences: []int{4, 2, 3}},
	}
	for seed := int64(0); seed < 20; seed++ {
		res := seededRun(t, students, grid(3, 3), ModePreference, seed)

		winner := res.Seats[4]
		require.NotNil(t, winner)
		require.Equal(t, 1, winner.Preference)

		// The loser lands on its rank-2 choice.
		var loserSeat int
		if winner.Name == "A" {
			loserSeat = 2
		} else {
			loserSeat = 0
		}
		require.NotNil(t, res.Seats[loserSeat], "seed %d", seed)
		require.Equal(t, 2, res.Seats[loserSeat].Preference, "seed %d", seed)
	}
}

func TestRun_DisabledPreferenceFallsThrough(t *testing.T) {
	g := grid(3, 3, 0)
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0}},
	}
	res := seededRun(t, students, g, ModePreference, 7)

	require.Nil(t, res.Seats[0], "disabled seat must stay empty")
	var found *seatmap.SeatAssignment
	for _, s := range res.Seats {
		if s != nil && s.Name == "A" {
			found = s
		}
	}
	require.NotNil(t, found)
	require.Equal(t, seatmap.PreferenceRandom, found.Preference)
}

func TestRun_StalePreferenceOutOfRangeIsIgnored(t *testing.T) {
	// Preferences recorded against a larger grid survive a shrink; they
	// must fall through to random placement, not panic.
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{30, 31, 32}},
	}
	res := seededRun(t, students, grid(3, 3), ModePreference, 11)

	var found *seatmap.SeatAssignment
	for _, s := range res.Seats {
		if s != nil && s.Name == "A" {
			found = s
		}
	}
	require.NotNil(t, found)
	require.Equal(t, seatmap.PreferenceRandom, found.Preference)
}

func TestRun_AutoNumbersUnnumberedStudents(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(3), Preferences: []int{0, 1, 2}},
		{Name: "B"},
		{Name: "C"},
	}
	res := seededRun(t, students, grid(3, 3), ModePreference, 42)

	byName := map[string]seatmap.Student{}
	for _, s := range res.Students {
		byName[s.Name] = s
	}
	require.Equal(t, 3, *byName["A"].Number)
	require.NotNil(t, byName["B"].Number)
	require.NotNil(t, byName["C"].Number)
	require.NotEqual(t, *byName["B"].Number, *byName["C"].Number)

	for _, name := range []string{"B", "C"} {
		st := byName[name]
		require.True(t, st.Assigned)
		require.NotNil(t, st.AssignedSeat)
		seat := res.Seats[*st.AssignedSeat]
		require.Equal(t, name, seat.Name)
		require.Equal(t, seatmap.PreferenceAutoNumber, seat.Preference)
	}
}

func TestRun_NeverDoubleBooks(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0, 1, 2}},
		{Name: "B", Number: num(2), Preferences: []int{0, 1, 2}},
		{Name: "C", Number: num(3), Preferences: []int{0, 1, 2}},
		{Name: "D"},
		{Name: "E"},
	}
	g := grid(4, 4, 5, 6)

	for seed := int64(0); seed < 50; seed++ {
		res := seededRun(t, students, g, ModePreference, seed)
		require.Len(t, res.Seats, 16, "seed %d", seed)

		names := map[string]int{}
		numbers := map[int]int{}
		for i, s := range res.Seats {
			if s == nil {
				continue
			}
			require.False(t, g.IsDisabled(i), "seed %d placed into disabled seat %d", seed, i)
			if s.Preference != seatmap.PreferencePlaceholder {
				names[s.Name]++
			}
			if s.Number != nil {
				numbers[*s.Number]++
			}
		}
		for name, count := range names {
			require.Equal(t, 1, count, "seed %d: %s seated %d times", seed, name, count)
		}
		for n, count := range numbers {
			require.Equal(t, 1, count, "seed %d: number %d placed %d times", seed, n, count)
		}
	}
}

func TestRun_PlaceholdersOnlyOnSurplus(t *testing.T) {
	// 9 usable seats, 9 students: no room for placeholders.
	var students []seatmap.Student
	for i := 1; i <= 9; i++ {
		students = append(students, seatmap.Student{Name: fmt.Sprintf("s%d", i), Number: num(i)})
	}
	res := seededRun(t, students, grid(3, 3), ModePreference, 3)

	for _, s := range res.Seats {
		require.NotNil(t, s)
		require.NotEqual(t, seatmap.PreferencePlaceholder, s.Preference)
	}
}

func TestRun_FullyRandomIgnoresPreferences(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0, 1, 2}},
		{Name: "B", Number: num(2), Preferences: []int{3, 4, 5}},
	}
	for seed := int64(0); seed < 20; seed++ {
		res := seededRun(t, students, grid(3, 3), ModeRandom, seed)
		for _, s := range res.Seats {
			if s == nil {
				continue
			}
			require.Contains(t, []int{seatmap.PreferenceRandom, seatmap.PreferencePlaceholder}, s.Preference)
		}
	}
}

func TestRun_DeterministicForFixedSeed(t *testing.T) {
	students := []seatmap.Student{
		{Name: "A", Number: num(1), Preferences: []int{0, 1, 2}},
		{Name: "B", Number: num(2), Preferences: []int{0, 1, 2}},
		{Name: "C"},
	}
	a := seededRun(t, students, grid(3, 3), ModePreference, 99)
	b := seededRun(t, students, grid(3, 3), ModePreference, 99)
	require.Equal(t, a.Seats, b.Seats)
	require.Equal(t, a.Students, b.Students)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	students := []seatmap.Student{{Name: "B"}}
	_ = seededRun(t, students, grid(3, 3), ModePreference, 5)
	require.Nil(t, students[0].Number, "input slice must stay untouched")
	require.False(t, students[0].Assigned)
}
