package calendar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdaySchedule() Schedule {
	days := []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	s := Schedule{TimeZone: "UTC"}
	for _, d := range days {
		s.Week = append(s.Week, Day{Day: d, Windows: []Window{{Start: "09:00", End: "12:00"}, {Start: "13:00", End: "18:00"}}})
	}
	return s
}

func TestAlwaysOn(t *testing.T) {
	cal := AlwaysOn()
	from := time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, 90*time.Minute, cal.Elapsed(from, from.Add(90*time.Minute)))
	assert.Zero(t, cal.Elapsed(from, from.Add(-time.Minute)))

	due, err := cal.Add(from, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, from.Add(30*time.Minute), due)
}

func TestEmptyScheduleRunsAroundTheClock(t *testing.T) {
	cal, err := New(Schedule{})
	require.NoError(t, err)
	from := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Hour, cal.Elapsed(from, from.Add(2*time.Hour)))
}

func TestElapsedSkipsLunchAndWeekend(t *testing.T) {
	cal, err := New(weekdaySchedule())
	require.NoError(t, err)

	// Friday 17:00 -> Monday 10:00: one hour Friday, one hour Monday.
	from := time.Date(2026, 10, 16, 17, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Hour, cal.Elapsed(from, to))

	// 11:30 -> 13:30 crosses lunch.
	from = time.Date(2026, 10, 19, 11, 30, 0, 0, time.UTC)
	to = time.Date(2026, 10, 19, 13, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, cal.Elapsed(from, to))
}

func TestAddRollsOverNonWorkingPeriods(t *testing.T) {
	cal, err := New(weekdaySchedule())
	require.NoError(t, err)

	from := time.Date(2026, 10, 16, 17, 30, 0, 0, time.UTC)
	due, err := cal.Add(from, 60*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC), due)

	// Starting on a Sunday begins counting at Monday opening.
	from = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	due, err = cal.Add(from, 3*time.Hour+30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 19, 13, 30, 0, 0, time.UTC), due)
}

func TestAddAndElapsedAgree(t *testing.T) {
	cal, err := New(weekdaySchedule())
	require.NoError(t, err)
	from := time.Date(2026, 10, 14, 10, 17, 0, 0, time.UTC)
	for _, d := range []time.Duration{time.Minute, 45 * time.Minute, 8 * time.Hour, 37 * time.Hour} {
		due, err := cal.Add(from, d)
		require.NoError(t, err)
		assert.Equal(t, d, cal.Elapsed(from, due), "duration %s", d)
	}
}

func TestHolidaysAreSkipped(t *testing.T) {
	s := weekdaySchedule()
	s.Holidays = []string{"2026-10-19"}
	cal, err := New(s)
	require.NoError(t, err)

	from := time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
	due, err := cal.Add(from, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC), due)
	assert.False(t, cal.IsBusinessTime(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsBusinessTime(time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)))
}

func TestTimeZoneIsHonoured(t *testing.T) {
	s := Schedule{TimeZone: "America/Sao_Paulo", Week: []Day{{Day: "mon", Windows: []Window{{Start: "08:00", End: "17:00"}}}}}
	cal, err := New(s)
	require.NoError(t, err)

	// 08:00 in Sao Paulo (UTC-3) is 11:00 UTC.
	assert.True(t, cal.IsBusinessTime(time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsBusinessTime(time.Date(2026, 10, 19, 10, 59, 0, 0, time.UTC)))
}

func TestFullDayWindow(t *testing.T) {
	s := Schedule{Week: []Day{{Day: "saturday", Windows: []Window{{Start: "00:00", End: "24:00"}}}}}
	cal, err := New(s)
	require.NoError(t, err)
	from := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 24*time.Hour, cal.Elapsed(from, from.Add(48*time.Hour)))
}

func TestMalformedSchedules(t *testing.T) {
	cases := map[string]Schedule{
		"unknown zone": {TimeZone: "Mars/Olympus", Week: []Day{{Day: "mon", Windows: []Window{{Start: "09:00", End: "10:00"}}}}},
		"unknown day":  {Week: []Day{{Day: "funday", Windows: []Window{{Start: "09:00", End: "10:00"}}}}},
		"bad clock":    {Week: []Day{{Day: "mon", Windows: []Window{{Start: "9h", End: "10:00"}}}}},
		"inverted":     {Week: []Day{{Day: "mon", Windows: []Window{{Start: "10:00", End: "09:00"}}}}},
		"overlap":      {Week: []Day{{Day: "mon", Windows: []Window{{Start: "09:00", End: "11:00"}, {Start: "10:00", End: "12:00"}}}}},
		"no windows":   {Week: []Day{{Day: "mon"}}},
		"bad holiday":  {Holidays: []string{"25/12"}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedSchedule))
		})
	}
}

func TestLoadScheduleFile(t *testing.T) {
	doc := `
time_zone: UTC
week:
  - day: monday
    windows:
      - start: "09:00"
        end: "17:00"
holidays:
  - "2026-12-25"
`
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := LoadScheduleFile(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC", s.TimeZone)
	require.Len(t, s.Week, 1)
	assert.Equal(t, "17:00", s.Week[0].Windows[0].End)
	assert.Equal(t, []string{"2026-12-25"}, s.Holidays)
}
