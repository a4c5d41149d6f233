// Package calendar computes business-time arithmetic over a weekly schedule.
//
// All operations are pure: they never block and never consult the wall clock.
package calendar

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMalformedSchedule is returned when a schedule cannot be compiled or never yields business time.
var ErrMalformedSchedule = errors.New("malformed business hours schedule")

const (
	minutesPerDay = 24 * 60
	maxScanDays   = 3660
	dateLayout    = "2006-01-02"
)

// Window is a working interval within a day, in HH:MM local time. End may be "24:00".
type Window struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Day lists the working windows of one weekday.
type Day struct {
	Day     string   `json:"day" yaml:"day"`
	Windows []Window `json:"windows" yaml:"windows"`
}

// Schedule is the stored form of a weekly business-hours calendar.
// An empty Week means the clock runs around the clock.
type Schedule struct {
	TimeZone string   `json:"time_zone,omitempty" yaml:"time_zone"`
	Week     []Day    `json:"week,omitempty" yaml:"week"`
	Holidays []string `json:"holidays,omitempty" yaml:"holidays"`
}

// IsZero reports whether the schedule defines no working days.
func (s Schedule) IsZero() bool {
	return len(s.Week) == 0
}

type span struct {
	start int
	end   int
}

// Calendar is a compiled Schedule.
type Calendar struct {
	loc      *time.Location
	alwaysOn bool
	week     [7][]span
	holidays map[string]struct{}
}

// AlwaysOn returns a calendar in which every minute is a business minute.
func AlwaysOn() *Calendar {
	return &Calendar{loc: time.UTC, alwaysOn: true}
}

// New compiles and validates a schedule.
func New(s Schedule) (*Calendar, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(s.TimeZone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: time zone %q: %v", ErrMalformedSchedule, tz, err)
		}
		loc = l
	}

	cal := &Calendar{loc: loc, holidays: make(map[string]struct{}, len(s.Holidays))}
	for _, h := range s.Holidays {
		d, err := time.Parse(dateLayout, strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q", ErrMalformedSchedule, h)
		}
		cal.holidays[d.Format(dateLayout)] = struct{}{}
	}

	if s.IsZero() {
		cal.alwaysOn = true
		return cal, nil
	}

	working := 0
	for _, day := range s.Week {
		wd, ok := parseWeekday(day.Day)
		if !ok {
			return nil, fmt.Errorf("%w: unknown day %q", ErrMalformedSchedule, day.Day)
		}
		for _, w := range day.Windows {
			start, err := parseClock(w.Start)
			if err != nil {
				return nil, err
			}
			end, err := parseClock(w.End)
			if err != nil {
				return nil, err
			}
			if end <= start {
				return nil, fmt.Errorf("%w: window %s-%s on %s ends before it starts", ErrMalformedSchedule, w.Start, w.End, day.Day)
			}
			cal.week[wd] = append(cal.week[wd], span{start: start, end: end})
			working++
		}
	}
	if working == 0 {
		return nil, fmt.Errorf("%w: no working windows", ErrMalformedSchedule)
	}

	for wd := range cal.week {
		spans := cal.week[wd]
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		for i := 1; i < len(spans); i++ {
			if spans[i].start < spans[i-1].end {
				return nil, fmt.Errorf("%w: overlapping windows on %s", ErrMalformedSchedule, time.Weekday(wd))
			}
		}
	}
	return cal, nil
}

// Location returns the calendar's time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Elapsed returns the business time between from and to. It is zero when to is not after from.
func (c *Calendar) Elapsed(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	if c.alwaysOn {
		return to.Sub(from)
	}

	var total time.Duration
	for day := startOfDay(from.In(c.loc)); !day.After(to); day = nextDay(day) {
		for _, sp := range c.spansOn(day) {
			ws, we := bounds(day, sp)
			s := latest(ws, from)
			e := earliest(we, to)
			if e.After(s) {
				total += e.Sub(s)
			}
		}
	}
	return total
}

// Add returns the instant at which d of business time has elapsed after from.
func (c *Calendar) Add(from time.Time, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return from, nil
	}
	if c.alwaysOn {
		return from.Add(d), nil
	}

	remaining := d
	day := startOfDay(from.In(c.loc))
	for i := 0; i < maxScanDays; i++ {
		for _, sp := range c.spansOn(day) {
			ws, we := bounds(day, sp)
			if !we.After(from) {
				continue
			}
			s := latest(ws, from)
			avail := we.Sub(s)
			if avail >= remaining {
				return s.Add(remaining), nil
			}
			remaining -= avail
		}
		day = nextDay(day)
	}
	return time.Time{}, fmt.Errorf("%w: no business time within %d days", ErrMalformedSchedule, maxScanDays)
}

// IsBusinessTime reports whether t falls inside a working window.
func (c *Calendar) IsBusinessTime(t time.Time) bool {
	if c.alwaysOn {
		return true
	}
	local := t.In(c.loc)
	day := startOfDay(local)
	for _, sp := range c.spansOn(day) {
		ws, we := bounds(day, sp)
		if !local.Before(ws) && local.Before(we) {
			return true
		}
	}
	return false
}

func (c *Calendar) spansOn(day time.Time) []span {
	if _, holiday := c.holidays[day.Format(dateLayout)]; holiday {
		return nil
	}
	return c.week[day.Weekday()]
}

// ParseSchedule decodes a YAML (or JSON) schedule document.
func ParseSchedule(data []byte) (Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	return s, nil
}

// LoadScheduleFile reads and validates a schedule file.
func LoadScheduleFile(path string) (Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("read calendar file: %w", err)
	}
	s, err := ParseSchedule(data)
	if err != nil {
		return Schedule{}, err
	}
	if _, err := New(s); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location())
}

func bounds(day time.Time, sp span) (time.Time, time.Time) {
	y, m, d := day.Date()
	loc := day.Location()
	start := time.Date(y, m, d, sp.start/60, sp.start%60, 0, 0, loc)
	end := time.Date(y, m, d, sp.end/60, sp.end%60, 0, 0, loc)
	return start, end
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func parseClock(val string) (int, error) {
	parts := strings.Split(strings.TrimSpace(val), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: clock %q", ErrMalformedSchedule, val)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q", ErrMalformedSchedule, val)
	}
	minutes := h*60 + m
	if minutes > minutesPerDay {
		return 0, fmt.Errorf("%w: clock %q", ErrMalformedSchedule, val)
	}
	return minutes, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(val string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(val))]
	return wd, ok
}
