package availability

import (
	"sort"
	"time"

	"github.com/bharath3010/curalink-backend/internal/schedule"
)

const DefaultGranularityMinutes = 30

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects the interval.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

// Slot is a bookable candidate interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Params tunes slot generation. Zero values fall back to defaults.
type Params struct {
	GranularityMinutes int
	DurationMinutes    int
}

func (p Params) normalized() Params {
	if p.GranularityMinutes <= 0 {
		p.GranularityMinutes = DefaultGranularityMinutes
	}
	if p.DurationMinutes <= 0 {
		p.DurationMinutes = p.GranularityMinutes
	}
	return p
}

// ComputeAvailableSlots expands the doctor's windows for the calendar day of
// date (wall clock in date.Location()) into slots that fit entirely inside a
// window and overlap no booked interval. Windows for other weekdays are
// ignored. The result is ascending with duplicates removed.
func ComputeAvailableSlots(windows []schedule.WorkHourWindow, booked []Interval, date time.Time, p Params) []Slot {
	p = p.normalized()
	step := time.Duration(p.GranularityMinutes) * time.Minute
	length := time.Duration(p.DurationMinutes) * time.Minute

	year, month, day := date.Date()
	loc := date.Location()
	weekday := date.Weekday()

	seen := make(map[int64]struct{})
	slots := make([]Slot, 0)
	for _, w := range windows {
		if w.Weekday != weekday {
			continue
		}
		windowStart := w.Start.On(year, month, day, loc)
		windowEnd := w.End.On(year, month, day, loc)
		for t := windowStart; !t.Add(length).After(windowEnd); t = t.Add(step) {
			end := t.Add(length)
			if isBooked(booked, t, end) {
				continue
			}
			key := t.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			slots = append(slots, Slot{Start: t, End: end})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

func isBooked(booked []Interval, start, end time.Time) bool {
	for _, b := range booked {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// DayBounds returns the absolute instants of local midnight to the next local midnight.
func DayBounds(date time.Time) (time.Time, time.Time) {
	year, month, day := date.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, date.Location())
	return start, time.Date(year, month, day+1, 0, 0, 0, 0, date.Location())
}
