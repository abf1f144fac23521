package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidWindow indicates a window whose start is not before its end.
	ErrInvalidWindow = errors.New("schedule: invalid work-hour window")
	// ErrOverlappingWindows indicates two windows on the same weekday overlap.
	ErrOverlappingWindows = errors.New("schedule: overlapping work-hour windows")
	// ErrDoctorNotFound indicates the doctor does not exist.
	ErrDoctorNotFound = errors.New("schedule: doctor not found")
)

// TimeOfDay is a wall-clock time expressed as minutes since local midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("schedule: parse time %q: want HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("schedule: parse time %q: bad hour", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("schedule: parse time %q: bad minute", raw)
	}
	tod := TimeOfDay(hour*60 + minute)
	if tod > minutesPerDay {
		return 0, fmt.Errorf("schedule: parse time %q: past end of day", raw)
	}
	return tod, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(raw string) TimeOfDay {
	tod, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return tod
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On returns the instant at this wall-clock time on the given calendar day in loc.
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, loc)
}

// WorkHourWindow is one recurring weekly interval during which a doctor accepts bookings.
type WorkHourWindow struct {
	DoctorID uuid.UUID
	Weekday  time.Weekday
	Start    TimeOfDay
	End      TimeOfDay
}

func (w WorkHourWindow) Validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidWindow, w.Weekday)
	}
	if w.Start < 0 || w.End > minutesPerDay || w.Start >= w.End {
		return fmt.Errorf("%w: %s-%s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

// ValidateWindows checks each window and rejects overlaps within a weekday.
func ValidateWindows(windows []WorkHourWindow) error {
	byDay := make(map[time.Weekday][]WorkHourWindow)
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			return err
		}
		byDay[w.Weekday] = append(byDay[w.Weekday], w)
	}
	for day, list := range byDay {
		SortWindows(list)
		for i := 1; i < len(list); i++ {
			if list[i].Start < list[i-1].End {
				return fmt.Errorf("%w: %s %s-%s and %s-%s", ErrOverlappingWindows, day,
					list[i-1].Start, list[i-1].End, list[i].Start, list[i].End)
			}
		}
	}
	return nil
}

// SortWindows orders windows by weekday then start time.
func SortWindows(windows []WorkHourWindow) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].Start < windows[j].Start
	})
}

// DayHours is a template entry without a doctor attached.
type DayHours struct {
	Weekday time.Weekday
	Start   TimeOfDay
	End     TimeOfDay
}

// WeeklyTemplate is the default schedule applied to doctors that have none.
type WeeklyTemplate []DayHours

// DefaultTemplate is Monday to Friday 09:00-17:00 and Saturday 09:00-13:00.
func DefaultTemplate() WeeklyTemplate {
	tmpl := make(WeeklyTemplate, 0, 6)
	for day := time.Monday; day <= time.Friday; day++ {
		tmpl = append(tmpl, DayHours{Weekday: day, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00")})
	}
	return append(tmpl, DayHours{Weekday: time.Saturday, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("13:00")})
}

// ParseWeeklyTemplate parses "1-5=09:00-17:00;6=09:00-13:00". Days are 0 (Sunday) to 6.
func ParseWeeklyTemplate(raw string) (WeeklyTemplate, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTemplate(), nil
	}
	var tmpl WeeklyTemplate
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		days, hours, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("schedule: template entry %q: missing '='", entry)
		}
		first, last, err := parseDayRange(days)
		if err != nil {
			return nil, err
		}
		startRaw, endRaw, ok := strings.Cut(hours, "-")
		if !ok {
			return nil, fmt.Errorf("schedule: template entry %q: missing hour range", entry)
		}
		start, err := ParseTimeOfDay(startRaw)
		if err != nil {
			return nil, err
		}
		end, err := ParseTimeOfDay(endRaw)
		if err != nil {
			return nil, err
		}
		for day := first; day <= last; day++ {
			tmpl = append(tmpl, DayHours{Weekday: day, Start: start, End: end})
		}
	}
	if err := ValidateWindows(tmpl.ForDoctor(uuid.Nil)); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func parseDayRange(raw string) (time.Weekday, time.Weekday, error) {
	firstRaw, lastRaw, isRange := strings.Cut(strings.TrimSpace(raw), "-")
	first, err := strconv.Atoi(strings.TrimSpace(firstRaw))
	if err != nil || first < 0 || first > 6 {
		return 0, 0, fmt.Errorf("schedule: bad weekday %q", raw)
	}
	last := first
	if isRange {
		last, err = strconv.Atoi(strings.TrimSpace(lastRaw))
		if err != nil || last < first || last > 6 {
			return 0, 0, fmt.Errorf("schedule: bad weekday range %q", raw)
		}
	}
	return time.Weekday(first), time.Weekday(last), nil
}

// ForDoctor materialises the template for one doctor.
func (t WeeklyTemplate) ForDoctor(doctorID uuid.UUID) []WorkHourWindow {
	out := make([]WorkHourWindow, 0, len(t))
	for _, d := range t {
		out = append(out, WorkHourWindow{DoctorID: doctorID, Weekday: d.Weekday, Start: d.Start, End: d.End})
	}
	return out
}
