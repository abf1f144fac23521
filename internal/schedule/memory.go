package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	windows   map[uuid.UUID][]WorkHourWindow
	locations map[uuid.UUID]*time.Location
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:   make(map[uuid.UUID][]WorkHourWindow),
		locations: make(map[uuid.UUID]*time.Location),
	}
}

// PutDoctor registers a doctor with a timezone and weekly windows.
func (m *MemoryStore) PutDoctor(doctorID uuid.UUID, loc *time.Location, windows []WorkHourWindow) error {
	copied := make([]WorkHourWindow, len(windows))
	for i, w := range windows {
		w.DoctorID = doctorID
		copied[i] = w
	}
	if err := ValidateWindows(copied); err != nil {
		return err
	}
	SortWindows(copied)
	if loc == nil {
		loc = time.UTC
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[doctorID] = copied
	m.locations[doctorID] = loc
	return nil
}

func (m *MemoryStore) WindowsForWeekday(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkHourWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.locations[doctorID]; !ok {
		return nil, ErrDoctorNotFound
	}
	var out []WorkHourWindow
	for _, w := range m.windows[doctorID] {
		if w.Weekday == weekday {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemoryStore) DoctorLocation(_ context.Context, doctorID uuid.UUID) (*time.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[doctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return loc, nil
}
