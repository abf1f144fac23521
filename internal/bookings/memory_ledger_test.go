package bookings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bharath3010/curalink-backend/internal/availability"
	"github.com/bharath3010/curalink-backend/internal/schedule"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

func seededLedger(feeCents int64) (*MemoryLedger, uuid.UUID, uuid.UUID) {
	ledger := NewMemoryLedger()
	doc, pat := uuid.New(), uuid.New()
	ledger.AddDoctor(doc, feeCents)
	ledger.AddPatient(pat)
	return ledger, doc, pat
}

func TestMemoryLedgerConcurrentOverlappingRequestsHaveOneWinner(t *testing.T) {
	ledger, doc, _ := seededLedger(5000)
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		pat := uuid.New()
		ledger.AddPatient(pat)
		// Alternate between the exact slot and one shifted by 15 minutes.
		s := start
		if i%2 == 1 {
			s = start.Add(15 * time.Minute)
		}
		wg.Add(1)
		go func(req BookingRequest) {
			defer wg.Done()
			_, err := ledger.Book(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(BookingRequest{DoctorID: doc, PatientID: pat, Start: s, DurationMinutes: 30})
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestMemoryLedgerAdjacentSlotsDoNotConflict(t *testing.T) {
	ledger, doc, pat := seededLedger(0)
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start, DurationMinutes: 30})
	require.NoError(t, err)
	_, err = ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start.Add(30 * time.Minute), DurationMinutes: 30})
	require.NoError(t, err)

	// A different doctor may take the same interval.
	other := uuid.New()
	ledger.AddDoctor(other, 0)
	_, err = ledger.Book(ctx, BookingRequest{DoctorID: other, PatientID: pat, Start: start, DurationMinutes: 30})
	require.NoError(t, err)
}

func TestMemoryLedgerCancelledAppointmentFreesSlot(t *testing.T) {
	ledger, doc, pat := seededLedger(5000)
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	appt, err := ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	cancelled, err := ledger.Cancel(ctx, appt.ID, CancelDetails{Reason: CancelReasonPatient})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = ledger.Cancel(ctx, appt.ID, CancelDetails{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start, DurationMinutes: 30})
	require.NoError(t, err)
}

func TestMemoryLedgerUnknownParties(t *testing.T) {
	ledger, doc, pat := seededLedger(0)
	start := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)

	var verr *ValidationError
	_, err := ledger.Book(context.Background(), BookingRequest{DoctorID: uuid.New(), PatientID: pat, Start: start, DurationMinutes: 30})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "doctorId", verr.Field)

	_, err = ledger.Book(context.Background(), BookingRequest{DoctorID: doc, PatientID: uuid.New(), Start: start, DurationMinutes: 30})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "patientId", verr.Field)

	_, err = ledger.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookThenAvailabilityNeverReoffersInterval(t *testing.T) {
	ledger, doc, pat := seededLedger(5000)
	store := schedule.NewMemoryStore()
	require.NoError(t, store.PutDoctor(doc, time.UTC, schedule.DefaultTemplate().ForDoctor(doc)))

	svc := NewService(ledger, DefaultConfig(), logging.Default()).WithSchedule(store)
	svc.now = func() time.Time { return time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC) }
	avail := availability.NewService(store, ledger, availability.Config{GranularityMinutes: 30}, logging.Default())

	ctx := context.Background()
	before, err := avail.Query(ctx, doc, "2030-06-03", 0)
	require.NoError(t, err)
	require.Len(t, before.Slots, 16)

	start := time.Date(2030, 6, 3, 11, 0, 0, 0, time.UTC)
	appt, err := svc.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start, DurationMinutes: 60})
	require.NoError(t, err)

	after, err := avail.Query(ctx, doc, "2030-06-03", 0)
	require.NoError(t, err)
	require.Len(t, after.Slots, 14)
	for _, slot := range after.Slots {
		assert.False(t, appt.Interval().Overlaps(slot.Start, slot.End), "slot %s re-offered", slot.Start)
	}

	_, err = svc.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: start.Add(30 * time.Minute), DurationMinutes: 30})
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestMemoryLedgerExpireAndComplete(t *testing.T) {
	ledger, doc, pat := seededLedger(5000)
	created := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return created }
	ctx := context.Background()

	pending, err := ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: created.Add(48 * time.Hour), DurationMinutes: 30})
	require.NoError(t, err)
	paid, err := ledger.Book(ctx, BookingRequest{DoctorID: doc, PatientID: pat, Start: created.Add(2 * time.Hour), DurationMinutes: 30})
	require.NoError(t, err)
	require.NoError(t, ledger.SetStatus(paid.ID, StatusConfirmed))

	expired, err := ledger.ExpirePending(ctx, created.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, pending.ID, expired[0].ID)

	n, err := ledger.CompletePast(ctx, created.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := ledger.Get(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}
