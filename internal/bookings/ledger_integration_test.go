package bookings

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmigrations "github.com/bharath3010/curalink-backend/migrations"
)

// openTestPool migrates and connects to TEST_DATABASE_URL, skipping when unset.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres ledger test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	require.NoError(t, err)
	src, err := iofs.New(appmigrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedParticipants(t *testing.T, pool *pgxpool.Pool, patients int) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	doctorID := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO doctors (id, name, fee_cents) VALUES ($1, 'Dr. Integration', 5000)`, doctorID)
	require.NoError(t, err)

	ids := make([]uuid.UUID, patients)
	for i := range ids {
		ids[i] = uuid.New()
		_, err := pool.Exec(ctx, `INSERT INTO patients (id, name) VALUES ($1, 'Patient')`, ids[i])
		require.NoError(t, err)
	}
	return doctorID, ids
}

func TestPostgresLedgerConcurrentOverlapHasOneWinner(t *testing.T) {
	pool := openTestPool(t)
	ledger := NewPostgresLedger(pool, WithRetries(5))

	const n = 8
	doctorID, patients := seedParticipants(t, pool, n)
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Staggered starts so every request overlaps the first.
			_, err := ledger.Book(context.Background(), BookingRequest{
				DoctorID:        doctorID,
				PatientID:       patients[i],
				Start:           start.Add(time.Duration(i%3) * 10 * time.Minute),
				DurationMinutes: 30,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)

	booked, err := ledger.BookedIntervals(context.Background(), doctorID, start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestPostgresLedgerCancelFreesInterval(t *testing.T) {
	pool := openTestPool(t)
	ledger := NewPostgresLedger(pool)
	doctorID, patients := seedParticipants(t, pool, 2)
	start := time.Now().UTC().Add(96 * time.Hour).Truncate(time.Hour)
	ctx := context.Background()

	first, err := ledger.Book(ctx, BookingRequest{DoctorID: doctorID, PatientID: patients[0], Start: start, DurationMinutes: 30})
	require.NoError(t, err)

	_, err = ledger.Book(ctx, BookingRequest{DoctorID: doctorID, PatientID: patients[1], Start: start, DurationMinutes: 30})
	require.ErrorIs(t, err, ErrSlotConflict)

	_, err = ledger.Cancel(ctx, first.ID, CancelDetails{Reason: CancelReasonPatient})
	require.NoError(t, err)

	second, err := ledger.Book(ctx, BookingRequest{DoctorID: doctorID, PatientID: patients[1], Start: start, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, second.Status)
}
