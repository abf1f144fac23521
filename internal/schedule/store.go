package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store exposes a doctor's recurring weekly schedule.
type Store interface {
	WindowsForWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkHourWindow, error)
	DoctorLocation(ctx context.Context, doctorID uuid.UUID) (*time.Location, error)
}

type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads and writes doctor_work_hours.
type PostgresStore struct {
	db          querier
	fallbackLoc *time.Location
}

func NewPostgresStore(pool *pgxpool.Pool, fallback *time.Location) *PostgresStore {
	if pool == nil {
		panic("schedule: pgx pool required")
	}
	return newPostgresStoreWithQuerier(pool, fallback)
}

func newPostgresStoreWithQuerier(q querier, fallback *time.Location) *PostgresStore {
	if fallback == nil {
		fallback = time.UTC
	}
	return &PostgresStore{db: q, fallbackLoc: fallback}
}

func (s *PostgresStore) WindowsForWeekday(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]WorkHourWindow, error) {
	query := `
		SELECT doctor_id, weekday, start_time, end_time
		FROM doctor_work_hours
		WHERE doctor_id = $1 AND weekday = $2
		ORDER BY start_time
	`
	return s.queryWindows(ctx, query, doctorID, int16(weekday))
}

// ListWindows returns the doctor's full week.
func (s *PostgresStore) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]WorkHourWindow, error) {
	query := `
		SELECT doctor_id, weekday, start_time, end_time
		FROM doctor_work_hours
		WHERE doctor_id = $1
		ORDER BY weekday, start_time
	`
	return s.queryWindows(ctx, query, doctorID)
}

func (s *PostgresStore) queryWindows(ctx context.Context, query string, args ...any) ([]WorkHourWindow, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule: query windows: %w", err)
	}
	defer rows.Close()

	var windows []WorkHourWindow
	for rows.Next() {
		var (
			w          WorkHourWindow
			weekday    int16
			start, end pgtype.Time
		)
		if err := rows.Scan(&w.DoctorID, &weekday, &start, &end); err != nil {
			return nil, fmt.Errorf("schedule: scan window: %w", err)
		}
		w.Weekday = time.Weekday(weekday)
		w.Start = fromPGTime(start)
		w.End = fromPGTime(end)
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: iterate windows: %w", err)
	}
	return windows, nil
}

// DoctorLocation resolves the doctor's IANA timezone, falling back when the stored name is unknown.
func (s *PostgresStore) DoctorLocation(ctx context.Context, doctorID uuid.UUID) (*time.Location, error) {
	var tz string
	err := s.db.QueryRow(ctx, `SELECT timezone FROM doctors WHERE id = $1`, doctorID).Scan(&tz)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("schedule: load doctor timezone: %w", err)
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return s.fallbackLoc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return s.fallbackLoc, nil
	}
	return loc, nil
}

// ReplaceWindows atomically swaps the doctor's weekly schedule.
func (s *PostgresStore) ReplaceWindows(ctx context.Context, doctorID uuid.UUID, windows []WorkHourWindow) error {
	for i := range windows {
		windows[i].DoctorID = doctorID
	}
	if err := ValidateWindows(windows); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schedule: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM doctor_work_hours WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("schedule: clear windows: %w", err)
	}
	if err := insertWindows(ctx, tx, windows); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schedule: commit: %w", err)
	}
	return nil
}

// EnsureDefault applies the template when the doctor has no windows yet.
// It reports whether anything was inserted.
func (s *PostgresStore) EnsureDefault(ctx context.Context, doctorID uuid.UUID, tmpl WeeklyTemplate) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("schedule: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctor_work_hours WHERE doctor_id = $1)`, doctorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("schedule: check existing windows: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := insertWindows(ctx, tx, tmpl.ForDoctor(doctorID)); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("schedule: commit: %w", err)
	}
	return true, nil
}

func insertWindows(ctx context.Context, tx pgx.Tx, windows []WorkHourWindow) error {
	query := `
		INSERT INTO doctor_work_hours (doctor_id, weekday, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, weekday, start_time) DO NOTHING
	`
	for _, w := range windows {
		if _, err := tx.Exec(ctx, query, w.DoctorID, int16(w.Weekday), toPGTime(w.Start), toPGTime(w.End)); err != nil {
			return fmt.Errorf("schedule: insert window: %w", err)
		}
	}
	return nil
}

func toPGTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPGTime(t pgtype.Time) TimeOfDay {
	if !t.Valid {
		return 0
	}
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}
