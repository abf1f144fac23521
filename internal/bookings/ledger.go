package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bharath3010/curalink-backend/internal/availability"
	"github.com/bharath3010/curalink-backend/internal/events"
)

// Ledger is the authoritative record of appointments.
type Ledger interface {
	// Book reserves req's interval or fails with ErrSlotConflict. Of any set of
	// concurrent overlapping requests for one doctor, exactly one succeeds.
	Book(ctx context.Context, req BookingRequest) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	BookedIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Interval, error)
	// Cancel moves a pending or confirmed appointment to cancelled.
	Cancel(ctx context.Context, id uuid.UUID, details CancelDetails) (*Appointment, error)
	// ExpirePending cancels pending appointments created before cutoff.
	ExpirePending(ctx context.Context, cutoff time.Time) ([]Appointment, error)
	// CompletePast marks confirmed appointments that ended before now as completed.
	CompletePast(ctx context.Context, now time.Time) (int, error)
}

const (
	sqlStateExclusionViolation   = "23P01"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type querier interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger stores appointments in Postgres. Double booking is prevented
// by a serializable transaction that re-checks overlap before insert, backed
// by the appointments_no_overlap exclusion constraint.
type PostgresLedger struct {
	db        querier
	isolation pgx.TxIsoLevel
	retries   int
	onRetry   func()
	now       func() time.Time
}

// LedgerOption customizes a PostgresLedger.
type LedgerOption func(*PostgresLedger)

// WithIsolation sets the booking transaction isolation ("serializable" or "read committed").
func WithIsolation(level string) LedgerOption {
	return func(l *PostgresLedger) {
		switch level {
		case "read committed", "read_committed":
			l.isolation = pgx.ReadCommitted
		case "repeatable read", "repeatable_read":
			l.isolation = pgx.RepeatableRead
		default:
			l.isolation = pgx.Serializable
		}
	}
}

// WithRetries bounds how often a serialization failure is retried.
func WithRetries(n int) LedgerOption {
	return func(l *PostgresLedger) {
		if n >= 0 {
			l.retries = n
		}
	}
}

// WithRetryHook is called before each retry.
func WithRetryHook(fn func()) LedgerOption {
	return func(l *PostgresLedger) { l.onRetry = fn }
}

func NewPostgresLedger(pool *pgxpool.Pool, opts ...LedgerOption) *PostgresLedger {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return newPostgresLedgerWithQuerier(pool, opts...)
}

func newPostgresLedgerWithQuerier(q querier, opts ...LedgerOption) *PostgresLedger {
	l := &PostgresLedger{
		db:        q,
		isolation: pgx.Serializable,
		retries:   3,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const appointmentColumns = `id, doctor_id, patient_id, start_at, duration_minutes, status, payment_id, reason, created_at, updated_at`

const overlapQuery = `
	SELECT EXISTS (
		SELECT 1 FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND start_at < $3
		  AND end_at > $2
	)
`

func (l *PostgresLedger) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			if l.onRetry != nil {
				l.onRetry()
			}
			if err := sleepCtx(ctx, time.Duration(attempt)*10*time.Millisecond); err != nil {
				return nil, storageErr("book", err)
			}
		}
		appt, err := l.bookOnce(ctx, req)
		if err == nil {
			return appt, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, classifyBookError(err)
		}
	}
	return nil, l.settleExhausted(ctx, req, lastErr)
}

// settleExhausted decides what an out-of-retries booking reports: a conflict
// only when another appointment now holds the interval.
func (l *PostgresLedger) settleExhausted(ctx context.Context, req BookingRequest, cause error) error {
	var overlaps bool
	if err := l.db.QueryRow(ctx, overlapQuery, req.DoctorID, req.Start.UTC(), req.End().UTC()).Scan(&overlaps); err != nil {
		return storageErr("book", errors.Join(cause, err))
	}
	if overlaps {
		return fmt.Errorf("bookings: %w: %w", ErrSlotConflict, cause)
	}
	return storageErr("book", cause)
}

func (l *PostgresLedger) bookOnce(ctx context.Context, req BookingRequest) (*Appointment, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: l.isolation})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var feeCents int64
	if err := tx.QueryRow(ctx, `SELECT fee_cents FROM doctors WHERE id = $1`, req.DoctorID).Scan(&feeCents); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invalid("doctorId", "does not match a doctor")
		}
		return nil, err
	}
	var patientExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, req.PatientID).Scan(&patientExists); err != nil {
		return nil, err
	}
	if !patientExists {
		return nil, invalid("patientId", "does not match a patient")
	}

	start := req.Start.UTC()
	end := req.End().UTC()
	var overlaps bool
	if err := tx.QueryRow(ctx, overlapQuery, req.DoctorID, start, end).Scan(&overlaps); err != nil {
		return nil, err
	}
	if overlaps {
		return nil, ErrSlotConflict
	}

	status := StatusConfirmed
	if feeCents > 0 {
		status = StatusPending
	}
	appt := &Appointment{
		ID:              uuid.New(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		Start:           start,
		DurationMinutes: req.DurationMinutes,
		Status:          status,
		Reason:          req.Reason,
	}
	insert := `
		INSERT INTO appointments (id, doctor_id, patient_id, start_at, end_at, duration_minutes, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	if err := tx.QueryRow(ctx, insert,
		appt.ID, appt.DoctorID, appt.PatientID, start, end, int32(appt.DurationMinutes), string(status), appt.Reason,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
		return nil, err
	}

	if _, err := events.Append(ctx, tx, appt.ID.String(), events.AppointmentBookedV1{
		AppointmentID:   appt.ID.String(),
		DoctorID:        appt.DoctorID.String(),
		PatientID:       appt.PatientID.String(),
		Start:           start,
		DurationMinutes: appt.DurationMinutes,
		Status:          string(status),
		OccurredAt:      l.now().UTC(),
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return appt, nil
}

func (l *PostgresLedger) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := l.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get appointment", err)
	}
	return appt, nil
}

func (l *PostgresLedger) BookedIntervals(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	query := `
		SELECT start_at, end_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`
	rows, err := l.db.Query(ctx, query, doctorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageErr("query booked intervals", err)
	}
	defer rows.Close()

	var out []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, storageErr("scan booked interval", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate booked intervals", err)
	}
	return out, nil
}

func (l *PostgresLedger) Cancel(ctx context.Context, id uuid.UUID, details CancelDetails) (*Appointment, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin cancel", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Payment before appointment, the same lock order as payment capture.
	paid, err := lockPaidCents(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	details = details.priced(paid)

	update := `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING ` + appointmentColumns
	appt, err := scanAppointment(tx.QueryRow(ctx, update, id))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, storageErr("cancel appointment", err)
		}
		current, getErr := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, storageErr("load appointment", getErr)
		}
		return current, fmt.Errorf("bookings: cancel from %s: %w", current.Status, ErrInvalidTransition)
	}

	if paid > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE payments
			SET penalty_cents = $2, refund_cents = $3, updated_at = now()
			WHERE appointment_id = $1
		`, id, details.PenaltyCents, details.RefundCents); err != nil {
			return nil, storageErr("record cancellation on payment", err)
		}
	}
	if _, err := events.Append(ctx, tx, appt.ID.String(), details.event(appt, l.now())); err != nil {
		return nil, storageErr("append cancel event", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit cancel", err)
	}
	return appt, nil
}

// lockPaidCents locks the appointment's payment row and returns the captured
// amount, or zero when nothing has been captured.
func lockPaidCents(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID) (int64, error) {
	var (
		status string
		amount int64
	)
	err := tx.QueryRow(ctx, `
		SELECT status, amount_cents FROM payments
		WHERE appointment_id = $1
		FOR UPDATE
	`, appointmentID).Scan(&status, &amount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, storageErr("lock payment", err)
	case status != "completed":
		return 0, nil
	}
	return amount, nil
}

func (l *PostgresLedger) ExpirePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("begin expire", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	update := `
		UPDATE appointments
		SET status = 'cancelled', updated_at = now()
		WHERE status = 'pending' AND created_at < $1
		RETURNING ` + appointmentColumns
	rows, err := tx.Query(ctx, update, cutoff.UTC())
	if err != nil {
		return nil, storageErr("expire pending", err)
	}
	var expired []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			rows.Close()
			return nil, storageErr("scan expired", err)
		}
		expired = append(expired, *appt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate expired", err)
	}

	for _, appt := range expired {
		details := CancelDetails{Reason: CancelReasonExpired}
		if _, err := events.Append(ctx, tx, appt.ID.String(), details.event(&appt, l.now())); err != nil {
			return nil, storageErr("append expire event", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit expire", err)
	}
	return expired, nil
}

func (l *PostgresLedger) CompletePast(ctx context.Context, now time.Time) (int, error) {
	ct, err := l.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = now()
		WHERE status = 'confirmed' AND end_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, storageErr("complete past", err)
	}
	return int(ct.RowsAffected()), nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		appt     Appointment
		duration int32
		status   string
	)
	if err := row.Scan(
		&appt.ID,
		&appt.DoctorID,
		&appt.PatientID,
		&appt.Start,
		&duration,
		&status,
		&appt.PaymentID,
		&appt.Reason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	appt.DurationMinutes = int(duration)
	appt.Status = Status(status)
	appt.Start = appt.Start.UTC()
	return &appt, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return false
}

// classifyBookError maps a failed booking attempt to the public error set.
func classifyBookError(err error) error {
	var verr *ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr), errors.Is(err, ErrSlotConflict):
		return err
	}
	switch pgCode(err) {
	case sqlStateExclusionViolation:
		return fmt.Errorf("bookings: %w: %w", ErrSlotConflict, err)
	}
	return storageErr("book", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
