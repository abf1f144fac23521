package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bharath3010/curalink-backend/internal/bookings"
)

type querier interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists payments.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q}
}

const paymentColumns = `id, appointment_id, amount_cents, platform_fee_cents, currency, provider, provider_order_id, provider_capture_id, status, penalty_cents, refund_cents, created_at, updated_at`

// Create inserts p as a new payment. ID and timestamps are filled in.
func (r *Repository) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO payments (id, appointment_id, amount_cents, platform_fee_cents, currency, provider, provider_order_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.ID, p.AppointmentID, p.AmountCents, p.PlatformFeeCents, p.Currency, p.Provider, p.ProviderOrderID, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPaymentExists
		}
		return storageErr("insert payment", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, "load by id", `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return r.getOne(ctx, "load by order", `SELECT `+paymentColumns+` FROM payments WHERE provider_order_id = $1`, orderID)
}

func (r *Repository) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, "load by appointment", `SELECT `+paymentColumns+` FROM payments WHERE appointment_id = $1`, appointmentID)
}

func (r *Repository) getOne(ctx context.Context, op, query string, arg any) (*Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr(op, err)
	}
	return p, nil
}

// DoctorFee returns the consultation fee of the appointment's doctor.
func (r *Repository) DoctorFee(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	var fee int64
	if err := r.db.QueryRow(ctx, `SELECT fee_cents FROM doctors WHERE id = $1`, doctorID).Scan(&fee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &ValidationError{Field: "doctorId", Message: "does not match a doctor"}
		}
		return 0, storageErr("load doctor fee", err)
	}
	return fee, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p         Payment
		captureID *string
		status    string
	)
	if err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.AmountCents,
		&p.PlatformFeeCents,
		&p.Currency,
		&p.Provider,
		&p.ProviderOrderID,
		&captureID,
		&status,
		&p.PenaltyCents,
		&p.RefundCents,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if captureID != nil {
		p.ProviderCaptureID = *captureID
	}
	p.Status = Status(status)
	return &p, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("payments: %s: %w: %w", op, bookings.ErrStorageFailure, err)
}
