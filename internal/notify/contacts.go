package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrContactNotFound is returned when the person no longer exists.
var ErrContactNotFound = errors.New("notify: contact not found")

// Contact is where and how to address a notification.
type Contact struct {
	Name     string
	Email    string
	Timezone string
}

// ContactStore resolves patients and doctors to contacts.
type ContactStore interface {
	Patient(ctx context.Context, id uuid.UUID) (Contact, error)
	Doctor(ctx context.Context, id uuid.UUID) (Contact, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresContacts reads contacts from the patients and doctors tables.
type PostgresContacts struct {
	db rowQuerier
}

func NewPostgresContacts(pool *pgxpool.Pool) *PostgresContacts {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresContacts{db: pool}
}

func (p *PostgresContacts) Patient(ctx context.Context, id uuid.UUID) (Contact, error) {
	var c Contact
	err := p.db.QueryRow(ctx, `SELECT name, email FROM patients WHERE id = $1`, id).Scan(&c.Name, &c.Email)
	return c, contactErr("patient", err)
}

func (p *PostgresContacts) Doctor(ctx context.Context, id uuid.UUID) (Contact, error) {
	var c Contact
	err := p.db.QueryRow(ctx, `SELECT name, email, timezone FROM doctors WHERE id = $1`, id).Scan(&c.Name, &c.Email, &c.Timezone)
	return c, contactErr("doctor", err)
}

func contactErr(kind string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrContactNotFound
	default:
		return fmt.Errorf("notify: load %s: %w", kind, err)
	}
}
