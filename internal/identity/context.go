package identity

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const principalKey ctxKey = "curalink.principal"

// Role names the kind of account behind a request.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

// WithPrincipal stores p in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the caller if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.ID != uuid.Nil
}

// PatientID returns the caller's id when the caller is a patient.
func PatientID(ctx context.Context) (uuid.UUID, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Role != RolePatient {
		return uuid.Nil, false
	}
	return p.ID, true
}
