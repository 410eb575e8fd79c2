// Package auth carries the identity of whoever is calling the booking API.
package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	// RoleSpecialist may only act on its own specialist record.
	RoleSpecialist Role = "specialist"
	// RoleSystem is the conversational front end or back office acting on
	// behalf of patients; it may act on any specialist.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleSpecialist || r == RoleSystem
}

type Caller struct {
	Subject      string
	Role         Role
	SpecialistID uuid.UUID
}

// CanActFor reports whether the caller may mutate appointments owned by specialistID.
func (c Caller) CanActFor(specialistID uuid.UUID) bool {
	switch c.Role {
	case RoleSystem:
		return true
	case RoleSpecialist:
		return c.SpecialistID != uuid.Nil && c.SpecialistID == specialistID
	default:
		return false
	}
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
