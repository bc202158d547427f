package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

// Both match ErrDuplicate under errors.Is and name the clashing field.
var (
	ErrDuplicateEmail    = fmt.Errorf("%w: email", ErrDuplicate)
	ErrDuplicateUsername = fmt.Errorf("%w: username", ErrDuplicate)
)

const (
	uniqueViolation = "23505"

	usersEmailKey    = "users_email_key"
	usersUsernameKey = "users_username_key"
)

// duplicateFromPQ maps a pq unique violation to the duplicate error for the
// constraint it hit. Other errors yield nil.
func duplicateFromPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case usersEmailKey:
		return ErrDuplicateEmail
	case usersUsernameKey:
		return ErrDuplicateUsername
	default:
		return ErrDuplicate
	}
}

// validID reports whether id can address a row. Malformed ids can never
// match, so callers answer ErrNotFound without a round trip.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
