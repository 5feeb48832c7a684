package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Duplicate sentinels map Postgres unique-violation errors to the
// constraint that fired, so callers can attribute the failure to a
// specific field.
var (
	ErrDuplicateEmail    = errors.New("duplicate contact email for user")
	ErrDuplicateName     = errors.New("duplicate contact name for user")
	ErrDuplicateUsername = errors.New("duplicate username")
)

// Constraint names as declared in the migrations. The unique-violation
// mapping keys off these, so they must stay in sync with the schema.
const (
	constraintContactUserEmail = "contacts_user_id_email_key"
	constraintContactUserName  = "contacts_user_id_name_key"
	constraintUsername         = "users_username_key"
)

const uniqueViolationCode = "23505"

// mapUniqueViolation translates a pq unique-violation into the matching
// sentinel. Any other error is returned unchanged.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolationCode {
		return err
	}
	switch pqErr.Constraint {
	case constraintContactUserEmail:
		return ErrDuplicateEmail
	case constraintContactUserName:
		return ErrDuplicateName
	case constraintUsername:
		return ErrDuplicateUsername
	default:
		return err
	}
}
