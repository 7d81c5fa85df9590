package domain

import "errors"

var (
	// ErrNotFound is returned by stores when a keyed item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a conditional write lost a race.
	ErrConflict = errors.New("conditional write conflict")
	// ErrSecretUnavailable is returned when a credential cannot be read.
	ErrSecretUnavailable = errors.New("secret unavailable")
)
