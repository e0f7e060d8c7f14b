package errors

import "errors"

var (
	ErrDuplicateUnit = errors.New("unit already registered")

	ErrUnitNotFound = errors.New("unit not found")

	ErrNoCapacity = errors.New("no compatible unit available")

	ErrBookingNotFound = errors.New("booking not found")

	ErrAlreadyClosed = errors.New("booking already closed")

	ErrInvalidState = errors.New("invalid state")

	ErrPoolNotFound = errors.New("pool not found")

	ErrDuplicatePool = errors.New("pool already registered")
)
