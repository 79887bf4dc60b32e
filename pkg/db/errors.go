package db

import "errors"

var (
	// ErrNotFound is returned when a proposal or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a proposal has already been decided.
	ErrInvalidState = errors.New("proposal is not pending")
)
