package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrNoMatch is returned when a conditional update matched no row.
	ErrNoMatch = errors.New("condition not met")
)
