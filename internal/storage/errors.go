package storage

import "errors"

var (
	// ErrNotFound is returned when no record has the requested key.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same key was already
	// written. Journal entries and settlement events are written once.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for records missing their key.
	ErrInvalidInput = errors.New("invalid input")
)
