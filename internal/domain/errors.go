package domain

import "errors"

// Sentinel errors shared across packages.
var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("backend unavailable")
)
