package store

import "errors"

var (
	// ErrNoSubstrate means neither the structured nor the fallback substrate
	// could be opened.
	ErrNoSubstrate = errors.New("store: no usable substrate")

	// ErrNotFound is returned by point lookups with no matching record.
	ErrNotFound = errors.New("store: record not found")
)
