package data

import "errors"

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record conflict")
	ErrBadStatus = errors.New("invalid status")
	// ErrStaleTransition is returned by a mutate closure when the record
	// changed since the caller last looked and the transition no longer applies.
	ErrStaleTransition = errors.New("stale transition")
	ErrNoAccount       = errors.New("no active account")
)
