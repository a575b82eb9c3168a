package models

import "errors"

// Sentinel errors shared across the scheduling core. Handlers map these to
// HTTP statuses; callers wrap them with fmt.Errorf("...: %w", err) to add
// context without losing the category.
var (
	ErrValidation          = errors.New("validation failed")
	ErrCapacity            = errors.New("day fully booked")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrVersionConflict     = errors.New("job was modified concurrently")
	ErrToken               = errors.New("invalid or expired confirmation link")
)
