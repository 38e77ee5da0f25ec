package models

import "errors"

// Sentinel errors returned by the engine. Callers match with errors.Is; the
// returned errors wrap these with detail.
var (
	// ErrValidation: malformed input, rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrInvalidTransition: alert state change not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict: a concurrent update won the compare-and-set; retry.
	ErrConflict = errors.New("conflict")
	ErrUnknownZone    = errors.New("unknown zone")
	ErrUnknownSubject = errors.New("unknown subject")
	ErrUnknownAlert   = errors.New("unknown alert")
)
