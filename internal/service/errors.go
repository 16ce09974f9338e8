// Package service implements the playtest core: session scheduling, the
// registration lifecycle, feedback moderation and statistics.  Every
// mutating call is a unit of work: a per-key lock plus one transaction.
package service

import "errors"

// Error kinds returned by the services.  Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	ErrValidation                  = errors.New("validation failed")
	ErrNotFound                    = errors.New("not found")
	ErrConflict                    = errors.New("conflict")
	ErrForbidden                   = errors.New("forbidden")
	ErrBusy                        = errors.New("busy, retry later")
	ErrSessionFull                 = errors.New("session full")
	ErrSessionNotOpen              = errors.New("session not open")
	ErrInvalidTransition           = errors.New("invalid transition")
	ErrInvalidModerationTransition = errors.New("invalid moderation transition")
	ErrAlreadyRegistered           = errors.New("already registered")
	ErrNotRegistered               = errors.New("not registered")
	ErrAlreadySubmitted            = errors.New("feedback already submitted")
	ErrRequestClosed               = errors.New("request closed")
)
