package models

import "errors"

var (
	// ErrNotFound is returned when a ticket, session or staff member is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when the requested transition is not allowed.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidInput is returned when a request is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoCapacity is returned when no eligible staff member is online.
	ErrNoCapacity = errors.New("no capacity")
	// ErrManuallyAssigned is returned by automatic assignment on a manually locked session.
	ErrManuallyAssigned = errors.New("session is manually assigned")
	// ErrNotQueued is returned when a session has no queue entry in the requested pool.
	ErrNotQueued = errors.New("session not queued")
	// ErrStoreUnavailable is returned when the fast ordering store cannot be reached.
	ErrStoreUnavailable = errors.New("ordering store unavailable")
)
