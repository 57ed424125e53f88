package model

import "errors"

// Error kinds returned by every ledger implementation. Callers match them with
// errors.Is; implementations may wrap them with extra context.
var (
	// ErrInvalidParameters is returned when event creation inputs are rejected.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNotFound is returned for unknown or deactivated events.
	ErrNotFound = errors.New("event not found")

	// ErrAlreadyRegistered is returned when a participant registers twice.
	ErrAlreadyRegistered = errors.New("participant already registered for this event")

	// ErrEventFull is returned when an event has no remaining capacity.
	ErrEventFull = errors.New("event is full")

	// ErrNotRegistered is returned when checking in someone who never registered.
	ErrNotRegistered = errors.New("participant is not registered for this event")

	// ErrAlreadyCheckedIn is returned when a participant checks in twice.
	ErrAlreadyCheckedIn = errors.New("participant already checked in")

	// ErrUnauthorized is returned when a caller's proof or authority is rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInsufficientEscrow means an event's escrow cannot cover a payout it
	// owes. Funding is atomic with creation, so this is a ledger bug.
	ErrInsufficientEscrow = errors.New("insufficient escrow")
)
