package store

import "errors"

var (
	// ErrNotFound means the identifier is unknown to the store.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the practitioner already has a non-cancelled
	// appointment at that slot.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition means an illegal status change was requested.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStoreDegraded means the store refused a write because durable
	// recovery has been exhausted and an operator must intervene.
	ErrStoreDegraded = errors.New("store degraded, writes refused")
)
