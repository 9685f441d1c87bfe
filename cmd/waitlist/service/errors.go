package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hellocng/deepstack-sub002/common/models"
)

var (
	// ErrNotFound is returned when the entry does not exist
	ErrNotFound = errors.New("waitlist entry not found")

	// ErrAlreadyQueued is returned when a player joins a partition they are already active in
	ErrAlreadyQueued = errors.New("player is already queued for this game")

	// ErrConflict is returned when concurrent writers kept winning past the retry budget,
	// or when a move's target changed underneath it
	ErrConflict = errors.New("waitlist changed concurrently, retry the request")

	// ErrNotActive is returned when repositioning an entry that left the queue
	ErrNotActive = errors.New("waitlist entry is not active")

	// ErrStoreFailure is returned when the store kept failing for reasons other than contention
	ErrStoreFailure = errors.New("waitlist store unavailable")

	// ErrInvalidInput is returned for blank identifiers and malformed requests
	ErrInvalidInput = errors.New("invalid input")

	// ErrIllegalTransition matches every *IllegalTransitionError
	ErrIllegalTransition = errors.New("illegal status transition")
)

// IllegalTransitionError reports a status change missing from the transition table
type IllegalTransitionError struct {
	From models.EntryStatus
	To   models.EntryStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is(err, ErrIllegalTransition) match
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// isFinal reports errors that a retry cannot change
func isFinal(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrAlreadyQueued,
		ErrConflict,
		ErrNotActive,
		ErrInvalidInput,
		ErrIllegalTransition,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
