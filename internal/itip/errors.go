package itip

import (
	"errors"
	"fmt"
)

var (
	// ErrAmbiguousCorrelation is reported when more than one stored
	// resource plausibly matches a message.
	ErrAmbiguousCorrelation = errors.New("ambiguous correlation")

	// ErrUnsupportedMethod is reported for a method, or method and role
	// combination, without a classification rule.
	ErrUnsupportedMethod = errors.New("unsupported method")

	// ErrPreconditionViolation is returned when an action is applied that
	// the analysis did not offer.
	ErrPreconditionViolation = errors.New("action not offered by analysis")

	// ErrStorageMutationFailed wraps failures of the calendar store write.
	ErrStorageMutationFailed = errors.New("storage mutation failed")

	// ErrRevalidationStale is returned when the stored resource moved
	// between analysis and apply.
	ErrRevalidationStale = errors.New("stored resource changed since analysis")

	// ErrAlreadyProcessed is returned when the message status is already
	// terminal.
	ErrAlreadyProcessed = errors.New("message already processed")

	// ErrStatusConflict is returned when a concurrent caller advanced the
	// message status first.
	ErrStatusConflict = errors.New("message status changed concurrently")

	// ErrInvalidMessage is returned for structurally unusable messages.
	ErrInvalidMessage = errors.New("invalid scheduling message")

	// ErrConcurrentModification is returned by calendar store mutators
	// when the expected ETag no longer matches.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// PreconditionError details a rejected action.
type PreconditionError struct {
	Action  Action
	Offered ActionSet
	Reason  string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrPreconditionViolation, e.Reason)
	}
	return fmt.Sprintf("%s: %s not in %v", ErrPreconditionViolation, e.Action, e.Offered.Slice())
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionViolation
}

// StorageError wraps an error returned by the calendar store mutator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageMutationFailed, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageMutationFailed
}
