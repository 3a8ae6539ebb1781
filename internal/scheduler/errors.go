package scheduler

import (
	"fmt"

	"syndicate/internal/models"
)

// ValidationError reports a bad publish intent. Never retried; surfaced
// to the caller immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid intent: %s %s", e.Field, e.Reason)
}

// PersistenceError reports a store failure during a scheduler operation.
// When it occurs during SchedulePost, no job has been enqueued.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// InvalidStateError reports an operation attempted against a post whose
// state does not allow it.
type InvalidStateError struct {
	ID     string
	Status models.PostStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("post %s is %s", e.ID, e.Status)
}

// AdapterError reports a failed platform call. Retried per the backoff
// policy until attempts are exhausted.
type AdapterError struct {
	Platform string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("platform %s publish failed: %v", e.Platform, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// CredentialError reports an expired or unresolvable token bundle. For
// retry purposes it is treated exactly like an AdapterError; the refresh
// sweep reduces recurrence but never special-cases the retry decision.
type CredentialError struct {
	Ref string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials %s unavailable: %v", e.Ref, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }
