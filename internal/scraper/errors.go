package scraper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAdmissionDenied is returned when a requester has no credits left.
	ErrAdmissionDenied = errors.New("admission denied: no credits left")
	// ErrQueueFull is returned when the job queue is at capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned after the queue has been shut down.
	ErrQueueClosed = errors.New("queue closed")
	// ErrJobNotFound is returned by job stores for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
)

// NotFoundError reports that no candidate produced a usable document.
type NotFoundError struct {
	Attempted []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("document not found after %d attempts: %s",
		len(e.Attempted), strings.Join(e.Attempted, ", "))
}

// TransientError reports that every attempt failed at the transport level.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}
