package services

import (
	"errors"
	"fmt"

	"carelink/internal/core"
)

var (
	ErrUnauthenticated    = errors.New("not signed in")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrForbidden          = errors.New("not allowed")
	ErrNoEntries          = errors.New("no journal entries in range")
	ErrSummaryUnavailable = errors.New("summary generation is not configured")
)

// NoEntriesError reports an empty report range. It matches ErrNoEntries.
type NoEntriesError struct {
	Range core.DateRange
}

func (e *NoEntriesError) Error() string {
	return fmt.Sprintf("No journal entries found between %s and %s.", e.Range.Start, e.Range.End)
}

func (e *NoEntriesError) Is(target error) bool {
	return target == ErrNoEntries
}
