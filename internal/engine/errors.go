package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument marks caller input the engine refuses.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// ConflictError is returned when a bulk run is already in progress and the
// caller did not force a new one.
type ConflictError struct {
	RunID     string
	Mode      Mode
	StartedAt time.Time
	// Host is set when the competing run belongs to another process.
	Host string
}

func (e *ConflictError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("sync already in progress in another process (%s)", e.Host)
	}
	return fmt.Sprintf("%s sync %s already in progress since %s", e.Mode, e.RunID, e.StartedAt.Format(time.RFC3339))
}

// StorageError wraps a ledger read or write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NotFoundError reports a lookup of something that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
