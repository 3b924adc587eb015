package availability

import (
	"errors"

	"github.com/alfredjeanlab/sitegate/internal/store"
)

var (
	// ErrSingletonMissing means there is no site status row. It violates
	// the singleton invariant and is fatal to the call.
	ErrSingletonMissing = store.ErrSingletonMissing

	// ErrSingletonDuplicate means more than one site status row exists.
	ErrSingletonDuplicate = store.ErrSingletonDuplicate

	// ErrClosed is returned by Update after Close.
	ErrClosed = errors.New("availability broadcaster closed")
)

// WriteError is a transient failure of the availability write. Update
// never retries it.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "availability write failed: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// IsWriteFailure reports whether err is a transient write failure.
func IsWriteFailure(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
