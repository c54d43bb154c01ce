package backend

import (
	"errors"
	"fmt"
)

// SyncError classifies any non-2xx or malformed response from the backend
// trip surface.
type SyncError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("BackendSyncError (%d): %s: %v", e.StatusCode, e.Message, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("BackendSyncError (%d): %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("BackendSyncError: %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("BackendSyncError: %s", e.Message)
	}
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSyncError reports whether err is a backend sync failure.
func IsSyncError(err error) bool {
	var syncErr *SyncError
	return errors.As(err, &syncErr)
}
