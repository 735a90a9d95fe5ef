package nearcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/nearcache/backend"
)

var (
	// ErrNotFound: the key does not exist in the backing store.
	ErrNotFound = backend.ErrNotFound
	// ErrBackendUnavailable: the store could not be reached within the retry budget.
	// Returned errors are *BackendError values that match it with errors.Is.
	ErrBackendUnavailable = errors.New("nearcache: backend unavailable")
	// ErrSubscriptionLost is reported through Hooks and logs when an invalidation
	// stream drops. Reads never fail with it.
	ErrSubscriptionLost = backend.ErrSubscriptionLost

	ErrUnknownNamespace = errors.New("nearcache: unknown namespace")
	ErrInvalidKey       = errors.New("nearcache: invalid key")
	ErrClosed           = errors.New("nearcache: closed")
)

// BackendError describes a store operation that failed after retries.
type BackendError struct {
	Op        string // get, put, put_if_absent, delete
	Namespace string
	Key       string
	Attempts  int
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("nearcache: %s %s/%q failed after %d attempt(s): %v",
		e.Op, e.Namespace, e.Key, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() []error {
	errs := make([]error, 0, 2)
	errs = append(errs, ErrBackendUnavailable)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
