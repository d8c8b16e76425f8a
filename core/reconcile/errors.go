package reconcile

import (
	"errors"
	"fmt"
)

// LockTimeoutError wraps a lock-wait timeout or deadlock reported by the
// database. The engine retries the affected batch before giving up.
type LockTimeoutError struct {
	Table string
	Err   error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout on %s: %v", e.Table, e.Err)
}

func (e *LockTimeoutError) Unwrap() error {
	return e.Err
}

// IsLockTimeout reports whether err is, or wraps, a LockTimeoutError.
func IsLockTimeout(err error) bool {
	var lockErr *LockTimeoutError
	return errors.As(err, &lockErr)
}

// PartialApplyError reports a table whose incremental application stopped
// part way. Committed batches stay applied.
type PartialApplyError struct {
	Table string
	// Committed lists the 1-based numbers of committed batches.
	Committed []int
	// Pending lists the batches that failed or were never attempted.
	Pending []int
	Err     error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("table %s partially applied: batches committed %v, not applied %v: %v",
		e.Table, e.Committed, e.Pending, e.Err)
}

func (e *PartialApplyError) Unwrap() error {
	return e.Err
}

// ErrDependencyFailed marks a table skipped because a table it depends on
// (or, for deletes, a table depending on it) did not apply.
var ErrDependencyFailed = errors.New("dependency failed")
