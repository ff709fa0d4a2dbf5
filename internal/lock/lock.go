// Package lock provides the advisory, process-wide lock over the state
// directory described in spec §5: every mutating CLI invocation holds
// it for the duration of its reconciliation. Built on
// github.com/gofrs/flock the same way the reference tree's longer-lived
// daemons serialize access to a shared resource with a file lock.
package lock

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// Lock wraps a single advisory flock at a fixed path.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock over the file at path. The file is created if absent.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Acquire blocks (retrying on a short interval) until the lock is held
// or timeout elapses, whichever comes first. Returns a vpcerr.Error of
// kind Lock on timeout.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return vpcerr.Lockf(err, "failed to acquire state lock %s", l.fl.Path())
	}
	if !ok {
		return vpcerr.Lockf(nil, "timed out waiting for state lock %s held by another vpcctl invocation", l.fl.Path())
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
