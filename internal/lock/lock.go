// Package lock serializes chefctl runs on one host with an OS file lock.
package lock

import (
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when the lock is still held after the wait elapses.
var ErrTimeout = errors.New("timed out waiting for the chefctl lock")

// PollInterval is how often a contended lock is retried.
var PollInterval = 500 * time.Millisecond

// Lock is a held chefctl lock.
type Lock struct {
	fl    *flock.Flock
	owner string
}

// Acquire takes the lock at path, waiting up to wait. A wait of zero tries
// once. The owner string is written into the lock file for diagnostics.
func Acquire(ctx context.Context, path string, wait time.Duration, owner string) (*Lock, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create lock directory for %s", path)
	}
	if owner == "" {
		owner = DefaultOwner()
	}
	fl := flock.New(path)

	var (
		locked bool
		err    error
	)
	if wait <= 0 {
		locked, err = fl.TryLock()
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		locked, err = fl.TryLockContext(waitCtx, PollInterval)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", path)
	}
	if !locked {
		holder := ReadOwner(path)
		if holder != "" {
			return nil, errors.Wrapf(ErrTimeout, "%s held by %s after %s", path, holder, wait)
		}
		return nil, errors.Wrapf(ErrTimeout, "%s after %s", path, wait)
	}
	// Best effort: some platforms refuse writes to a locked region.
	_ = os.WriteFile(path, []byte(owner+"\n"), 0o644)
	return &Lock{fl: fl, owner: owner}, nil
}

// Owner is the string recorded when the lock was taken.
func (l *Lock) Owner() string { return l.owner }

// Path is the lock file path.
func (l *Lock) Path() string { return l.fl.Path() }

// Release drops the lock. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return errors.Wrapf(err, "unlock %s", l.fl.Path())
	}
	return nil
}

// ReadOwner returns the owner recorded in the lock file, if any.
func ReadOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// DefaultOwner is user@host:pid.
func DefaultOwner() string {
	host, _ := os.Hostname()
	host = strings.TrimSpace(host)
	if host == "" {
		host = "unknown-host"
	}
	pid := strconv.Itoa(os.Getpid())
	u, _ := user.Current()
	if u != nil && strings.TrimSpace(u.Username) != "" {
		return strings.TrimSpace(u.Username) + "@" + host + ":" + pid
	}
	return host + ":" + pid
}
