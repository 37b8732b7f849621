package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

// ErrNotAcquired means the lock stayed held by another request for as long
// as the caller was willing to wait.
var ErrNotAcquired = apperr.New(apperr.Transient, "resource is being modified, please retry")

// Locker guards per-doctor critical sections (schedule replacement, presence
// transitions). A held key makes the caller wait until the holder releases
// it, the caller's context ends or the lock TTL elapses.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Key builds the lock key for one doctor-scoped resource.
func Key(scope, id string) string {
	return "lock:" + scope + ":" + id
}

// Acquire retries try with exponential backoff until it reports the lock
// taken. Waiting stops at maxWait (zero means only ctx bounds it) and then
// fails with ErrNotAcquired. An error from try ends the wait immediately.
func Acquire(ctx context.Context, maxWait time.Duration, try func() (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = maxWait

	err := backoff.Retry(func() error {
		ok, err := try()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrNotAcquired
	}
	return err
}

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	ttl   time.Duration
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewLocal(ttl time.Duration) *Local {
	return &Local{
		ttl:   ttl,
		locks: make(map[string]*entry),
	}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.acquireEntry(key)
	defer l.releaseEntry(key, e)

	err := Acquire(ctx, l.ttl, func() (bool, error) {
		return e.mu.TryLock(), nil
	})
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if l.ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.ttl)
		defer cancel()
	}

	return fn(ctx)
}

func (l *Local) acquireEntry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

// releaseEntry drops unused entries so the map does not grow with the number
// of doctors ever seen.
func (l *Local) releaseEntry(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
