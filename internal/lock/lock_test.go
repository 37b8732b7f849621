package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

func TestLocalGivesUpWhenContextEnds(t *testing.T) {
	l := NewLocal(time.Second)
	key := Key("schedule", "d1")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, key, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if !apperr.Is(err, apperr.Transient) {
		t.Fatalf("expected transient kind, got %v", apperr.KindOf(err))
	}

	// other keys never contend
	if err := l.WithLock(context.Background(), Key("schedule", "d2"), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unrelated key: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}

	if err := l.WithLock(context.Background(), key, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("after release: %v", err)
	}
	if n := len(l.locks); n != 0 {
		t.Fatalf("expected lock map to be empty, has %d entries", n)
	}
}

func TestLocalPropagatesError(t *testing.T) {
	l := NewLocal(0)
	boom := errors.New("boom")
	if err := l.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestLocalSerialisesWaiters(t *testing.T) {
	l := NewLocal(5 * time.Second)
	key := Key("presence", "d1")

	var (
		mu      sync.Mutex
		inside  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), key, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlap {
		t.Fatal("two holders ran inside the lock at once")
	}
}

func TestAcquireStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Acquire(context.Background(), time.Second, func() (bool, error) {
		calls++
		return false, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected one call ending in boom, got %d calls and %v", calls, err)
	}
}
