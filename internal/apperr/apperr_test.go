package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	errSlotTaken := New(Conflict, "slot taken")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", errSlotTaken, Conflict},
		{"wrapped sentinel", fmt.Errorf("book: %w", errSlotTaken), Conflict},
		{"validation", Validationf("bad %s", "input"), Validation},
		{"deadline", context.DeadlineExceeded, Transient},
		{"store deadline", FromStore(fmt.Errorf("query: %w", context.DeadlineExceeded), "load"), Transient},
		{"plain", errors.New("boom"), Internal},
		{"store plain", FromStore(errors.New("boom"), "load"), Internal},
		{"store keeps kind", FromStore(New(NotFound, "gone"), "load"), NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSentinelIdentity(t *testing.T) {
	errA := New(NotFound, "a")
	errB := New(NotFound, "a")

	if !errors.Is(fmt.Errorf("x: %w", errA), errA) {
		t.Fatal("wrapped sentinel should match itself")
	}
	if errors.Is(errA, errB) {
		t.Fatal("distinct sentinels must not match")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Internal, nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}
