package availability

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
)

func newTestService(t *testing.T) (*Service, *notify.Recorder) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	rec := notify.NewRecorder(32)
	cfg := config.Config{StoreTimeout: config.Duration(time.Second)}
	return NewService(NewMemoryRepository(), lock.NewLocal(time.Second), rec, cfg, log), rec
}

func TestTransitionTableIsTotal(t *testing.T) {
	allowed := map[Presence]map[Trigger]Presence{
		Offline:         {Login: OnlineAvailable},
		OnlineAvailable: {Logout: Offline, EngagementAccepted: OnlineBusy, Busy: OnlineBusy},
		OnlineBusy:      {Logout: Offline, EngagementEnded: OnlineAvailable},
	}

	for _, from := range Presences() {
		for _, trig := range Triggers() {
			got, err := Next(from, trig)
			want, ok := allowed[from][trig]
			if ok {
				if err != nil || got != want {
					t.Errorf("%s --%s--> expected %s, got %s (%v)", from, trig, want, got, err)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s --%s--> expected ErrInvalidTransition, got %v", from, trig, err)
			}
			if got != from {
				t.Errorf("%s --%s--> rejected transition changed state to %s", from, trig, got)
			}
		}
	}
}

func TestParseTrigger(t *testing.T) {
	if tr, err := ParseTrigger("engagement_accepted"); err != nil || tr != EngagementAccepted {
		t.Fatalf("unexpected: %s %v", tr, err)
	}
	_, err := ParseTrigger("teleport")
	if !errors.Is(err, ErrUnknownTrigger) || !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceLifecycle(t *testing.T) {
	svc, rec := newTestService(t)
	doctor := uuid.New()
	actor := identity.Actor{ID: doctor, Role: identity.RoleDoctor}
	ctx := context.Background()

	var seen []Presence
	svc.Subscribe(func(_ context.Context, st State) { seen = append(seen, st.Presence) })

	st, err := svc.Current(ctx, doctor)
	if err != nil || st.Presence != Offline || st.Version != 0 {
		t.Fatalf("expected implicit offline state, got %+v (%v)", st, err)
	}

	steps := []struct {
		trigger Trigger
		want    Presence
	}{
		{Login, OnlineAvailable},
		{EngagementAccepted, OnlineBusy},
		{EngagementEnded, OnlineAvailable},
		{Busy, OnlineBusy},
		{Logout, Offline},
	}
	for i, step := range steps {
		got, err := svc.Transition(ctx, doctor, step.trigger, actor)
		if err != nil {
			t.Fatalf("%s: %v", step.trigger, err)
		}
		if got.Presence != step.want || got.Version != int64(i+1) {
			t.Fatalf("%s: expected %s at version %d, got %+v", step.trigger, step.want, i+1, got)
		}
	}

	if len(seen) != len(steps) {
		t.Fatalf("expected %d listener calls, got %d", len(steps), len(seen))
	}
	events := rec.Events()
	if len(events) != len(steps) || events[0].Type != notify.PresenceChanged || events[0].Presence != string(OnlineAvailable) {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestRejectedTransitionLeavesState(t *testing.T) {
	svc, rec := newTestService(t)
	doctor := uuid.New()
	actor := identity.Actor{ID: doctor, Role: identity.RoleDoctor}
	ctx := context.Background()

	if _, err := svc.Transition(ctx, doctor, Login, actor); err != nil {
		t.Fatalf("login: %v", err)
	}
	rec.Events()

	_, err := svc.Transition(ctx, doctor, EngagementEnded, actor)
	if !errors.Is(err, ErrInvalidTransition) || !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected invalid transition conflict, got %v", err)
	}

	st, err := svc.Current(ctx, doctor)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if st.Presence != OnlineAvailable || st.Version != 1 {
		t.Fatalf("state changed after rejected transition: %+v", st)
	}
	if events := rec.Events(); len(events) != 0 {
		t.Fatalf("rejected transition must not notify, got %+v", events)
	}
}

func TestTransitionActorChecks(t *testing.T) {
	svc, _ := newTestService(t)
	doctor := uuid.New()
	ctx := context.Background()

	_, err := svc.Transition(ctx, doctor, Login, identity.Actor{ID: uuid.New(), Role: identity.RoleDoctor})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := svc.Transition(ctx, doctor, Login, identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin}); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
}

func TestMemoryCompareAndSwap(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := uuid.New()
	ctx := context.Background()

	if _, err := repo.CompareAndSwap(ctx, State{DoctorID: doctor, Presence: OnlineAvailable}, 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CompareAndSwap(ctx, State{DoctorID: doctor, Presence: OnlineBusy}, 0); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict on stale create, got %v", err)
	}
	st, err := repo.CompareAndSwap(ctx, State{DoctorID: doctor, Presence: OnlineBusy}, 1)
	if err != nil || st.Version != 2 {
		t.Fatalf("expected version 2, got %+v (%v)", st, err)
	}
}
