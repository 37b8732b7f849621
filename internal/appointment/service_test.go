package appointment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
	"github.com/hackgods/telehealth-scheduling/internal/schedule"
)

type testEnv struct {
	svc       *Service
	repo      *MemoryRepository
	schedules *schedule.Service
	events    *notify.Recorder
	doctor    uuid.UUID
	t1, t2    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Config{
		StoreTimeout:   config.Duration(time.Second),
		LockTTL:        config.Duration(time.Second),
		AppointmentTTL: config.Duration(24 * time.Hour),
		SlotDuration:   config.Duration(30 * time.Minute),
		MaxSlots:       100,
	}

	repo := NewMemoryRepository()
	schedules := schedule.NewService(schedule.NewMemoryRepository(), repo, lock.NewLocal(time.Second), cfg, log)
	events := notify.NewRecorder(64)

	env := &testEnv{
		svc:       NewService(repo, schedules, events, cfg, log),
		repo:      repo,
		schedules: schedules,
		events:    events,
		doctor:    uuid.New(),
	}
	env.t1 = time.Now().Add(48 * time.Hour).Truncate(time.Hour).UTC()
	env.t2 = env.t1.Add(30 * time.Minute)

	if _, _, err := schedules.SetSchedule(context.Background(), env.doctor, []time.Time{env.t1, env.t2}); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	return env
}

func (e *testEnv) doctorActor() identity.Actor {
	return identity.Actor{ID: e.doctor, Role: identity.RoleDoctor}
}

func patient() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
}

func TestBookCancelRebookScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p1, p2 := patient(), patient()

	a1, err := env.svc.BookSlot(ctx, env.doctor, p1.ID, env.t1, p1)
	if err != nil {
		t.Fatalf("P1 book: %v", err)
	}
	if a1.Status != StatusPending || !a1.SlotTime.Equal(env.t1) {
		t.Fatalf("unexpected appointment: %+v", a1)
	}

	_, err = env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t1, p2)
	if !errors.Is(err, ErrSlotTaken) || !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("P2 book: expected slot taken conflict, got %v", err)
	}

	if _, err := env.svc.Cancel(ctx, a1.ID, p1); err != nil {
		t.Fatalf("P1 cancel: %v", err)
	}

	a2, err := env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t1, p2)
	if err != nil {
		t.Fatalf("P2 rebook: %v", err)
	}
	if a2.ID == a1.ID || a2.PatientID != p2.ID {
		t.Fatalf("expected a new appointment for P2, got %+v", a2)
	}

	got, err := env.svc.GetAppointment(ctx, a1.ID, p1)
	if err != nil || got.Status != StatusCancelled {
		t.Fatalf("A1 should stay cancelled, got %+v (%v)", got, err)
	}
}

func TestConcurrentBookingHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	const racers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := patient()
			<-start
			_, err := env.svc.BookSlot(context.Background(), env.doctor, p.ID, env.t1, p)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrSlotTaken):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 || conflicts != racers-1 || len(others) != 0 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d winners, %d conflicts, errors %v", racers-1, winners, conflicts, others)
	}

	active, err := env.repo.ActiveBookings(context.Background(), env.doctor, env.t1, env.t2)
	if err != nil {
		t.Fatalf("ActiveBookings: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active booking, got %d", len(active))
	}
}

func TestBookSlotNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	_, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1.Add(time.Minute), p)
	if !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}

	_, err = env.svc.BookSlot(ctx, uuid.New(), p.ID, env.t1, p)
	if !errors.Is(err, schedule.ErrScheduleNotFound) || !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected schedule not found, got %v", err)
	}

	_, err = env.svc.BookSlot(ctx, env.doctor, p.ID, time.Now().Add(-time.Hour), p)
	if !errors.Is(err, ErrSlotInPast) {
		t.Fatalf("expected ErrSlotInPast, got %v", err)
	}
}

func TestBookSlotForSomeoneElse(t *testing.T) {
	env := newTestEnv(t)
	p := patient()

	_, err := env.svc.BookSlot(context.Background(), env.doctor, uuid.New(), env.t1, p)
	if !errors.Is(err, ErrForbidden) || !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBookingSetsExpiry(t *testing.T) {
	env := newTestEnv(t)
	p := patient()

	now := time.Now()
	env.svc.now = func() time.Time { return now }

	a, err := env.svc.BookSlot(context.Background(), env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if want := now.Add(24 * time.Hour).UTC(); !a.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, a.ExpiresAt)
	}

	// a slot sooner than the TTL expires at the slot itself
	env.svc.now = func() time.Time { return env.t2.Add(-time.Hour) }
	b, err := env.svc.BookSlot(context.Background(), env.doctor, p.ID, env.t2, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if !b.ExpiresAt.Equal(env.t2) {
		t.Fatalf("expected expiry at slot %s, got %s", env.t2, b.ExpiresAt)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	a, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	env.events.Events()

	for i := 0; i < 2; i++ {
		got, err := env.svc.Cancel(ctx, a.ID, p)
		if err != nil || got.Status != StatusCancelled {
			t.Fatalf("cancel #%d: %+v %v", i+1, got, err)
		}
	}

	events := env.events.Events()
	if len(events) != 1 || events[0].Type != notify.AppointmentCancelled {
		t.Fatalf("expected a single cancellation event, got %+v", events)
	}

	if _, err := env.svc.Cancel(ctx, a.ID, patient()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Cancel(ctx, uuid.New(), p); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestConfirmAndComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	a, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}

	if _, err := env.svc.Confirm(ctx, a.ID, p); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient confirm: expected ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Complete(ctx, a.ID, env.doctorActor()); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("complete pending: expected invalid transition, got %v", err)
	}

	confirmed, err := env.svc.Confirm(ctx, a.ID, env.doctorActor())
	if err != nil || confirmed.Status != StatusConfirmed {
		t.Fatalf("Confirm: %+v %v", confirmed, err)
	}
	if _, err := env.svc.Confirm(ctx, a.ID, env.doctorActor()); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("double confirm: expected invalid transition, got %v", err)
	}

	completed, err := env.svc.Complete(ctx, a.ID, env.doctorActor())
	if err != nil || completed.Status != StatusCompleted {
		t.Fatalf("Complete: %+v %v", completed, err)
	}

	_, err = env.svc.Cancel(ctx, a.ID, p)
	if !errors.Is(err, ErrInvalidStatusTransition) || !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("cancel completed: expected conflict, got %v", err)
	}

	// a completed appointment still holds its slot
	p2 := patient()
	if _, err := env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t1, p2); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected completed slot to stay taken, got %v", err)
	}
}

func TestCompletedAppointmentKeepsSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	a, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, a.ID, env.doctorActor()); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := env.svc.Complete(ctx, a.ID, env.doctorActor()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	open, err := env.schedules.GetOpenSlots(ctx, env.doctor, env.t1)
	if err != nil {
		t.Fatalf("GetOpenSlots: %v", err)
	}
	for _, slot := range open {
		if slot.Equal(env.t1) {
			t.Fatalf("completed slot %s listed as open: %v", env.t1, open)
		}
	}

	p2 := patient()
	if _, err := env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t1, p2); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken on completed slot, got %v", err)
	}

	held := 0
	for _, s := range []AppointmentStatus{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled} {
		if s.Active() {
			held++
		}
	}
	if held != 3 || StatusCancelled.Active() {
		t.Fatalf("only cancelled appointments should release a slot")
	}

	// dropping the slot leaves the completed appointment alone
	_, cancelled, err := env.svc.ApplySchedule(ctx, env.doctor, []time.Time{env.t2}, env.doctorActor())
	if err != nil {
		t.Fatalf("ApplySchedule: %v", err)
	}
	if len(cancelled) != 0 {
		t.Fatalf("expected no cancellations, got %v", cancelled)
	}
	got, err := env.svc.GetAppointment(ctx, a.ID, p)
	if err != nil || got.Status != StatusCompleted {
		t.Fatalf("completed appointment changed: %+v %v", got, err)
	}
}

func TestConfirmAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	a, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}

	env.svc.now = func() time.Time { return a.ExpiresAt.Add(time.Second) }
	if _, err := env.svc.Confirm(ctx, a.ID, env.doctorActor()); !errors.Is(err, ErrAppointmentExpiredState) {
		t.Fatalf("expected ErrAppointmentExpiredState, got %v", err)
	}

	got, err := env.repo.GetAppointmentByID(ctx, a.ID)
	if err != nil || got.Status != StatusCancelled {
		t.Fatalf("expected lapsed appointment cancelled, got %+v (%v)", got, err)
	}
}

func TestApplyScheduleCancelsDroppedSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p1, p2 := patient(), patient()

	kept, err := env.svc.BookSlot(ctx, env.doctor, p1.ID, env.t1, p1)
	if err != nil {
		t.Fatalf("book t1: %v", err)
	}
	dropped, err := env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t2, p2)
	if err != nil {
		t.Fatalf("book t2: %v", err)
	}

	t3 := env.t2.Add(time.Hour)
	sched, cancelled, err := env.svc.ApplySchedule(ctx, env.doctor, []time.Time{t3, env.t1}, env.doctorActor())
	if err != nil {
		t.Fatalf("ApplySchedule: %v", err)
	}
	if len(sched.Slots) != 2 || !sched.Slots[0].Equal(env.t1) {
		t.Fatalf("unexpected schedule: %+v", sched)
	}
	if len(cancelled) != 1 || cancelled[0] != dropped.ID {
		t.Fatalf("expected %s cancelled, got %v", dropped.ID, cancelled)
	}

	got, _ := env.repo.GetAppointmentByID(ctx, dropped.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("dropped appointment status %s", got.Status)
	}
	got, _ = env.repo.GetAppointmentByID(ctx, kept.ID)
	if got.Status != StatusPending {
		t.Fatalf("kept appointment status %s", got.Status)
	}

	if _, _, err := env.svc.ApplySchedule(ctx, env.doctor, []time.Time{t3}, p1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient schedule change: expected ErrForbidden, got %v", err)
	}
}

type switchingSchedules struct {
	Schedules
	mu    sync.Mutex
	calls int
	first *schedule.Schedule
	after *schedule.Schedule
}

func (s *switchingSchedules) Get(context.Context, uuid.UUID) (*schedule.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return s.first, nil
	}
	return s.after, nil
}

func TestBookSlotRollsBackWhenScheduleChangesMidway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	env.svc.schedules = &switchingSchedules{
		first: &schedule.Schedule{DoctorID: env.doctor, Slots: []time.Time{env.t1, env.t2}, Version: 1},
		after: &schedule.Schedule{DoctorID: env.doctor, Slots: []time.Time{env.t2}, Version: 2},
	}

	_, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound, got %v", err)
	}

	active, err := env.repo.ActiveBookings(ctx, env.doctor, env.t1, time.Time{})
	if err != nil {
		t.Fatalf("ActiveBookings: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("reservation was not rolled back: %+v", active)
	}
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p1, p2 := patient(), patient()

	pending, err := env.svc.BookSlot(ctx, env.doctor, p1.ID, env.t1, p1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	confirmed, err := env.svc.BookSlot(ctx, env.doctor, p2.ID, env.t2, p2)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, confirmed.ID, env.doctorActor()); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	env.svc.now = func() time.Time { return env.t2.Add(45 * time.Minute) }
	res, err := env.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if res.Expired != 1 || res.Completed != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	got, _ := env.repo.GetAppointmentByID(ctx, pending.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("pending appointment status %s", got.Status)
	}
	got, _ = env.repo.GetAppointmentByID(ctx, confirmed.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("confirmed appointment status %s", got.Status)
	}

	res, err = env.svc.SweepExpired(ctx)
	if err != nil || res != (SweepResult{}) {
		t.Fatalf("second sweep should be a no-op, got %+v (%v)", res, err)
	}
}

func TestListPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	for _, slot := range []time.Time{env.t1, env.t2} {
		if _, err := env.svc.BookSlot(ctx, env.doctor, p.ID, slot, p); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	all, err := env.svc.ListAppointmentsByPatient(ctx, p.ID, 0, 0, p)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 appointments, got %d (%v)", len(all), err)
	}
	if !all[0].SlotTime.Equal(env.t2) {
		t.Fatalf("expected latest slot first, got %s", all[0].SlotTime)
	}

	second, err := env.svc.ListAppointmentsByDoctor(ctx, env.doctor, 1, 1, env.doctorActor())
	if err != nil || len(second) != 1 || !second[0].SlotTime.Equal(env.t1) {
		t.Fatalf("unexpected page: %+v (%v)", second, err)
	}

	if _, err := env.svc.ListAppointmentsByDoctor(ctx, env.doctor, 10, 0, p); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEventLogWritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := patient()

	a, err := env.svc.BookSlot(ctx, env.doctor, p.ID, env.t1, p)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, a.ID, env.doctorActor()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	logs := env.repo.Events()
	if len(logs) != 2 || logs[0].EventType != EventAppointmentCreated || logs[1].EventType != EventAppointmentCancelled {
		t.Fatalf("unexpected event log: %+v", logs)
	}
	if logs[1].AppointmentID == nil || *logs[1].AppointmentID != a.ID {
		t.Fatalf("event log not linked to appointment")
	}
}
