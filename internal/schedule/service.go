package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
)

var (
	ErrEmptySchedule = apperr.New(apperr.Validation, "schedule must contain at least one slot")
	ErrDuplicateSlot = apperr.New(apperr.Validation, "schedule contains duplicate slots")
	ErrPastSlot      = apperr.New(apperr.Validation, "schedule slots must be in the future")
	ErrTooManySlots  = apperr.New(apperr.Validation, "schedule has too many slots")
)

var tracer = otel.Tracer("telehealth/schedule")

type Service struct {
	repo     Repository
	bookings Bookings
	locker   lock.Locker
	cfg      config.Config
	log      *logrus.Logger
	now      func() time.Time
}

func NewService(repo Repository, bookings Bookings, locker lock.Locker, cfg config.Config, log *logrus.Logger) *Service {
	return &Service{
		repo:     repo,
		bookings: bookings,
		locker:   locker,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetSchedule replaces the doctor's schedule with slots, sorted ascending.
// It returns the stored schedule and the appointments that still hold a
// future slot missing from the new schedule; the caller cancels those. The
// replacement itself never waits on them.
func (s *Service) SetSchedule(ctx context.Context, doctorID uuid.UUID, slots []time.Time) (*Schedule, []uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "schedule.SetSchedule")
	defer span.End()
	span.SetAttributes(attribute.String("doctor_id", doctorID.String()), attribute.Int("slots", len(slots)))

	now := s.now()
	normalized, err := s.validate(slots, now)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	var (
		stored   *Schedule
		affected []uuid.UUID
	)
	err = s.locker.WithLock(ctx, lock.Key("schedule", doctorID.String()), func(lockCtx context.Context) error {
		var version int64
		current, err := s.repo.Get(lockCtx, doctorID)
		switch {
		case err == nil:
			version = current.Version
		case apperr.Is(err, apperr.NotFound):
		default:
			return fmt.Errorf("load schedule: %w", err)
		}

		stored, err = s.repo.Replace(lockCtx, doctorID, normalized, version)
		if err != nil {
			return fmt.Errorf("replace schedule: %w", err)
		}

		// Read bookings only after the new schedule is committed: a booking
		// racing this replacement either shows up here or sees the new
		// version when it re-checks.
		active, err := s.bookings.ActiveBookings(lockCtx, doctorID, now, time.Time{})
		if err != nil {
			return fmt.Errorf("load active bookings: %w", err)
		}
		for _, b := range active {
			if !stored.Contains(b.SlotTime) {
				affected = append(affected, b.AppointmentID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"doctor_id": doctorID,
		"slots":     len(stored.Slots),
		"version":   stored.Version,
		"orphaned":  len(affected),
	}).Info("schedule replaced")

	return stored, affected, nil
}

func (s *Service) validate(slots []time.Time, now time.Time) ([]time.Time, error) {
	if len(slots) == 0 {
		return nil, ErrEmptySchedule
	}
	if s.cfg.MaxSlots > 0 && len(slots) > s.cfg.MaxSlots {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySlots, len(slots), s.cfg.MaxSlots)
	}

	out := make([]time.Time, len(slots))
	for i, t := range slots {
		t = Normalize(t)
		if !t.After(now) {
			return nil, fmt.Errorf("%w: %s", ErrPastSlot, t.Format(time.RFC3339))
		}
		out[i] = t
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	for i := 1; i < len(out); i++ {
		if out[i].Equal(out[i-1]) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, out[i].Format(time.RFC3339))
		}
	}
	return out, nil
}

// Get returns the doctor's current schedule.
func (s *Service) Get(ctx context.Context, doctorID uuid.UUID) (*Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	sched, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// GetSlots returns every slot on day's calendar day (in day's location),
// tagged open or booked. A doctor without a schedule has no slots.
func (s *Service) GetSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "schedule.GetSlots")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	sched, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return []Slot{}, nil
		}
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	from, to := DayBounds(day)
	times := sched.Between(from, to)
	if len(times) == 0 {
		return []Slot{}, nil
	}

	active, err := s.bookings.ActiveBookings(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load active bookings: %w", err)
	}
	booked := make(map[int64]uuid.UUID, len(active))
	for _, b := range active {
		booked[b.SlotTime.UnixMicro()] = b.AppointmentID
	}

	out := make([]Slot, 0, len(times))
	for _, t := range times {
		slot := Slot{Time: t, Status: SlotOpen}
		if id, ok := booked[t.UnixMicro()]; ok {
			slot.Status = SlotBooked
			slot.AppointmentID = &id
		}
		out = append(out, slot)
	}
	return out, nil
}

// GetOpenSlots returns the slots on day's calendar day that nobody holds.
func (s *Service) GetOpenSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]time.Time, error) {
	slots, err := s.GetSlots(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	open := make([]time.Time, 0, len(slots))
	for _, slot := range slots {
		if slot.Status == SlotOpen {
			open = append(open, slot.Time)
		}
	}
	return open, nil
}
