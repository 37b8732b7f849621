package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
	"github.com/hackgods/telehealth-scheduling/internal/notify"
)

const casAttempts = 3

var tracer = otel.Tracer("telehealth/availability")

// Listener observes committed presence changes. Listeners run synchronously
// after the write and must not fail the transition.
type Listener func(ctx context.Context, st State)

type Service struct {
	repo     Repository
	locker   lock.Locker
	notifier notify.Notifier
	cfg      config.Config
	log      *logrus.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners []Listener
}

func NewService(repo Repository, locker lock.Locker, notifier notify.Notifier, cfg config.Config, log *logrus.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns the doctor's presence; doctors never seen are Offline.
func (s *Service) Current(ctx context.Context, doctorID uuid.UUID) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()
	return s.current(ctx, doctorID)
}

func (s *Service) current(ctx context.Context, doctorID uuid.UUID) (State, error) {
	st, err := s.repo.Get(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return State{DoctorID: doctorID, Presence: Offline}, nil
		}
		return State{}, fmt.Errorf("load presence: %w", err)
	}
	return *st, nil
}

// Transition applies trigger to the doctor's presence. Rejected transitions
// leave the stored state untouched.
func (s *Service) Transition(ctx context.Context, doctorID uuid.UUID, trigger Trigger, actor identity.Actor) (*State, error) {
	ctx, span := tracer.Start(ctx, "availability.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("doctor_id", doctorID.String()), attribute.String("trigger", string(trigger)))

	if !actor.Is(doctorID) {
		return nil, ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout.Std())
	defer cancel()

	var (
		stored *State
		from   Presence
	)
	err := s.locker.WithLock(ctx, lock.Key("presence", doctorID.String()), func(lockCtx context.Context) error {
		for attempt := 0; attempt < casAttempts; attempt++ {
			cur, err := s.current(lockCtx, doctorID)
			if err != nil {
				return err
			}
			from = cur.Presence

			to, err := Next(cur.Presence, trigger)
			if err != nil {
				return err
			}

			stored, err = s.repo.CompareAndSwap(lockCtx, State{
				DoctorID:  doctorID,
				Presence:  to,
				ChangedAt: s.now().UTC(),
			}, cur.Version)
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			if err != nil {
				return fmt.Errorf("store presence: %w", err)
			}
			return nil
		}
		return ErrVersionConflict
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.Conflict {
			span.RecordError(err)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"doctor_id": doctorID,
		"trigger":   trigger,
		"from":      from,
		"to":        stored.Presence,
	}).Info("presence changed")

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ctx, *stored)
	}

	notify.Send(ctx, s.notifier, s.log, notify.Event{
		Type:       notify.PresenceChanged,
		DoctorID:   doctorID,
		Presence:   string(stored.Presence),
		Reason:     string(trigger),
		OccurredAt: stored.ChangedAt,
	})

	return stored, nil
}
