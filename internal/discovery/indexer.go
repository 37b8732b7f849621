package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
	"github.com/hackgods/telehealth-scheduling/internal/profile"
)

const rebuildWorkers = 8

// PresenceSource reports a doctor's live presence.
type PresenceSource interface {
	Current(ctx context.Context, doctorID uuid.UUID) (availability.State, error)
}

// Indexer keeps the geo index in step with profiles and presence. The index
// is eventually consistent: a failed refresh is logged and repaired by the
// next Rebuild.
type Indexer struct {
	profiles profile.Repository
	presence PresenceSource
	index    geo.Index
	log      *logrus.Logger
}

func NewIndexer(profiles profile.Repository, presence PresenceSource, index geo.Index, log *logrus.Logger) *Indexer {
	return &Indexer{
		profiles: profiles,
		presence: presence,
		index:    index,
		log:      log,
	}
}

// Refresh re-projects one doctor. Doctors without a profile or a location are
// removed from the index.
func (ix *Indexer) Refresh(ctx context.Context, doctorID uuid.UUID) error {
	d, err := ix.profiles.Get(ctx, doctorID)
	if err != nil {
		if errors.Is(err, profile.ErrDoctorNotFound) {
			return ix.index.Remove(ctx, doctorID)
		}
		return fmt.Errorf("load profile: %w", err)
	}
	return ix.project(ctx, *d)
}

func (ix *Indexer) project(ctx context.Context, d profile.Doctor) error {
	if d.Location == nil {
		return ix.index.Remove(ctx, d.ID)
	}

	st, err := ix.presence.Current(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("load presence: %w", err)
	}

	return ix.index.Upsert(ctx, geo.Record{
		DoctorID: d.ID,
		Point:    *d.Location,
		Flags: geo.Flags{
			Verified:  d.Verified,
			Online:    st.Online(),
			Available: st.Available(),
		},
	})
}

// PresenceChanged is an availability.Listener.
func (ix *Indexer) PresenceChanged(ctx context.Context, st availability.State) {
	if err := ix.Refresh(ctx, st.DoctorID); err != nil {
		ix.log.WithField("doctor_id", st.DoctorID).WithError(err).Warn("geo index refresh failed")
	}
}

// Rebuild re-projects every doctor and returns how many were processed.
func (ix *Indexer) Rebuild(ctx context.Context) (int, error) {
	doctors, err := ix.profiles.List(ctx, profile.Filter{})
	if err != nil {
		return 0, fmt.Errorf("list profiles: %w", err)
	}

	p := pool.New().WithMaxGoroutines(rebuildWorkers).WithContext(ctx)
	for _, d := range doctors {
		p.Go(func(ctx context.Context) error {
			if err := ix.project(ctx, d); err != nil {
				return fmt.Errorf("doctor %s: %w", d.ID, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return len(doctors), err
	}

	ix.log.WithField("doctors", len(doctors)).Debug("geo index rebuilt")
	return len(doctors), nil
}
