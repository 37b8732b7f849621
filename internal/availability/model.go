package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
)

type Presence string

const (
	Offline         Presence = "offline"
	OnlineAvailable Presence = "online_available"
	OnlineBusy      Presence = "online_busy"
)

type Trigger string

const (
	Login              Trigger = "login"
	Logout             Trigger = "logout"
	EngagementAccepted Trigger = "engagement_accepted"
	EngagementEnded    Trigger = "engagement_ended"
	Busy               Trigger = "busy"
)

var (
	ErrInvalidTransition = apperr.New(apperr.Conflict, "invalid presence transition")
	ErrUnknownTrigger    = apperr.New(apperr.Validation, "unknown presence trigger")
	ErrStateNotFound     = apperr.New(apperr.NotFound, "availability state not found")
	ErrVersionConflict   = apperr.New(apperr.Conflict, "availability state was modified concurrently")
	ErrForbidden         = apperr.New(apperr.Forbidden, "only the doctor may change their presence")
)

// State is a doctor's live presence. A doctor with no stored state is
// Offline at version 0.
type State struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	Presence  Presence  `json:"presence"`
	Version   int64     `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
}

// Online reports whether the doctor is logged in, busy or not.
func (s State) Online() bool {
	return s.Presence == OnlineAvailable || s.Presence == OnlineBusy
}

// Available reports whether the doctor can take a consultation right now.
func (s State) Available() bool {
	return s.Presence == OnlineAvailable
}

var transitions = map[Presence]map[Trigger]Presence{
	Offline: {
		Login: OnlineAvailable,
	},
	OnlineAvailable: {
		Logout:             Offline,
		EngagementAccepted: OnlineBusy,
		Busy:               OnlineBusy,
	},
	OnlineBusy: {
		Logout:          Offline,
		EngagementEnded: OnlineAvailable,
	},
}

// Next returns the presence reached from 'from' on trigger, or
// ErrInvalidTransition when the pair is not in the table.
func Next(from Presence, trigger Trigger) (Presence, error) {
	to, ok := transitions[from][trigger]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	switch t {
	case Login, Logout, EngagementAccepted, EngagementEnded, Busy:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
}

func Presences() []Presence {
	return []Presence{Offline, OnlineAvailable, OnlineBusy}
}

func Triggers() []Trigger {
	return []Trigger{Login, Logout, EngagementAccepted, EngagementEnded, Busy}
}
