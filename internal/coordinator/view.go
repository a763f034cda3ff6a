package coordinator

import (
	"errors"
	"slices"
	"time"

	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

// View is what the presentation layer renders. Everything except Session,
// Player, Loading and Err is derived from Session on every ingestion.
type View struct {
	Session *poker.Session
	Player  *poker.Player
	Loading bool
	Err     error

	Phase     poker.Phase
	Progress  poker.Progress
	Consensus *float64 // agreed card, set only once revealed
	Seating   []poker.Player
}

func (v View) Active() bool { return v.Session != nil }

// ErrorMessage is the last error as text, or "".
func (v View) ErrorMessage() string {
	if v.Err == nil {
		return ""
	}
	return v.Err.Error()
}

func (v View) clone() View {
	out := v
	if v.Session != nil {
		s := v.Session.Clone()
		out.Session = &s
	}
	if v.Player != nil {
		p := *v.Player
		out.Player = &p
	}
	if v.Consensus != nil {
		c := *v.Consensus
		out.Consensus = &c
	}
	out.Seating = slices.Clone(v.Seating)
	return out
}

// Effect is work the caller must carry out after a reduction.
type Effect int

const (
	EffectNone Effect = iota
	// EffectPurge: the session expired. Delete it and forget the session.
	EffectPurge
	// EffectForget: the session is gone. Forget it locally.
	EffectForget
)

// Ingest folds one pushed document into the view. The incoming document
// replaces the previous session wholesale.
func Ingest(prev View, doc store.Document, playerID string, now time.Time) (View, Effect) {
	s, err := DecodeSession(doc, now)
	if err != nil {
		next := prev
		next.Err = newError(KindSubscription, "ingest", sessionIDOf(prev), err)
		return next, EffectNone
	}
	if s.Expired(now) {
		return View{Err: newError(KindExpired, "ingest", s.ID, nil)}, EffectPurge
	}
	next := Derive(s, playerID)
	next.Loading = prev.Loading
	return next, EffectNone
}

// Fault folds a subscription error into the view. A missing document ends
// the session; any other fault keeps the last known state.
func Fault(prev View, err error, sessionID string) (View, Effect) {
	if errors.Is(err, store.ErrNotFound) {
		return View{Err: newError(KindNotFound, "subscribe", sessionID, err)}, EffectForget
	}
	next := prev
	next.Err = newError(KindSubscription, "subscribe", sessionID, err)
	return next, EffectNone
}

// Derive builds the view of s as seen by playerID.
func Derive(s poker.Session, playerID string) View {
	v := View{
		Session:  &s,
		Phase:    s.Phase(),
		Progress: poker.VoteProgress(s.Players),
		Seating:  poker.SeatingOrder(s.Players, playerID),
	}
	if p, ok := s.Player(playerID); ok {
		v.Player = &p
	}
	if s.Revealed {
		if agreed, ok := poker.Consensus(s.Players); ok {
			v.Consensus = &agreed
		}
	}
	return v
}

func sessionIDOf(v View) string {
	if v.Session == nil {
		return ""
	}
	return v.Session.ID
}
