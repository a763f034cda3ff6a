package poker

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrDuplicatePlayer = errors.New("duplicate player id")
var ErrAverageBeforeReveal = errors.New("average present before reveal")
var ErrMissingID = errors.New("missing id")

// Collection is where session documents live in the store.
const Collection = "sessions"

// ExpiryWindow is how long a session stays alive after creation.
const ExpiryWindow = 24 * time.Hour

type Phase string

const (
	PhaseVoting   Phase = "voting"
	PhaseRevealed Phase = "revealed"
)

type Player struct {
	ID   string
	Name string
	Vote Vote
}

type Session struct {
	ID        string
	Players   []Player // join order
	Revealed  bool
	Average   *float64
	CreatedAt time.Time
}

func NewSession(id string, host Player, createdAt time.Time) Session {
	host.Vote = Absent()
	return Session{
		ID:        id,
		Players:   []Player{host},
		CreatedAt: createdAt,
	}
}

func (s Session) Phase() Phase {
	if s.Revealed {
		return PhaseRevealed
	}
	return PhaseVoting
}

// Player looks a participant up by id.
func (s Session) Player(id string) (Player, bool) {
	i := slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
	if i < 0 {
		return Player{}, false
	}
	return s.Players[i], true
}

func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Expired reports whether the session is past ExpiryWindow at now.
func (s Session) Expired(now time.Time) bool {
	return s.Age(now) > ExpiryWindow
}

func (s Session) Clone() Session {
	out := s
	out.Players = slices.Clone(s.Players)
	if s.Average != nil {
		avg := *s.Average
		out.Average = &avg
	}
	return out
}

// Validate checks the document invariants every client relies on.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session: %w", ErrMissingID)
	}
	if !s.Revealed && s.Average != nil {
		return ErrAverageBeforeReveal
	}
	seen := make(map[string]bool, len(s.Players))
	for _, p := range s.Players {
		if p.ID == "" {
			return fmt.Errorf("player %q: %w", p.Name, ErrMissingID)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicatePlayer, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
