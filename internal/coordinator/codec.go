package coordinator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

// Document field names.
const (
	fieldID        = "id"
	fieldPlayers   = "players"
	fieldRevealed  = "revealed"
	fieldAverage   = "average"
	fieldCreatedAt = "createdAt"

	keyPlayerID   = "id"
	keyPlayerName = "name"
	keyPlayerVote = "vote"
)

type wireSession struct {
	ID        string          `json:"id"`
	Players   []wirePlayer    `json:"players"`
	Revealed  bool            `json:"revealed"`
	Average   *float64        `json:"average"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

type wirePlayer struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Vote poker.Vote `json:"vote"`
}

// NewDocument encodes a fresh session for Create. createdAt is left to the
// store clock.
func NewDocument(s poker.Session) store.Document {
	players := make([]any, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, playerElement(p))
	}
	return store.Document{
		fieldID:        s.ID,
		fieldPlayers:   players,
		fieldRevealed:  s.Revealed,
		fieldAverage:   averageValue(s.Average),
		fieldCreatedAt: store.ServerTimestamp(),
	}
}

// DecodeSession reads a pushed document. A createdAt the store has not
// resolved yet counts as now.
func DecodeSession(doc store.Document, now time.Time) (poker.Session, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return poker.Session{}, fmt.Errorf("encode document: %w", err)
	}
	var w wireSession
	if err := json.Unmarshal(raw, &w); err != nil {
		return poker.Session{}, fmt.Errorf("decode session: %w", err)
	}

	s := poker.Session{
		ID:        w.ID,
		Players:   make([]poker.Player, 0, len(w.Players)),
		Revealed:  w.Revealed,
		Average:   w.Average,
		CreatedAt: createdAt(w.CreatedAt, now),
	}
	for _, p := range w.Players {
		s.Players = append(s.Players, poker.Player{ID: p.ID, Name: p.Name, Vote: p.Vote})
	}
	if err := s.Validate(); err != nil {
		return poker.Session{}, err
	}
	return s, nil
}

func createdAt(raw json.RawMessage, now time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '{' || bytes.Equal(raw, []byte("null")) {
		return now
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return now
	}
	return time.UnixMilli(int64(ms))
}

func playerElement(p poker.Player) map[string]any {
	return map[string]any{
		keyPlayerID:   p.ID,
		keyPlayerName: p.Name,
		keyPlayerVote: voteValue(p.Vote),
	}
}

func voteValue(v poker.Vote) any {
	switch v.Kind() {
	case poker.VoteNumeric:
		f, _ := v.Value()
		return f
	case poker.VoteUnknown:
		return poker.UnknownMarker
	default:
		return nil
	}
}

func averageValue(avg *float64) any {
	if avg == nil {
		return nil
	}
	return *avg
}
