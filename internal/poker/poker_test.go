package poker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func players(votes ...Vote) []Player {
	out := make([]Player, len(votes))
	for i, v := range votes {
		out[i] = Player{ID: string(rune('a' + i)), Name: string(rune('A' + i)), Vote: v}
	}
	return out
}

func TestAverage(t *testing.T) {
	cases := []struct {
		name  string
		votes []Vote
		want  *float64
	}{
		{name: "two numbers", votes: []Vote{Numeric(5), Numeric(8)}, want: ptr(6.5)},
		{name: "single vote", votes: []Vote{Numeric(3)}, want: ptr(3.0)},
		{name: "rounds to one decimal", votes: []Vote{Numeric(1), Numeric(2), Numeric(2)}, want: ptr(1.7)},
		{name: "unknown and absent ignored", votes: []Vote{Numeric(13), Unknown(), Absent(), Numeric(8)}, want: ptr(10.5)},
		{name: "all unknown", votes: []Vote{Unknown(), Unknown()}, want: nil},
		{name: "nobody voted", votes: []Vote{Absent(), Absent()}, want: nil},
		{name: "no players", votes: nil, want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Average(players(tc.votes...))
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("Average: got %v, want %v", deref(got), deref(tc.want))
			}
			if got != nil && *got != *tc.want {
				t.Fatalf("Average: got %v, want %v", *got, *tc.want)
			}
		})
	}
}

func TestConsensus(t *testing.T) {
	cases := []struct {
		name      string
		votes     []Vote
		wantOK    bool
		wantValue float64
	}{
		{name: "different numbers", votes: []Vote{Numeric(5), Numeric(8)}, wantOK: false},
		{name: "single number", votes: []Vote{Numeric(3)}, wantOK: true, wantValue: 3},
		{name: "all same with unknown and absent", votes: []Vote{Numeric(8), Unknown(), Numeric(8), Absent()}, wantOK: true, wantValue: 8},
		{name: "only unknown", votes: []Vote{Unknown(), Unknown()}, wantOK: false},
		{name: "nobody voted", votes: []Vote{Absent()}, wantOK: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := Consensus(players(tc.votes...))
			if ok != tc.wantOK {
				t.Fatalf("Consensus: got %v, want %v", ok, tc.wantOK)
			}
			if ok && v != tc.wantValue {
				t.Fatalf("Consensus value: got %v, want %v", v, tc.wantValue)
			}
		})
	}
}

func TestVoteProgress(t *testing.T) {
	p := VoteProgress(players(Numeric(5), Unknown(), Absent()))
	if p.Voted != 2 || p.Total != 3 {
		t.Fatalf("got %+v, want 2/3", p)
	}
	if p.Complete() {
		t.Fatalf("2/3 should not be complete")
	}
	if !VoteProgress(players(Numeric(1))).Complete() {
		t.Fatalf("1/1 should be complete")
	}
	if VoteProgress(nil).Complete() {
		t.Fatalf("empty table should not be complete")
	}
}

func TestVoteJSON(t *testing.T) {
	cases := []struct {
		vote Vote
		json string
	}{
		{Absent(), "null"},
		{Numeric(13), "13"},
		{Numeric(0.5), "0.5"},
		{Unknown(), `"?"`},
	}

	for _, tc := range cases {
		t.Run(tc.vote.Kind().String(), func(t *testing.T) {
			b, err := json.Marshal(tc.vote)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tc.json {
				t.Fatalf("marshal: got %s, want %s", b, tc.json)
			}
			var back Vote
			if err := json.Unmarshal(b, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !back.Equal(tc.vote) {
				t.Fatalf("round trip: got %v, want %v", back, tc.vote)
			}
		})
	}
}

func TestVoteUnmarshalRejectsOtherStrings(t *testing.T) {
	var v Vote
	err := json.Unmarshal([]byte(`"coffee"`), &v)
	if !errors.Is(err, ErrMalformedVote) {
		t.Fatalf("want ErrMalformedVote, got %v", err)
	}
}

func TestParseVote(t *testing.T) {
	cases := []struct {
		in      string
		want    Vote
		wantErr error
	}{
		{in: "", want: Absent()},
		{in: "?", want: Unknown()},
		{in: "8", want: Numeric(8)},
		{in: "4", wantErr: ErrOffScale},
		{in: "-1", wantErr: ErrOffScale},
		{in: "eight", wantErr: ErrMalformedVote},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseVote(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestToggle(t *testing.T) {
	if got := Toggle(Numeric(5), Numeric(5)); !got.IsAbsent() {
		t.Fatalf("re-picking the same card should clear, got %v", got)
	}
	if got := Toggle(Numeric(5), Numeric(8)); !got.Equal(Numeric(8)) {
		t.Fatalf("picking another card should replace, got %v", got)
	}
	if got := Toggle(Absent(), Unknown()); !got.IsUnknown() {
		t.Fatalf("got %v, want unknown", got)
	}
}

func TestSessionValidate(t *testing.T) {
	avg := 3.0
	cases := []struct {
		name    string
		s       Session
		wantErr error
	}{
		{
			name: "fresh session",
			s:    NewSession("ABC123", Player{ID: "p1", Name: "Alice"}, time.Now()),
		},
		{
			name:    "average while voting",
			s:       Session{ID: "ABC123", Average: &avg},
			wantErr: ErrAverageBeforeReveal,
		},
		{
			name:    "duplicate player",
			s:       Session{ID: "ABC123", Players: []Player{{ID: "p1"}, {ID: "p1"}}},
			wantErr: ErrDuplicatePlayer,
		},
		{
			name:    "missing id",
			s:       Session{Players: []Player{{ID: "p1"}}},
			wantErr: ErrMissingID,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ID: "X", CreatedAt: now.Add(-ExpiryWindow)}
	if s.Expired(now) {
		t.Fatalf("exactly at the window should still be alive")
	}
	s.CreatedAt = now.Add(-ExpiryWindow - time.Second)
	if !s.Expired(now) {
		t.Fatalf("past the window should be expired")
	}
}

func TestSeatingOrder(t *testing.T) {
	ps := players(Absent(), Absent(), Absent(), Absent())
	got := SeatingOrder(ps, "c")
	want := []string{"c", "d", "a", "b"}
	for i, p := range got {
		if p.ID != want[i] {
			t.Fatalf("seat %d: got %s, want %s", i, p.ID, want[i])
		}
	}
	if ps[0].ID != "a" {
		t.Fatalf("input was reordered")
	}
	if got := SeatingOrder(ps, "zz"); got[0].ID != "a" {
		t.Fatalf("unknown self should keep join order")
	}
}

func ptr(f float64) *float64 { return &f }

func deref(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
