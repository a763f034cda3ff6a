package poker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var ErrOffScale = errors.New("vote is not on the estimation scale")
var ErrMalformedVote = errors.New("malformed vote")

// UnknownMarker is the card a player picks when they cannot estimate.
const UnknownMarker = "?"

// Scale is the fixed set of numeric cards.
var Scale = []float64{1, 2, 3, 5, 8, 13, 21}

type VoteKind uint8

const (
	VoteAbsent VoteKind = iota
	VoteNumeric
	VoteUnknown
)

func (k VoteKind) String() string {
	switch k {
	case VoteAbsent:
		return "absent"
	case VoteNumeric:
		return "numeric"
	case VoteUnknown:
		return "unknown"
	default:
		return "VoteKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Vote is Absent, Numeric(value) or Unknown. The zero value is Absent.
type Vote struct {
	kind  VoteKind
	value float64
}

func Absent() Vote { return Vote{} }

func Numeric(v float64) Vote { return Vote{kind: VoteNumeric, value: v} }

func Unknown() Vote { return Vote{kind: VoteUnknown} }

func (v Vote) Kind() VoteKind { return v.kind }

// Value returns the numeric estimate and whether there is one.
func (v Vote) Value() (float64, bool) {
	if v.kind != VoteNumeric {
		return 0, false
	}
	return v.value, true
}

func (v Vote) IsAbsent() bool  { return v.kind == VoteAbsent }
func (v Vote) IsUnknown() bool { return v.kind == VoteUnknown }

// Cast reports whether the player has put down any card.
func (v Vote) Cast() bool { return v.kind != VoteAbsent }

func (v Vote) Equal(o Vote) bool {
	if v.kind != o.kind {
		return false
	}
	return v.kind != VoteNumeric || v.value == o.value
}

func (v Vote) String() string {
	switch v.kind {
	case VoteNumeric:
		return strconv.FormatFloat(v.value, 'f', -1, 64)
	case VoteUnknown:
		return UnknownMarker
	default:
		return ""
	}
}

// Validate rejects numeric votes that are not cards of the scale.
func (v Vote) Validate() error {
	switch v.kind {
	case VoteAbsent, VoteUnknown:
		return nil
	case VoteNumeric:
		if !slices.Contains(Scale, v.value) {
			return fmt.Errorf("%w: %s", ErrOffScale, v)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %s", ErrMalformedVote, v.kind)
	}
}

// ParseVote reads a card label: "" is Absent, "?" is Unknown, anything else
// must be a number on the scale.
func ParseVote(s string) (Vote, error) {
	switch s {
	case "":
		return Absent(), nil
	case UnknownMarker:
		return Unknown(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Vote{}, fmt.Errorf("%w: %q", ErrMalformedVote, s)
	}
	v := Numeric(f)
	if err := v.Validate(); err != nil {
		return Vote{}, err
	}
	return v, nil
}

// Toggle is the card-picking policy: picking the card already held clears it.
func Toggle(current, chosen Vote) Vote {
	if current.Equal(chosen) {
		return Absent()
	}
	return chosen
}

// Stored as null, a JSON number, or "?".
func (v Vote) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case VoteAbsent:
		return []byte("null"), nil
	case VoteNumeric:
		return json.Marshal(v.value)
	case VoteUnknown:
		return json.Marshal(UnknownMarker)
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrMalformedVote, v.kind)
	}
}

func (v *Vote) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Absent()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != UnknownMarker {
			return fmt.Errorf("%w: %q", ErrMalformedVote, s)
		}
		*v = Unknown()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedVote, data)
	}
	*v = Numeric(f)
	return nil
}
