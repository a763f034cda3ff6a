package poker

import "math"

// Average is the mean of the numeric votes rounded to one decimal, or nil
// when nobody put down a number. Absent and unknown votes are ignored.
func Average(players []Player) *float64 {
	var sum float64
	n := 0
	for _, p := range players {
		if v, ok := p.Vote.Value(); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := math.Round(sum/float64(n)*10) / 10
	return &avg
}

// Consensus reports whether every numeric vote is the same card, and which.
// At least one numeric vote is required.
func Consensus(players []Player) (float64, bool) {
	var agreed float64
	found := false
	for _, p := range players {
		switch p.Vote.Kind() {
		case VoteAbsent, VoteUnknown:
			continue
		case VoteNumeric:
			v, _ := p.Vote.Value()
			if !found {
				agreed, found = v, true
				continue
			}
			if v != agreed {
				return 0, false
			}
		}
	}
	return agreed, found
}

type Progress struct {
	Voted int
	Total int
}

func (p Progress) Complete() bool { return p.Total > 0 && p.Voted == p.Total }

// VoteProgress counts players that have cast any card, unknown included.
func VoteProgress(players []Player) Progress {
	p := Progress{Total: len(players)}
	for _, pl := range players {
		if pl.Vote.Cast() {
			p.Voted++
		}
	}
	return p
}

// SeatingOrder rotates players so that selfID comes first, keeping the
// relative join order. The input is not modified.
func SeatingOrder(players []Player, selfID string) []Player {
	out := make([]Player, 0, len(players))
	idx := -1
	for i, p := range players {
		if p.ID == selfID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return append(out, players...)
	}
	out = append(out, players[idx:]...)
	return append(out, players[:idx]...)
}
