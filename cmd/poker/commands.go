package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/DoyleJ11/planning-poker/internal/coordinator"
	"github.com/DoyleJ11/planning-poker/internal/poker"
)

const usage = `commands:
  create <name>        start a session
  join <code> <name>   join a session
  vote <card>          cast 1 2 3 5 8 13 21 or ?; the same card again clears it
  reveal | reset       show votes / start a new round
  leave | quit`

var errUsage = errors.New("bad command, try again")

// exec runs one command line. The bool asks the loop to stop.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	args := fields[1:]

	switch fields[0] {
	case "create":
		if len(args) == 0 {
			return false, errUsage
		}
		code, err := s.c.CreateSession(ctx, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		s.out.println("session code:", code)
	case "join":
		if len(args) < 2 {
			return false, errUsage
		}
		return false, s.c.JoinSession(ctx, args[0], strings.Join(args[1:], " "))
	case "vote":
		if len(args) != 1 {
			return false, errUsage
		}
		chosen, err := poker.ParseVote(args[0])
		if err != nil {
			return false, err
		}
		current := poker.Absent()
		if p := s.c.State().Player; p != nil {
			current = p.Vote
		}
		return false, s.c.SubmitVote(ctx, poker.Toggle(current, chosen))
	case "reveal":
		return false, s.c.RevealVotes(ctx)
	case "reset":
		return false, s.c.ResetSession(ctx)
	case "leave":
		s.c.LeaveSession()
	case "quit", "exit":
		return true, nil
	case "help":
		s.out.println(usage)
	default:
		return false, errUsage
	}
	return false, nil
}

// printer renders views as they arrive. Repeated identical frames are
// skipped.
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, a...)
}

func (p *printer) OnViewChanged(v coordinator.View) {
	frame := render(v)
	p.mu.Lock()
	defer p.mu.Unlock()
	if frame == p.last {
		return
	}
	p.last = frame
	fmt.Fprint(p.w, frame)
}

func render(v coordinator.View) string {
	var b strings.Builder
	if v.Err != nil {
		fmt.Fprintf(&b, "! %s\n", v.ErrorMessage())
	}
	if !v.Active() {
		if v.Loading {
			b.WriteString("...\n")
		}
		return b.String()
	}

	s := v.Session
	fmt.Fprintf(&b, "== %s [%s]", s.ID, v.Phase)
	if v.Loading {
		b.WriteString(" ...")
	}
	b.WriteString("\n")

	for _, pl := range v.Seating {
		me := " "
		if v.Player != nil && pl.ID == v.Player.ID {
			me = "*"
		}
		fmt.Fprintf(&b, " %s %-16s %s\n", me, pl.Name, card(pl.Vote, s.Revealed))
	}

	if !s.Revealed {
		fmt.Fprintf(&b, "   %d/%d voted\n", v.Progress.Voted, v.Progress.Total)
		return b.String()
	}
	avg := "-"
	if s.Average != nil {
		avg = strconv.FormatFloat(*s.Average, 'f', 1, 64)
	}
	fmt.Fprintf(&b, "   average %s", avg)
	if v.Consensus != nil {
		fmt.Fprintf(&b, ", consensus on %s", strconv.FormatFloat(*v.Consensus, 'f', -1, 64))
	}
	b.WriteString("\n")
	return b.String()
}

// card hides cast votes until the round is revealed.
func card(v poker.Vote, revealed bool) string {
	switch {
	case v.IsAbsent():
		return "."
	case !revealed:
		return "#"
	default:
		return v.String()
	}
}
