package console

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/math-duel/internal/arena"
	"github.com/DoyleJ11/math-duel/internal/engine"
	"github.com/DoyleJ11/math-duel/internal/quiz"
	"github.com/DoyleJ11/math-duel/internal/session"
)

const rule = "----------------------------------------"

func prompt(in quiz.Input) string {
	if in == "" {
		return "_"
	}
	return string(in) + "_"
}

// RenderRemote draws one session view.
func RenderRemote(v session.View) string {
	var b strings.Builder
	b.WriteString(rule + "\n")

	switch v.Phase {
	case session.PhaseLobby:
		b.WriteString("MATH DUEL\n")
		b.WriteString("  host        create a game\n")
		b.WriteString("  join CODE   join a game\n")
		b.WriteString("  q           quit\n")

	case session.PhaseConnecting:
		if v.Role == session.RoleHost {
			fmt.Fprintf(&b, "Creating game %s...\n", v.Code)
		} else {
			fmt.Fprintf(&b, "Connecting to game %s...\n", v.Code)
		}
		b.WriteString("  x to cancel\n")

	case session.PhaseWaitingForPeer:
		fmt.Fprintf(&b, "Game code: %s\n", v.Code)
		b.WriteString("Waiting for an opponent. Share the code.\n")
		b.WriteString("  x to cancel\n")

	case session.PhaseActive:
		d := v.Duel
		fmt.Fprintf(&b, "Round %d    %s %d : %d %s\n",
			d.Round, v.Me.DisplayName, d.MyScore, d.OpponentScore, v.Opponent.DisplayName)
		fmt.Fprintf(&b, "\n    %s = %s\n\n", d.Question, prompt(d.MyInput))
		switch {
		case d.Winner == session.WinnerMe:
			b.WriteString("You got it!\n")
		case d.Winner == session.WinnerOpponent:
			fmt.Fprintf(&b, "%s got it first. The answer was %d.\n", v.Opponent.DisplayName, d.Question.Answer)
		case d.WrongFlash:
			b.WriteString("Wrong, try again.\n")
		}
		b.WriteString("  type the answer and Enter, b/c to edit, x to leave\n")

	case session.PhaseError:
		b.WriteString("Something went wrong.\n")
		b.WriteString("  host / join CODE to try again, q to quit\n")
	}

	if v.Notice != "" {
		fmt.Fprintf(&b, "! %s\n", v.Notice)
	}
	if len(v.Trace) > 0 && v.Phase != session.PhaseActive {
		b.WriteString("log:\n")
		for _, line := range v.Trace {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}

// RenderLocal draws the two-seat board.
func RenderLocal(snap arena.Snapshot, names [2]string) string {
	s := snap.State
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Round %d    %s\n\n", s.Round, s.Question)

	for i, seat := range engine.Seats {
		st := s.Seat(seat)
		status := ""
		switch {
		case s.Winner == seat:
			status = "  WINS"
		case st.WrongFlash:
			status = "  wrong"
		}
		fmt.Fprintf(&b, "  [%d] %-12s %3d   %s%s\n", i+1, names[i], st.Score, prompt(st.Input), status)
	}
	if s.Winner != engine.SeatNone {
		fmt.Fprintf(&b, "\nAnswer: %d. Next round soon.\n", s.Question.Answer)
	}
	b.WriteString("  \"1 42\" answers for seat one, \"2 b\" backspaces seat two, q quits\n")
	return b.String()
}
