package engine

import "github.com/DoyleJ11/math-duel/internal/quiz"

func NewEmptyState() State {
	return State{}
}

// NewState returns a state already in round 1 of q.
func NewState(q quiz.Question) State {
	_, s, err := Apply(NewEmptyState(), Command{Type: CmdStartRound, Question: q})
	if err != nil {
		return NewEmptyState()
	}
	return s
}
