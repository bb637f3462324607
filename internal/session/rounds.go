package session

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/protocol"
	"github.com/DoyleJ11/math-duel/internal/quiz"
)

// accepting reports whether local input counts right now.
func (s *Session) accepting() (*sessionContext, bool) {
	sc := s.sc
	if s.phase != PhaseActive || sc == nil || !sc.duel.Connected {
		return nil, false
	}
	return sc, sc.duel.Winner == WinnerNone
}

func (s *Session) press(key quiz.Key) {
	sc, ok := s.accepting()
	if !ok || !key.Valid() {
		return
	}
	sc.duel.MyInput = sc.duel.MyInput.Press(key)
}

// submit judges the local buffer against the question this side holds. A correct
// answer is claimed immediately and announced with OP_WON.
func (s *Session) submit() {
	sc, ok := s.accepting()
	if !ok {
		return
	}
	answer, parsed := sc.duel.MyInput.Value()
	if !parsed {
		return
	}

	if answer != sc.duel.Question.Answer {
		sc.duel.MyInput = ""
		sc.duel.WrongFlash = true
		s.armTimer(sc, timerWrongFlash, s.cfg.Timings.WrongFlash)
		return
	}

	sc.duel.Winner = WinnerMe
	sc.duel.MyScore++
	sc.duel.WrongFlash = false
	s.stopTimer(sc, timerWrongFlash)
	s.send(sc, protocol.OpWon())
	s.tracef("won round %d", sc.duel.Round)
	s.log.Info("round won",
		zap.Int("round", sc.duel.Round),
		zap.Int("score", sc.duel.MyScore))

	if sc.role == RoleHost {
		s.scheduleRound(sc)
	}
}

// onOpWon records the peer's claim. A local win already set for this round stands;
// the opponent counter still follows the peer's own bookkeeping.
func (s *Session) onOpWon(sc *sessionContext) {
	if !sc.duel.Connected || sc.opWonRound == sc.duel.Round {
		return
	}
	sc.opWonRound = sc.duel.Round
	sc.duel.OpponentScore++

	if sc.duel.Winner == WinnerMe {
		s.tracef("both sides claimed round %d", sc.duel.Round)
		s.log.Info("double win", zap.Int("round", sc.duel.Round))
	} else {
		sc.duel.Winner = WinnerOpponent
		sc.duel.WrongFlash = false
		s.stopTimer(sc, timerWrongFlash)
		s.tracef("%s won round %d", sc.opponent.DisplayName, sc.duel.Round)
	}

	if sc.role == RoleHost {
		s.scheduleRound(sc)
	}
}

// scheduleRound arms the next-round timer once per round.
func (s *Session) scheduleRound(sc *sessionContext) {
	if s.timerArmed(sc, timerRoundAdvance) {
		return
	}
	s.armTimer(sc, timerRoundAdvance, s.cfg.Timings.RoundDelay)
}

func (s *Session) advanceRound(sc *sessionContext) {
	if sc.role != RoleHost || !sc.duel.Connected {
		return
	}
	s.startRound(sc, s.cfg.Generator.Next())
	s.send(sc, protocol.NewRound(sc.duel.Question))
	s.tracef("round %d: %s", sc.duel.Round, sc.duel.Question)
}

func (s *Session) onNewRound(sc *sessionContext, m protocol.Message) {
	if sc.role != RoleGuest {
		s.tracef("ignored NEW_ROUND as host")
		return
	}
	if !sc.duel.Connected {
		return
	}
	s.startRound(sc, m.Question())
}

func (s *Session) startRound(sc *sessionContext, q quiz.Question) {
	s.stopTimer(sc, timerWrongFlash)
	sc.duel.Round++
	sc.duel.Question = q
	sc.duel.MyInput = ""
	sc.duel.Winner = WinnerNone
	sc.duel.WrongFlash = false
}
