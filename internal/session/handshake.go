package session

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/protocol"
)

// guestChannelOpen sends the first HELLO and starts the resend timer. HELLO repeats
// every HelloRetry until a WELCOME arrives, since the first one may be lost while the
// host is still wiring its side of the channel.
func (s *Session) guestChannelOpen(sc *sessionContext) {
	sc.handshake = HandshakeChannelOpen
	s.tracef("channel open, saying hello")
	s.sendHello(sc)
}

func (s *Session) sendHello(sc *sessionContext) {
	s.send(sc, protocol.Hello(sc.me.DisplayName))
	sc.handshake = HandshakeHelloSent
	s.armTimer(sc, timerHelloRetry, s.cfg.Timings.HelloRetry)
}

func (s *Session) retryHello(sc *sessionContext) {
	if sc.handshake != HandshakeHelloSent || !sc.adapter.Open() {
		return
	}
	s.tracef("no welcome yet, resending hello")
	s.sendHello(sc)
}

// softTimeout is advisory: the attempt keeps waiting and the user may cancel.
func (s *Session) softTimeout(sc *sessionContext) {
	if sc.duel.Connected {
		return
	}
	sc.stalled = true
	s.notice = ErrHandshakeStall.Error()
	s.tracef("handshake stalled")
}

// hostOnHello confirms the guest. Duplicates are answered with a WELCOME carrying the
// live question and never reset the duel.
func (s *Session) hostOnHello(sc *sessionContext, m protocol.Message) {
	if sc.role != RoleHost {
		s.tracef("ignored HELLO as guest")
		return
	}

	if !sc.duel.Connected {
		sc.opponent = PeerIdentity{DisplayName: peerName(m.Name), Role: RoleGuest}
		sc.duel = DuelState{
			Round:     1,
			Question:  s.cfg.Generator.Next(),
			Connected: true,
		}
		sc.opWonRound = 0
		sc.handshake = HandshakeConfirmed
		s.phase = PhaseActive
		s.notice = ""
		s.tracef("%s joined", sc.opponent.DisplayName)
		s.log.Info("guest confirmed",
			zap.String("address", sc.address),
			zap.String("guest", sc.opponent.DisplayName),
			zap.Stringer("question", sc.duel.Question))
	} else {
		s.tracef("duplicate hello, resending welcome")
	}

	s.send(sc, protocol.Welcome(sc.me.DisplayName, sc.duel.Question))
}

func (s *Session) guestOnWelcome(sc *sessionContext, m protocol.Message) {
	if sc.role != RoleGuest {
		s.tracef("ignored WELCOME as host")
		return
	}
	if sc.handshake == HandshakeConfirmed {
		return
	}

	s.stopTimer(sc, timerHelloRetry)
	s.stopTimer(sc, timerSoftTimeout)

	sc.opponent = PeerIdentity{DisplayName: peerName(m.Name), Role: RoleHost}
	sc.duel = DuelState{
		Round:     1,
		Question:  m.Question(),
		Connected: true,
	}
	sc.opWonRound = 0
	sc.handshake = HandshakeConfirmed
	sc.stalled = false
	s.phase = PhaseActive
	s.notice = ""
	s.tracef("joined %s", sc.opponent.DisplayName)
	s.log.Info("host confirmed",
		zap.String("address", sc.address),
		zap.String("host", sc.opponent.DisplayName),
		zap.Stringer("question", sc.duel.Question))
}
