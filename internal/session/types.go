package session

import (
	"strings"
	"unicode/utf8"

	"github.com/DoyleJ11/math-duel/internal/quiz"
)

type Role string

const (
	RoleHost  Role = "HOST"
	RoleGuest Role = "GUEST"
)

// Phase is the top-level session state. LOBBY is both initial and where every ended
// session lands; ERROR is terminal for the attempt that produced it.
type Phase string

const (
	PhaseLobby          Phase = "LOBBY"
	PhaseConnecting     Phase = "CONNECTING"
	PhaseWaitingForPeer Phase = "WAITING_FOR_PEER"
	PhaseActive         Phase = "ACTIVE"
	PhaseError          Phase = "ERROR"
)

type Winner string

const (
	WinnerNone     Winner = ""
	WinnerMe       Winner = "ME"
	WinnerOpponent Winner = "OP"
)

type HandshakeState string

const (
	HandshakeIdle        HandshakeState = ""
	HandshakeListening   HandshakeState = "LISTENING"
	HandshakeChannelOpen HandshakeState = "CHANNEL_OPEN"
	HandshakeHelloSent   HandshakeState = "HELLO_SENT"
	HandshakeConfirmed   HandshakeState = "CONFIRMED"
)

type PeerIdentity struct {
	DisplayName string
	Role        Role
}

type DuelState struct {
	Round         int
	Question      quiz.Question
	MyScore       int
	OpponentScore int
	MyInput       quiz.Input
	Winner        Winner
	WrongFlash    bool
	Connected     bool
}

// View is a read-only copy of the session, published after every handled event.
type View struct {
	Version   int
	Phase     Phase
	Role      Role
	Code      Code
	Address   string
	Me        PeerIdentity
	Opponent  PeerIdentity
	Handshake HandshakeState
	Duel      DuelState
	Stalled   bool
	Notice    string
	Err       error
	Trace     []string
}

const (
	MaxNameLength       = 12
	DefaultOpponentName = "Opponent"
)

// NormalizeName trims s and caps it at MaxNameLength runes.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxNameLength {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:MaxNameLength]))
}

func peerName(s string) string {
	if n := NormalizeName(s); n != "" {
		return n
	}
	return DefaultOpponentName
}
