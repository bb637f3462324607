package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/math-duel/internal/protocol"
	"github.com/DoyleJ11/math-duel/internal/quiz"
	"github.com/DoyleJ11/math-duel/internal/transport"
)

func TestRounds_GuestWinThenHostAdvancesAfterDelay(t *testing.T) {
	tn := newTestNet()
	host, guest := startDuel(t, tn, quiz.NewSequence(quiz.New(6, 7), quiz.New(5, 9)), "4821")

	hv := await(t, host, inPhase(PhaseActive))
	require.Equal(t, "Dana", hv.Opponent.DisplayName)
	gv := await(t, guest, inPhase(PhaseActive))
	require.Equal(t, "Avi", gv.Opponent.DisplayName)
	require.Equal(t, quiz.New(6, 7), gv.Duel.Question)

	typeAnswer(guest, "42")
	guest.Submit()

	gv = await(t, guest, func(v View) bool { return v.Duel.Winner == WinnerMe })
	require.Equal(t, 1, gv.Duel.MyScore)
	hv = await(t, host, func(v View) bool { return v.Duel.Winner == WinnerOpponent })
	require.Equal(t, 1, hv.Duel.OpponentScore)
	require.Equal(t, 0, hv.Duel.MyScore)

	tn.clock.Advance(1999 * time.Millisecond)
	require.Never(t, func() bool {
		v, err := viewNow(guest)
		return err == nil && v.Duel.Round != 1
	}, 50*time.Millisecond, pollTick)

	tn.clock.Advance(time.Millisecond)

	for _, s := range []*Session{host, guest} {
		v := await(t, s, func(v View) bool { return v.Duel.Round == 2 })
		require.Equal(t, quiz.New(5, 9), v.Duel.Question)
		require.Equal(t, WinnerNone, v.Duel.Winner)
		require.Empty(t, v.Duel.MyInput)
	}
}

func TestRounds_HostWinIsLockedForBothSides(t *testing.T) {
	tn := newTestNet()
	host, guest := startDuel(t, tn, quiz.NewSequence(quiz.New(6, 7), quiz.New(3, 4)), "1234")

	typeAnswer(host, "42")
	host.Submit()
	await(t, host, func(v View) bool { return v.Duel.Winner == WinnerMe })
	await(t, guest, func(v View) bool { return v.Duel.Winner == WinnerOpponent })

	// Input is ignored once the round is decided.
	typeAnswer(guest, "42")
	guest.Submit()
	gv := await(t, guest, inPhase(PhaseActive))
	require.Empty(t, gv.Duel.MyInput)
	require.Equal(t, 0, gv.Duel.MyScore)
	require.Equal(t, 1, gv.Duel.OpponentScore)

	tn.clock.Advance(2 * time.Second)
	gv = await(t, guest, func(v View) bool { return v.Duel.Round == 2 })
	require.Equal(t, quiz.New(3, 4), gv.Duel.Question)

	typeAnswer(guest, "12")
	guest.Submit()
	await(t, guest, func(v View) bool { return v.Duel.MyScore == 1 })
	hv := await(t, host, func(v View) bool { return v.Duel.OpponentScore == 1 })
	require.Equal(t, 1, hv.Duel.MyScore)
}

func TestRounds_WrongAnswerFlashesAndClears(t *testing.T) {
	tn := newTestNet()
	host, guest := startDuel(t, tn, quiz.NewSequence(quiz.New(6, 7)), "1234")

	typeAnswer(guest, "41")
	guest.Submit()

	gv := await(t, guest, func(v View) bool { return v.Duel.WrongFlash })
	require.Empty(t, gv.Duel.MyInput)
	require.Equal(t, WinnerNone, gv.Duel.Winner)
	require.Equal(t, 1, gv.Duel.Round)

	hv := await(t, host, inPhase(PhaseActive))
	require.False(t, hv.Duel.WrongFlash)

	tn.clock.Advance(500 * time.Millisecond)
	await(t, guest, func(v View) bool { return !v.Duel.WrongFlash })
}

func TestRounds_EmptySubmitIsNoop(t *testing.T) {
	tn := newTestNet()
	_, guest := startDuel(t, tn, quiz.NewSequence(quiz.New(6, 7)), "1234")

	guest.Submit()
	guest.Press(quiz.KeyBackspace)
	guest.Submit()

	v := await(t, guest, inPhase(PhaseActive))
	require.False(t, v.Duel.WrongFlash)
	require.Equal(t, WinnerNone, v.Duel.Winner)
}

func TestRounds_InputCappedAndEditable(t *testing.T) {
	tn := newTestNet()
	_, guest := startDuel(t, tn, quiz.NewSequence(quiz.New(6, 7)), "1234")

	typeAnswer(guest, "123456")
	v := await(t, guest, func(v View) bool { return v.Duel.MyInput == "1234" })
	require.Len(t, string(v.Duel.MyInput), quiz.MaxInputDigits)

	guest.Press(quiz.KeyBackspace)
	await(t, guest, func(v View) bool { return v.Duel.MyInput == "123" })
	guest.Press(quiz.KeyClear)
	await(t, guest, func(v View) bool { return v.Duel.MyInput == "" })
}

// rawHost plays the host side by hand so the guest can be driven into races.
func rawHost(t *testing.T, tn *testNet, guest *Session, q quiz.Question) transport.Channel {
	t.Helper()
	ep, err := tn.net.Register(context.Background(), "M-1234")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	guest.JoinGame("Dana", "1234")
	ch := acceptRaw(t, ep)
	hello, _ := recvMessage(t, ch)
	require.Equal(t, protocol.TypeHello, hello.Type)
	sendRaw(t, ch, protocol.Welcome("Avi", q))
	await(t, guest, inPhase(PhaseActive))
	return ch
}

func TestRounds_OpWonDoesNotDemoteLocalWin(t *testing.T) {
	tn := newTestNet()
	guest := tn.session(t, quiz.NewSequence())
	ch := rawHost(t, tn, guest, quiz.New(6, 7))

	typeAnswer(guest, "42")
	guest.Submit()
	await(t, guest, func(v View) bool { return v.Duel.Winner == WinnerMe })

	claim, _ := recvMessage(t, ch)
	require.Equal(t, protocol.TypeOpWon, claim.Type)

	sendRaw(t, ch, protocol.OpWon())
	v := await(t, guest, func(v View) bool { return v.Duel.OpponentScore == 1 })
	require.Equal(t, WinnerMe, v.Duel.Winner)
	require.Equal(t, 1, v.Duel.MyScore)

	// A repeated claim for the same round is counted once.
	sendRaw(t, ch, protocol.OpWon())
	sendRaw(t, ch, protocol.NewRound(quiz.New(8, 9)))
	v = await(t, guest, func(v View) bool { return v.Duel.Round == 2 })
	require.Equal(t, 1, v.Duel.OpponentScore)
	require.Equal(t, WinnerNone, v.Duel.Winner)
	require.Equal(t, quiz.New(8, 9), v.Duel.Question)
}

func TestRounds_HostAdvancesOnceAfterDoubleWin(t *testing.T) {
	tn := newTestNet()
	host := tn.session(t, quiz.NewSequence(quiz.New(6, 7), quiz.New(4, 4), quiz.New(5, 5)))
	host.CreateGame("Avi")
	await(t, host, inPhase(PhaseWaitingForPeer))

	ch, err := tn.net.Connect(context.Background(), "M-1234")
	require.NoError(t, err)
	sendRaw(t, ch, protocol.Hello("Dana"))
	recvMessage(t, ch)
	await(t, host, inPhase(PhaseActive))

	typeAnswer(host, "42")
	host.Submit()
	await(t, host, func(v View) bool { return v.Duel.Winner == WinnerMe })
	claim, _ := recvMessage(t, ch)
	require.Equal(t, protocol.TypeOpWon, claim.Type)

	sendRaw(t, ch, protocol.OpWon())
	v := await(t, host, func(v View) bool { return v.Duel.OpponentScore == 1 })
	require.Equal(t, WinnerMe, v.Duel.Winner)

	tn.clock.Advance(2 * time.Second)
	next, _ := recvMessage(t, ch)
	require.Equal(t, protocol.TypeNewRound, next.Type)
	require.Equal(t, quiz.New(4, 4), next.Question())

	v = await(t, host, func(v View) bool { return v.Duel.Round == 2 })
	require.Equal(t, quiz.New(4, 4), v.Duel.Question)

	select {
	case ev := <-ch.Events():
		t.Fatalf("expected a single NEW_ROUND, got %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRounds_WrongDirectionMessagesIgnored(t *testing.T) {
	tn := newTestNet()
	host := tn.session(t, quiz.NewSequence(quiz.New(6, 7)))
	host.CreateGame("Avi")
	await(t, host, inPhase(PhaseWaitingForPeer))

	ch, err := tn.net.Connect(context.Background(), "M-1234")
	require.NoError(t, err)
	sendRaw(t, ch, protocol.Hello("Dana"))
	recvMessage(t, ch)

	sendRaw(t, ch, protocol.NewRound(quiz.New(9, 9)))
	sendRaw(t, ch, protocol.Welcome("Dana", quiz.New(8, 8)))

	v := await(t, host, func(v View) bool {
		return len(v.Trace) > 0 && strings.HasSuffix(v.Trace[len(v.Trace)-1], "ignored WELCOME as host")
	})
	require.Equal(t, quiz.New(6, 7), v.Duel.Question)
	require.Equal(t, 1, v.Duel.Round)
}
