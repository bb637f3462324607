package arena

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/math-duel/internal/engine"
	"github.com/DoyleJ11/math-duel/internal/quiz"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func newTestArena(t *testing.T) (*Arena, *clockwork.FakeClock, chan Snapshot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	a := NewArena(ctx, Config{
		Generator: quiz.NewSequence(quiz.New(6, 7), quiz.New(3, 4)),
		Clock:     clock,
	})

	out := make(chan Snapshot, 32)
	a.Inbox() <- Join{ClientID: "screen", Outbox: out}
	first := recvSnapshot(t, out, 100*time.Millisecond)
	require.Equal(t, 0, first.Version)
	require.Equal(t, quiz.New(6, 7), first.State.Question)
	return a, clock, out
}

func typeAnswer(a *Arena, seat engine.Seat, answer string) {
	for _, k := range quiz.Keys(answer) {
		a.Press(seat, k)
	}
}

func TestArena_WinScoresOnceAndAdvancesAfterDelay(t *testing.T) {
	a, clock, out := newTestArena(t)

	typeAnswer(a, engine.SeatOne, "42")
	a.Submit(engine.SeatOne)
	recvSnapshot(t, out, 100*time.Millisecond)
	recvSnapshot(t, out, 100*time.Millisecond)
	won := recvSnapshot(t, out, 100*time.Millisecond)

	require.Equal(t, engine.SeatOne, won.State.Winner)
	require.Equal(t, 1, won.State.Seat(engine.SeatOne).Score)
	require.Equal(t, 0, won.State.Seat(engine.SeatTwo).Score)

	// Seat two is locked out until the next round.
	typeAnswer(a, engine.SeatTwo, "42")
	a.Submit(engine.SeatTwo)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	clock.Advance(DefaultRoundDelay - time.Millisecond)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	clock.Advance(time.Millisecond)
	next := recvSnapshot(t, out, time.Second)
	require.Equal(t, engine.SeatNone, next.State.Winner)
	require.Equal(t, 2, next.State.Round)
	require.Equal(t, quiz.New(3, 4), next.State.Question)
	require.Equal(t, 1, next.State.Seat(engine.SeatOne).Score)
	require.Equal(t, quiz.Input(""), next.State.Seat(engine.SeatOne).Input)
}

func TestArena_WrongAnswerFlashesOnlyThatSeat(t *testing.T) {
	a, clock, out := newTestArena(t)

	typeAnswer(a, engine.SeatOne, "9")
	typeAnswer(a, engine.SeatTwo, "41")
	a.Submit(engine.SeatTwo)
	var snap Snapshot
	for range 4 {
		snap = recvSnapshot(t, out, 100*time.Millisecond)
	}

	require.True(t, snap.State.Seat(engine.SeatTwo).WrongFlash)
	require.Equal(t, quiz.Input(""), snap.State.Seat(engine.SeatTwo).Input)
	require.False(t, snap.State.Seat(engine.SeatOne).WrongFlash)
	require.Equal(t, quiz.Input("9"), snap.State.Seat(engine.SeatOne).Input)
	require.Equal(t, engine.SeatNone, snap.State.Winner)

	clock.Advance(DefaultFlashDuration)
	cleared := recvSnapshot(t, out, time.Second)
	require.False(t, cleared.State.Seat(engine.SeatTwo).WrongFlash)
	require.Equal(t, 1, cleared.State.Round)
}

func TestArena_RearmedFlashIgnoresEarlierFire(t *testing.T) {
	a, clock, out := newTestArena(t)

	typeAnswer(a, engine.SeatTwo, "41")
	a.Submit(engine.SeatTwo)
	for range 3 {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	// Park the loop so the first flash fire queues behind the second wrong answer.
	reply := make(chan View)
	a.Inbox() <- GetState{Reply: reply}
	require.Eventually(t, func() bool { return len(a.inbox) == 0 }, time.Second, 5*time.Millisecond)
	typeAnswer(a, engine.SeatTwo, "40")
	a.Submit(engine.SeatTwo)
	clock.Advance(DefaultFlashDuration)
	require.Eventually(t, func() bool { return len(a.inbox) == 4 }, time.Second, 5*time.Millisecond)
	<-reply

	var snap Snapshot
	for range 3 {
		snap = recvSnapshot(t, out, 100*time.Millisecond)
	}
	require.True(t, snap.State.Seat(engine.SeatTwo).WrongFlash)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	clock.Advance(DefaultFlashDuration - time.Millisecond)
	recvNoSnapshot(t, out, 50*time.Millisecond)

	clock.Advance(time.Millisecond)
	cleared := recvSnapshot(t, out, time.Second)
	require.False(t, cleared.State.Seat(engine.SeatTwo).WrongFlash)
}

func TestArena_SimultaneousSubmitsHaveOneWinner(t *testing.T) {
	a, _, out := newTestArena(t)

	typeAnswer(a, engine.SeatOne, "42")
	typeAnswer(a, engine.SeatTwo, "42")
	for range 4 {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	var wg sync.WaitGroup
	for _, seat := range engine.Seats {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Submit(seat)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	view, err := a.View(ctx)
	require.NoError(t, err)

	total := view.State.Seat(engine.SeatOne).Score + view.State.Seat(engine.SeatTwo).Score
	require.Equal(t, 1, total)
	require.NotEqual(t, engine.SeatNone, view.State.Winner)
}

func TestArena_Shutdown_StopsTimer_NoFire(t *testing.T) {
	a, clock, out := newTestArena(t)

	typeAnswer(a, engine.SeatTwo, "42")
	a.Submit(engine.SeatTwo)
	for range 3 {
		recvSnapshot(t, out, 100*time.Millisecond)
	}

	a.Inbox() <- Shutdown{}
	<-a.Done()

	clock.Advance(DefaultRoundDelay * 2)
	recvNoSnapshot(t, out, 100*time.Millisecond)
}

func TestArena_DropSlowClient(t *testing.T) {
	a, _, _ := newTestArena(t)

	slow := make(chan Snapshot, 1)
	a.Inbox() <- Join{ClientID: "slow", Outbox: slow}
	typeAnswer(a, engine.SeatOne, "1")

	reply := make(chan View, 1)
	a.Inbox() <- GetState{Reply: reply}
	view := <-reply
	require.Equal(t, 1, view.NumClients, "slow client should be dropped, screen kept")
}
