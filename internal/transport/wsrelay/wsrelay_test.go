package wsrelay

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/math-duel/internal/httpapi"
	"github.com/DoyleJ11/math-duel/internal/hub"
	"github.com/DoyleJ11/math-duel/internal/quiz"
	"github.com/DoyleJ11/math-duel/internal/session"
	"github.com/DoyleJ11/math-duel/internal/transport"
)

func newRelay(t *testing.T) (*Network, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, nil)
	srv := httptest.NewServer(httpapi.SetupRoutes(h, nil, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return New("ws"+srv.URL[len("http"):], nil), h
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func next(t *testing.T, ch transport.Channel) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRegister_RejectsTakenAddress(t *testing.T) {
	n, _ := newRelay(t)
	ctx := testCtx(t)

	ep, err := n.Register(ctx, "M-1234")
	require.NoError(t, err)
	require.Equal(t, "M-1234", ep.Address())
	t.Cleanup(func() { _ = ep.Close() })

	_, err = n.Register(ctx, "M-1234")
	require.ErrorIs(t, err, transport.ErrAddressTaken)
}

func TestConnect_UnknownAddressIsUnavailable(t *testing.T) {
	n, h := newRelay(t)

	_, err := n.Connect(testCtx(t), "M-9999")
	require.ErrorIs(t, err, transport.ErrPeerUnavailable)

	// The anonymous registration made for the attempt is released.
	require.Eventually(t, func() bool {
		s, err := h.Stats(context.Background())
		return err == nil && s.Peers == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLink_ExchangesMessagesAndPropagatesClose(t *testing.T) {
	n, _ := newRelay(t)
	ctx := testCtx(t)

	ep, err := n.Register(ctx, "M-1234")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })

	dialer, err := n.Connect(ctx, "M-1234")
	require.NoError(t, err)
	require.Equal(t, "M-1234", dialer.Remote())
	require.IsType(t, transport.Opened{}, next(t, dialer))

	var listener transport.Channel
	select {
	case listener = <-ep.Incoming():
	case <-time.After(3 * time.Second):
		t.Fatal("no incoming link")
	}
	require.IsType(t, transport.Opened{}, next(t, listener))
	require.NotEmpty(t, listener.Remote())

	require.NoError(t, dialer.Send([]byte(`{"type":"HELLO","name":"Dana"}`)))
	require.Equal(t, transport.Message{Payload: []byte(`{"type":"HELLO","name":"Dana"}`)}, next(t, listener))

	require.NoError(t, listener.Send([]byte(`{"type":"OP_WON"}`)))
	require.Equal(t, transport.Message{Payload: []byte(`{"type":"OP_WON"}`)}, next(t, dialer))

	require.NoError(t, dialer.Close())
	require.False(t, dialer.IsOpen())
	require.ErrorIs(t, dialer.Send([]byte("x")), transport.ErrChannelClosed)

	require.IsType(t, transport.Closed{}, next(t, listener))
	require.False(t, listener.IsOpen())
}

func TestEndpointClose_ClosesLinks(t *testing.T) {
	n, h := newRelay(t)
	ctx := testCtx(t)

	ep, err := n.Register(ctx, "M-1234")
	require.NoError(t, err)
	dialer, err := n.Connect(ctx, "M-1234")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dialer.Close() })
	next(t, dialer)

	require.NoError(t, ep.Close())
	require.IsType(t, transport.Closed{}, next(t, dialer))

	_, open := <-ep.Incoming()
	require.False(t, open)

	// The address can be claimed again.
	require.Eventually(t, func() bool {
		s, err := h.Stats(context.Background())
		return err == nil && s.Links == 0
	}, 3*time.Second, 10*time.Millisecond)
	again, err := n.Register(ctx, "M-1234")
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSessions_HandshakeOverRelay(t *testing.T) {
	n, _ := newRelay(t)

	newSession := func() *session.Session {
		s := session.New(context.Background(), session.Config{
			Network:       n,
			Generator:     quiz.NewSequence(quiz.New(6, 7)),
			Codes:         session.FixedCodes("4821"),
			AddressPrefix: "M",
		})
		t.Cleanup(s.Shutdown)
		return s
	}
	host, guest := newSession(), newSession()

	await := func(s *session.Session, cond func(session.View) bool) session.View {
		var last session.View
		require.Eventually(t, func() bool {
			v, err := s.View(context.Background())
			if err != nil {
				return false
			}
			last = v
			return cond(v)
		}, 5*time.Second, 10*time.Millisecond)
		return last
	}

	host.CreateGame("Avi")
	await(host, func(v session.View) bool { return v.Phase == session.PhaseWaitingForPeer })
	guest.JoinGame("Dana", "4821")

	gv := await(guest, func(v session.View) bool { return v.Phase == session.PhaseActive })
	hv := await(host, func(v session.View) bool { return v.Phase == session.PhaseActive })
	require.Equal(t, quiz.New(6, 7), gv.Duel.Question)
	require.Equal(t, hv.Duel.Question, gv.Duel.Question)
	require.Equal(t, "Avi", gv.Opponent.DisplayName)
	require.Equal(t, "Dana", hv.Opponent.DisplayName)

	for _, k := range quiz.Keys("42") {
		guest.Press(k)
	}
	guest.Submit()
	await(host, func(v session.View) bool { return v.Duel.Winner == session.WinnerOpponent })

	guest.Cancel()
	hv = await(host, func(v session.View) bool { return v.Phase == session.PhaseLobby })
	require.ErrorIs(t, hv.Err, session.ErrChannelClosed)
}
