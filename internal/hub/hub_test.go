package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/math-duel/pkg/relayproto"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, nil)
}

func register(t *testing.T, h *Hub, id string, size int) (string, chan relayproto.Frame) {
	t.Helper()
	out := make(chan relayproto.Frame, size)
	reply := make(chan Registered, 1)
	h.Inbox() <- Register{ID: id, Outbox: out, Reply: reply}
	r := <-reply
	require.NoError(t, r.Err)
	return r.ID, out
}

func recvFrame(t *testing.T, ch <-chan relayproto.Frame) relayproto.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
		return relayproto.Frame{}
	}
}

func TestHub_RegisterRejectsTakenAddress(t *testing.T) {
	h := newTestHub(t)
	id, _ := register(t, h, "M-1234", 4)
	require.Equal(t, "M-1234", id)

	reply := make(chan Registered, 1)
	h.Inbox() <- Register{ID: "M-1234", Outbox: make(chan relayproto.Frame, 1), Reply: reply}
	require.ErrorIs(t, (<-reply).Err, ErrAddressTaken)
}

func TestHub_EmptyIDGetsFreshUUID(t *testing.T) {
	h := newTestHub(t)
	a, _ := register(t, h, "", 4)
	b, _ := register(t, h, "", 4)
	require.Len(t, a, 36)
	require.NotEqual(t, a, b)
}

func TestHub_ConnectForwardAndClose(t *testing.T) {
	h := newTestHub(t)
	host, hostOut := register(t, h, "M-1234", 8)
	guest, guestOut := register(t, h, "", 8)

	h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindConnect, Dst: host, Link: "L1"}}

	incoming := recvFrame(t, hostOut)
	require.Equal(t, relayproto.KindConnect, incoming.Kind)
	require.Equal(t, guest, incoming.Src)
	require.Equal(t, "L1", incoming.Link)

	ack := recvFrame(t, guestOut)
	require.Equal(t, relayproto.KindOpen, ack.Kind)
	require.Equal(t, "L1", ack.Link)

	h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindData, Link: "L1", Payload: []byte(`{"type":"HELLO"}`)}}
	data := recvFrame(t, hostOut)
	require.Equal(t, relayproto.KindData, data.Kind)
	require.Equal(t, []byte(`{"type":"HELLO"}`), data.Payload)

	h.Inbox() <- Route{From: host, Frame: relayproto.Frame{Kind: relayproto.KindData, Link: "L1", Payload: []byte("x")}}
	require.Equal(t, host, recvFrame(t, guestOut).Src)

	h.Inbox() <- Route{From: host, Frame: relayproto.Frame{Kind: relayproto.KindClose, Link: "L1"}}
	closed := recvFrame(t, guestOut)
	require.Equal(t, relayproto.KindClose, closed.Kind)

	stats, err := h.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, relayproto.Stats{Peers: 2, Links: 0}, stats)
}

func TestHub_ConnectToUnknownAddress(t *testing.T) {
	h := newTestHub(t)
	guest, out := register(t, h, "", 4)

	h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindConnect, Dst: "M-9999", Link: "L1"}}
	f := recvFrame(t, out)
	require.Equal(t, relayproto.KindError, f.Kind)
	require.Equal(t, relayproto.ErrPeerUnavailable, f.Error)
	require.Equal(t, "L1", f.Link)
}

func TestHub_UnregisterClosesLinks(t *testing.T) {
	h := newTestHub(t)
	host, hostOut := register(t, h, "M-1234", 8)
	guest, guestOut := register(t, h, "", 8)

	h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindConnect, Dst: host, Link: "L1"}}
	recvFrame(t, hostOut)
	recvFrame(t, guestOut)

	h.Inbox() <- Unregister{ID: host}
	f := recvFrame(t, guestOut)
	require.Equal(t, relayproto.KindClose, f.Kind)
	require.Equal(t, "L1", f.Link)

	_, open := <-hostOut
	require.False(t, open)

	// The address is free again.
	id, _ := register(t, h, "M-1234", 4)
	require.Equal(t, "M-1234", id)
}

func TestHub_DropsSlowPeer(t *testing.T) {
	h := newTestHub(t)
	host, hostOut := register(t, h, "M-1234", 1)
	guest, _ := register(t, h, "", 8)

	h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindConnect, Dst: host, Link: "L1"}}
	for i := 0; i < 3; i++ {
		h.Inbox() <- Route{From: guest, Frame: relayproto.Frame{Kind: relayproto.KindData, Link: "L1", Payload: []byte("x")}}
	}

	require.Eventually(t, func() bool {
		s, err := h.Stats(context.Background())
		return err == nil && s.Peers == 1 && s.Links == 0
	}, time.Second, 5*time.Millisecond)

	// The buffered frame is still readable, then the outbox is closed.
	require.Equal(t, relayproto.KindConnect, recvFrame(t, hostOut).Kind)
	_, open := <-hostOut
	require.False(t, open)
}

func TestHub_ShutdownClosesOutboxes(t *testing.T) {
	h := NewHub(context.Background(), nil)
	_, out := register(t, h, "M-1234", 4)

	h.Inbox() <- ShutdownHub{}
	<-h.Done()
	_, open := <-out
	require.False(t, open)
}
