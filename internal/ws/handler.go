// Package ws accepts relay peers over websockets and shuttles their frames to the hub.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/hub"
	"github.com/DoyleJ11/math-duel/pkg/relayproto"
)

const (
	writeTimeout = 3 * time.Second
	// Peers idle longer than this are considered gone.
	readTimeout = 10 * time.Minute
)

// Handler serves GET /v1/peers?id=<address>. An empty id registers anonymously.
// origins lists the browser origins allowed to connect; clients that send no Origin
// header are always accepted.
func Handler(h *hub.Hub, log *zap.Logger, origins []string) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan relayproto.Frame, hub.OutboxSize)
		reply := make(chan hub.Registered, 1)
		h.Inbox() <- hub.Register{ID: r.URL.Query().Get("id"), Outbox: out, Reply: reply}
		reg := <-reply

		if reg.Err != nil {
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			_ = wsjson.Write(ctx, conn, relayproto.Frame{Kind: relayproto.KindError, ID: reg.ID, Error: relayproto.ErrUnavailableID})
			cancel()
			conn.Close(websocket.StatusPolicyViolation, relayproto.ErrUnavailableID)
			return
		}
		id := reg.ID
		defer func() { h.Inbox() <- hub.Unregister{ID: id} }()

		peerLog := log.With(zap.String("id", id))
		peerLog.Info("peer connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			defer conn.Close(websocket.StatusGoingAway, "dropped")
			open := relayproto.Frame{Kind: relayproto.KindOpen, ID: id}
			if err := write(writeCtx, conn, open); err != nil {
				return
			}
			for f := range out {
				if err := write(writeCtx, conn, f); err != nil {
					peerLog.Debug("write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			var f relayproto.Frame
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			err := wsjson.Read(ctx, conn, &f)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					peerLog.Info("peer left")
				default:
					if !errors.Is(err, context.Canceled) {
						peerLog.Info("peer lost", zap.Error(err))
					}
				}
				return
			}
			h.Inbox() <- hub.Route{From: id, Frame: f}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, f relayproto.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
