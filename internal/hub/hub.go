// Package hub is the relay's switchboard: it maps addresses to connected peers and
// links to their two ends, and forwards frames between them.
package hub

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/pkg/relayproto"
)

var ErrAddressTaken = errors.New("address already registered")

// OutboxSize is the per-peer frame buffer. A peer that lets it fill up is dropped.
const OutboxSize = 64

type HubMsg interface{ isHubMsg() }

// Register claims ID for a peer. An empty ID gets a fresh uuid.
type Register struct {
	ID     string
	Outbox chan relayproto.Frame
	Reply  chan Registered
}

type Registered struct {
	ID  string
	Err error
}

type Unregister struct {
	ID string
}

// Route handles one frame sent by peer From.
type Route struct {
	From  string
	Frame relayproto.Frame
}

type GetStats struct {
	Reply chan relayproto.Stats
}

type ShutdownHub struct{}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Route) isHubMsg()       {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

type link struct {
	a, b string
}

func (l link) other(id string) (string, bool) {
	switch id {
	case l.a:
		return l.b, true
	case l.b:
		return l.a, true
	}
	return "", false
}

type Hub struct {
	inbox  chan HubMsg
	peers  map[string]chan relayproto.Frame
	links  map[string]link
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		peers:  make(map[string]chan relayproto.Frame),
		links:  make(map[string]link),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log.Named("hub"),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				msg.Reply <- h.register(msg)

			case Unregister:
				h.drop(msg.ID)

			case Route:
				h.route(msg.From, msg.Frame)

			case GetStats:
				msg.Reply <- relayproto.Stats{Peers: len(h.peers), Links: len(h.links)}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) register(msg Register) Registered {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, taken := h.peers[id]; taken {
		h.log.Info("address taken", zap.String("id", id))
		return Registered{ID: id, Err: ErrAddressTaken}
	}
	h.peers[id] = msg.Outbox
	h.log.Info("peer registered", zap.String("id", id), zap.Int("peers", len(h.peers)))
	return Registered{ID: id}
}

func (h *Hub) route(from string, f relayproto.Frame) {
	if _, ok := h.peers[from]; !ok {
		return
	}

	switch f.Kind {
	case relayproto.KindConnect:
		h.connect(from, f)

	case relayproto.KindData:
		l, ok := h.links[f.Link]
		if !ok {
			return
		}
		if to, ok := l.other(from); ok {
			h.send(to, relayproto.Frame{Kind: relayproto.KindData, Src: from, Link: f.Link, Payload: f.Payload})
		}

	case relayproto.KindClose:
		h.closeLink(f.Link, from)

	default:
		h.send(from, relayproto.Frame{Kind: relayproto.KindError, Link: f.Link, Error: relayproto.ErrBadFrame})
	}
}

func (h *Hub) connect(from string, f relayproto.Frame) {
	if f.Link == "" || f.Dst == from {
		h.send(from, relayproto.Frame{Kind: relayproto.KindError, Link: f.Link, Error: relayproto.ErrBadFrame})
		return
	}
	if _, exists := h.links[f.Link]; exists {
		h.send(from, relayproto.Frame{Kind: relayproto.KindError, Link: f.Link, Error: relayproto.ErrBadFrame})
		return
	}
	if _, ok := h.peers[f.Dst]; !ok {
		h.send(from, relayproto.Frame{Kind: relayproto.KindError, Link: f.Link, Dst: f.Dst, Error: relayproto.ErrPeerUnavailable})
		return
	}

	h.links[f.Link] = link{a: from, b: f.Dst}
	h.log.Debug("link opened", zap.String("link", f.Link), zap.String("src", from), zap.String("dst", f.Dst))
	// The target learns of the link before the opener is told it may send.
	h.send(f.Dst, relayproto.Frame{Kind: relayproto.KindConnect, Src: from, Link: f.Link})
	h.send(from, relayproto.Frame{Kind: relayproto.KindOpen, Link: f.Link, Dst: f.Dst})
}

// closeLink removes the link and tells the end that did not ask.
func (h *Hub) closeLink(id, from string) {
	l, ok := h.links[id]
	if !ok {
		return
	}
	to, ok := l.other(from)
	if !ok {
		return
	}
	delete(h.links, id)
	h.send(to, relayproto.Frame{Kind: relayproto.KindClose, Link: id})
}

// send delivers without blocking the hub. A full outbox drops the peer.
func (h *Hub) send(to string, f relayproto.Frame) {
	out, ok := h.peers[to]
	if !ok {
		return
	}
	select {
	case out <- f:
	default:
		h.log.Warn("dropping slow peer", zap.String("id", to))
		h.drop(to)
	}
}

// drop forgets a peer, closes its outbox and closes every link it was part of.
func (h *Hub) drop(id string) {
	out, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	close(out)

	for lid, l := range h.links {
		if to, ok := l.other(id); ok {
			delete(h.links, lid)
			h.send(to, relayproto.Frame{Kind: relayproto.KindClose, Link: lid})
		}
	}
	h.log.Info("peer left", zap.String("id", id), zap.Int("peers", len(h.peers)))
}

func (h *Hub) shutdown() {
	for id, out := range h.peers {
		close(out)
		delete(h.peers, id)
	}
	clear(h.links)
}

// Stats asks the hub for its current counts.
func (h *Hub) Stats(ctx context.Context) (relayproto.Stats, error) {
	reply := make(chan relayproto.Stats, 1)
	select {
	case h.inbox <- GetStats{Reply: reply}:
	case <-ctx.Done():
		return relayproto.Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return relayproto.Stats{}, ctx.Err()
	}
}
