// Package natsbus implements transport.Network over NATS core subjects.
//
// A registered address answers two subjects: duel.<address>.ping, used by would-be
// registrants to detect a holder, and duel.<address>.connect, which opens a link.
// Each link is a pair of subjects duel.link.<id>.host and duel.link.<id>.guest.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/transport"
)

const (
	HeaderLink = "Duel-Link"
	HeaderKind = "Duel-Kind"
	kindClose  = "close"

	eventBuffer    = 256
	incomingBuffer = 8
	probeTimeout   = 500 * time.Millisecond
	// claimWindow is how long Register listens for rival holders after subscribing.
	claimWindow = 150 * time.Millisecond
)

type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
	}
}

type Network struct {
	nc  *nats.Conn
	log *zap.Logger
}

// Dial connects to the NATS server in cfg.
func Dial(cfg Config, log *zap.Logger) (*Network, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("natsbus")

	opts := []nats.Option{
		nats.Name("math-duel"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return &Network{nc: nc, log: log}, nil
}

// Close drains the connection.
func (n *Network) Close() error {
	return n.nc.Drain()
}

func pingSubject(address string) string    { return "duel." + address + ".ping" }
func connectSubject(address string) string { return "duel." + address + ".connect" }
func linkSubject(link, side string) string { return "duel.link." + link + "." + side }

func (n *Network) Register(ctx context.Context, address string) (transport.Endpoint, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := n.nc.RequestWithContext(probeCtx, pingSubject(address), nil)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s: %w", address, transport.ErrAddressTaken)
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
	default:
		return nil, fmt.Errorf("probe %s: %w", address, err)
	}

	ep := &endpoint{
		net:      n,
		address:  address,
		claim:    uuid.NewString(),
		incoming: make(chan transport.Channel, incomingBuffer),
	}
	ping, err := n.nc.Subscribe(pingSubject(address), func(m *nats.Msg) {
		_ = m.Respond([]byte(ep.claim))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", address, err)
	}
	conn, err := n.nc.Subscribe(connectSubject(address), ep.accept)
	if err != nil {
		_ = ping.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", address, err)
	}
	ep.subs = []*nats.Subscription{ping, conn}

	if err := n.confirmClaim(ctx, address, ep.claim); err != nil {
		return nil, multierr.Append(err, ep.Close())
	}
	return ep, nil
}

// confirmClaim pings address again now that this endpoint answers it. The probe and
// the subscribe are two steps, so two registrants can both pass the probe; each then
// sees the other's pong here and backs off.
func (n *Network) confirmClaim(ctx context.Context, address, claim string) error {
	inbox := nats.NewInbox()
	sub, err := n.nc.SubscribeSync(inbox)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", address, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := n.nc.PublishRequest(pingSubject(address), inbox, nil); err != nil {
		return fmt.Errorf("confirm %s: %w", address, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, claimWindow)
	defer cancel()
	for {
		m, err := sub.NextMsgWithContext(waitCtx)
		switch {
		case err == nil:
			if string(m.Data) != claim {
				return fmt.Errorf("%s: %w", address, transport.ErrAddressTaken)
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return nil
		default:
			return fmt.Errorf("confirm %s: %w", address, err)
		}
	}
}

func (n *Network) Connect(ctx context.Context, address string) (transport.Channel, error) {
	link := uuid.NewString()
	ch, err := newChannel(n, link, address, "guest", "host")
	if err != nil {
		return nil, err
	}

	req := nats.NewMsg(connectSubject(address))
	req.Header.Set(HeaderLink, link)
	if _, err := n.nc.RequestMsgWithContext(ctx, req); err != nil {
		_ = ch.sub.Unsubscribe()
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%s: %w", address, transport.ErrPeerUnavailable)
		}
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return ch, nil
}

type endpoint struct {
	net     *Network
	address string
	claim   string
	subs    []*nats.Subscription

	mu       sync.Mutex
	closed   bool
	incoming chan transport.Channel
}

func (e *endpoint) Address() string                    { return e.address }
func (e *endpoint) Incoming() <-chan transport.Channel { return e.incoming }

func (e *endpoint) accept(m *nats.Msg) {
	link := m.Header.Get(HeaderLink)
	if link == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	ch, err := newChannel(e.net, link, "guest:"+link, "host", "guest")
	if err != nil {
		e.net.log.Warn("accept link", zap.String("link", link), zap.Error(err))
		return
	}
	select {
	case e.incoming <- ch:
		_ = m.Respond([]byte("ok"))
	default:
		e.net.log.Warn("incoming backlog full, refusing link", zap.String("link", link))
		_ = ch.sub.Unsubscribe()
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	for _, s := range e.subs {
		err = multierr.Append(err, ignoreClosed(s.Unsubscribe()))
	}
	close(e.incoming)
	return err
}

type channel struct {
	net    *Network
	remote string
	out    string
	sub    *nats.Subscription

	mu     sync.Mutex
	open   bool
	events chan transport.Event
}

// newChannel subscribes to the local side's subject before the link is announced so
// no early message is missed.
func newChannel(n *Network, link, remote, local, peer string) (*channel, error) {
	ch := &channel{
		net:    n,
		remote: remote,
		out:    linkSubject(link, peer),
		open:   true,
		events: make(chan transport.Event, eventBuffer),
	}
	ch.events <- transport.Opened{}
	sub, err := n.nc.Subscribe(linkSubject(link, local), ch.receive)
	if err != nil {
		return nil, fmt.Errorf("subscribe link %s: %w", link, err)
	}
	ch.sub = sub
	return ch, nil
}

func (ch *channel) Remote() string                  { return ch.remote }
func (ch *channel) Events() <-chan transport.Event { return ch.events }

func (ch *channel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

func (ch *channel) receive(m *nats.Msg) {
	if m.Header.Get(HeaderKind) == kindClose {
		if ch.finish() {
			_ = ch.sub.Unsubscribe()
		}
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return
	}
	select {
	case ch.events <- transport.Message{Payload: m.Data}:
	default:
		ch.net.log.Warn("event buffer full, dropping", zap.String("subject", ch.out))
	}
}

func (ch *channel) Send(payload []byte) error {
	if !ch.IsOpen() {
		return transport.ErrChannelClosed
	}
	if err := ch.net.nc.Publish(ch.out, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (ch *channel) Close() error {
	if !ch.finish() {
		return nil
	}
	bye := nats.NewMsg(ch.out)
	bye.Header.Set(HeaderKind, kindClose)
	return multierr.Combine(ch.net.nc.PublishMsg(bye), ignoreClosed(ch.sub.Unsubscribe()))
}

// finish queues Closed and closes the event stream once.
func (ch *channel) finish() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return false
	}
	ch.open = false
	select {
	case ch.events <- transport.Closed{}:
	default:
	}
	close(ch.events)
	return true
}

func ignoreClosed(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
