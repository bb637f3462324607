// Package memory is an in-process transport.Network. Both ends of a duel can share one
// Network inside a single binary or test.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DoyleJ11/math-duel/internal/transport"
)

const (
	eventBuffer    = 256
	incomingBuffer = 8
)

var ErrBackpressure = errors.New("peer event buffer full")

// DropFunc decides whether a payload sent from one address to another is lost in transit.
type DropFunc func(from, to string, payload []byte) bool

type Network struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	anon      int
	drop      DropFunc
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*endpoint)}
}

// SetDropFilter installs f for every subsequent Send. nil disables loss.
func (n *Network) SetDropFilter(f DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

func (n *Network) dropped(from, to string, payload []byte) bool {
	n.mu.Lock()
	f := n.drop
	n.mu.Unlock()
	return f != nil && f(from, to, payload)
}

func (n *Network) Register(ctx context.Context, address string) (transport.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.endpoints[address]; taken {
		return nil, fmt.Errorf("%s: %w", address, transport.ErrAddressTaken)
	}
	ep := &endpoint{
		net:      n,
		address:  address,
		incoming: make(chan transport.Channel, incomingBuffer),
	}
	n.endpoints[address] = ep
	return ep, nil
}

func (n *Network) Connect(ctx context.Context, address string) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	ep, ok := n.endpoints[address]
	n.anon++
	local := fmt.Sprintf("anon-%d", n.anon)
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, transport.ErrPeerUnavailable)
	}

	l := &link{}
	dialer := newChannel(n, l, local, address)
	listener := newChannel(n, l, address, local)
	dialer.peer, listener.peer = listener, dialer
	l.open = true

	if !ep.offer(listener) {
		return nil, fmt.Errorf("%s: %w", address, transport.ErrPeerUnavailable)
	}
	return dialer, nil
}

// Addresses lists registered addresses.
func (n *Network) Addresses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.endpoints))
	for addr := range n.endpoints {
		out = append(out, addr)
	}
	return out
}

type endpoint struct {
	net      *Network
	address  string
	mu       sync.Mutex
	closed   bool
	incoming chan transport.Channel
}

func (e *endpoint) Address() string                    { return e.address }
func (e *endpoint) Incoming() <-chan transport.Channel { return e.incoming }

func (e *endpoint) offer(ch *channel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.incoming <- ch:
		return true
	default:
		return false
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.incoming)
	e.mu.Unlock()

	e.net.mu.Lock()
	if e.net.endpoints[e.address] == e {
		delete(e.net.endpoints, e.address)
	}
	e.net.mu.Unlock()
	return nil
}

// link is shared by both ends; closing either end closes both.
type link struct {
	mu   sync.Mutex
	open bool
}

type channel struct {
	net    *Network
	link   *link
	local  string
	remote string
	peer   *channel
	events chan transport.Event
}

func newChannel(n *Network, l *link, local, remote string) *channel {
	c := &channel{
		net:    n,
		link:   l,
		local:  local,
		remote: remote,
		events: make(chan transport.Event, eventBuffer),
	}
	c.events <- transport.Opened{}
	return c
}

func (c *channel) Remote() string                  { return c.remote }
func (c *channel) Events() <-chan transport.Event { return c.events }

func (c *channel) IsOpen() bool {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	return c.link.open
}

func (c *channel) Send(payload []byte) error {
	if c.net.dropped(c.local, c.remote, payload) {
		return nil
	}
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if !c.link.open {
		return transport.ErrChannelClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case c.peer.events <- transport.Message{Payload: buf}:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *channel) Close() error {
	c.link.mu.Lock()
	defer c.link.mu.Unlock()
	if !c.link.open {
		return nil
	}
	c.link.open = false
	for _, end := range []*channel{c, c.peer} {
		select {
		case end.events <- transport.Closed{}:
		default:
		}
		close(end.events)
	}
	return nil
}
