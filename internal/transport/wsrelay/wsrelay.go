// Package wsrelay implements transport.Network on top of the relay server: every peer
// keeps one websocket to the relay and links are multiplexed over it.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/transport"
	"github.com/DoyleJ11/math-duel/pkg/relayproto"
)

const (
	eventBuffer    = 256
	incomingBuffer = 8
	writeTimeout   = 3 * time.Second
)

var ErrRelay = errors.New("relay error")

type Network struct {
	// URL is the relay base, e.g. ws://localhost:8080.
	URL string
	Log *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Network {
	if log == nil {
		log = zap.NewNop()
	}
	return &Network{URL: baseURL, Log: log.Named("wsrelay")}
}

func (n *Network) log() *zap.Logger {
	if n.Log == nil {
		return zap.NewNop()
	}
	return n.Log
}

// Register claims address on the relay and listens for links opened to it.
func (n *Network) Register(ctx context.Context, address string) (transport.Endpoint, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", ErrRelay)
	}
	c, err := n.dial(ctx, address, true)
	if err != nil {
		return nil, err
	}
	return &endpoint{conn: c}, nil
}

// Connect registers anonymously, then opens a link to address. The returned channel
// owns the anonymous registration and releases it on Close.
func (n *Network) Connect(ctx context.Context, address string) (transport.Channel, error) {
	c, err := n.dial(ctx, "", false)
	if err != nil {
		return nil, err
	}
	ch, err := c.open(ctx, address)
	if err != nil {
		c.close()
		return nil, err
	}
	return ch, nil
}

func (n *Network) dial(ctx context.Context, id string, listen bool) (*conn, error) {
	u := strings.TrimRight(n.URL, "/") + "/v1/peers?id=" + url.QueryEscape(id)
	ws, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrRelay, n.URL, err)
	}

	var first relayproto.Frame
	if err := wsjson.Read(ctx, ws, &first); err != nil {
		ws.Close(websocket.StatusInternalError, "no greeting")
		return nil, fmt.Errorf("%w: read greeting: %w", ErrRelay, err)
	}
	switch {
	case first.Kind == relayproto.KindError && first.Error == relayproto.ErrUnavailableID:
		ws.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("%s: %w", id, transport.ErrAddressTaken)
	case first.Kind != relayproto.KindOpen || first.ID == "":
		ws.Close(websocket.StatusProtocolError, "unexpected greeting")
		return nil, fmt.Errorf("%w: unexpected greeting %q %q", ErrRelay, first.Kind, first.Error)
	}

	c := newConn(ws, first.ID, listen, n.log())
	go c.readLoop()
	return c, nil
}

// conn is one registered peer socket.
type conn struct {
	ws  *websocket.Conn
	id  string
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closing atomic.Bool

	mu       sync.Mutex
	closed   bool
	links    map[string]*channel
	pending  map[string]chan relayproto.Frame
	incoming chan transport.Channel
}

func newConn(ws *websocket.Conn, id string, listen bool, log *zap.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:      ws,
		id:      id,
		log:     log.With(zap.String("id", id)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		links:   make(map[string]*channel),
		pending: make(map[string]chan relayproto.Frame),
	}
	if listen {
		c.incoming = make(chan transport.Channel, incomingBuffer)
	}
	return c
}

func (c *conn) write(f relayproto.Frame) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, f)
}

// open asks the relay for a link to address and waits for the verdict.
func (c *conn) open(ctx context.Context, address string) (*channel, error) {
	link := uuid.NewString()
	verdict := make(chan relayproto.Frame, 1)
	ch := newChannel(c, link, address, true)

	c.mu.Lock()
	c.pending[link] = verdict
	c.links[link] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, link)
		delete(c.links, link)
		c.mu.Unlock()
	}

	if err := c.write(relayproto.Frame{Kind: relayproto.KindConnect, Dst: address, Link: link}); err != nil {
		forget()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrRelay, address, err)
	}

	select {
	case f := <-verdict:
		if f.Kind == relayproto.KindOpen {
			return ch, nil
		}
		forget()
		if f.Error == relayproto.ErrPeerUnavailable {
			return nil, fmt.Errorf("%s: %w", address, transport.ErrPeerUnavailable)
		}
		return nil, fmt.Errorf("%w: connect %s: %s", ErrRelay, address, f.Error)
	case <-c.done:
		forget()
		return nil, fmt.Errorf("%w: connection lost while connecting", ErrRelay)
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *conn) readLoop() {
	defer c.teardown()
	for {
		var f relayproto.Frame
		if err := wsjson.Read(c.ctx, c.ws, &f); err != nil {
			if !c.closing.Load() {
				c.log.Info("relay connection lost", zap.Error(err))
				c.failLinks(err)
			}
			return
		}
		c.handle(f)
	}
}

func (c *conn) handle(f relayproto.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Kind {
	case relayproto.KindOpen, relayproto.KindError:
		if verdict, ok := c.pending[f.Link]; ok {
			delete(c.pending, f.Link)
			if ch, ok := c.links[f.Link]; ok && f.Kind == relayproto.KindOpen {
				ch.deliver(transport.Opened{})
			}
			verdict <- f
			return
		}
		if ch, ok := c.links[f.Link]; ok && f.Kind == relayproto.KindError {
			ch.deliver(transport.Failed{Err: fmt.Errorf("%w: %s", ErrRelay, f.Error)})
		}

	case relayproto.KindConnect:
		if c.incoming == nil || c.closed {
			go c.write(relayproto.Frame{Kind: relayproto.KindClose, Link: f.Link})
			return
		}
		ch := newChannel(c, f.Link, f.Src, false)
		ch.deliver(transport.Opened{})
		select {
		case c.incoming <- ch:
			c.links[f.Link] = ch
		default:
			c.log.Warn("incoming backlog full, refusing link", zap.String("link", f.Link))
			go c.write(relayproto.Frame{Kind: relayproto.KindClose, Link: f.Link})
		}

	case relayproto.KindData:
		if ch, ok := c.links[f.Link]; ok {
			ch.deliver(transport.Message{Payload: f.Payload})
		}

	case relayproto.KindClose:
		if ch, ok := c.links[f.Link]; ok {
			delete(c.links, f.Link)
			ch.finish()
		}
	}
}

func (c *conn) failLinks(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.links {
		ch.deliver(transport.Failed{Err: err})
	}
}

// teardown runs once the socket is gone: every link closes and the endpoint stops
// yielding channels.
func (c *conn) teardown() {
	c.mu.Lock()
	c.closed = true
	links := c.links
	c.links = make(map[string]*channel)
	if c.incoming != nil {
		close(c.incoming)
	}
	c.mu.Unlock()

	for _, ch := range links {
		ch.finish()
	}
	close(c.done)
}

func (c *conn) forget(link string) {
	c.mu.Lock()
	delete(c.links, link)
	c.mu.Unlock()
}

func (c *conn) close() {
	c.closing.Store(true)
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
}

type endpoint struct {
	conn *conn
	once sync.Once
}

func (e *endpoint) Address() string                    { return e.conn.id }
func (e *endpoint) Incoming() <-chan transport.Channel { return e.conn.incoming }

func (e *endpoint) Close() error {
	e.once.Do(e.conn.close)
	return nil
}

type channel struct {
	conn   *conn
	link   string
	remote string
	// owns is set on the dialing side, whose socket exists only for this link.
	owns bool

	mu     sync.Mutex
	open   bool
	events chan transport.Event
}

func newChannel(c *conn, link, remote string, owns bool) *channel {
	return &channel{
		conn:   c,
		link:   link,
		remote: remote,
		owns:   owns,
		open:   true,
		events: make(chan transport.Event, eventBuffer),
	}
}

func (ch *channel) Remote() string                  { return ch.remote }
func (ch *channel) Events() <-chan transport.Event { return ch.events }

func (ch *channel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

func (ch *channel) Send(payload []byte) error {
	if !ch.IsOpen() {
		return transport.ErrChannelClosed
	}
	if err := ch.conn.write(relayproto.Frame{Kind: relayproto.KindData, Link: ch.link, Payload: payload}); err != nil {
		return fmt.Errorf("%w: send: %w", ErrRelay, err)
	}
	return nil
}

func (ch *channel) Close() error {
	if !ch.finish() {
		return nil
	}
	ch.conn.forget(ch.link)
	var err error
	if werr := ch.conn.write(relayproto.Frame{Kind: relayproto.KindClose, Link: ch.link}); werr != nil && !ch.conn.closing.Load() {
		err = fmt.Errorf("%w: close: %w", ErrRelay, werr)
	}
	if ch.owns {
		ch.conn.close()
	}
	return err
}

func (ch *channel) deliver(ev transport.Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.open {
		return
	}
	select {
	case ch.events <- ev:
	default:
		ch.conn.log.Warn("event buffer full, dropping", zap.String("link", ch.link))
	}
}

// finish queues Closed and closes the event stream. It reports false if already done.
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
