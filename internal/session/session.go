// Package session runs one side of a remote duel: it owns the transport, drives the
// HELLO/WELCOME handshake and keeps the round state in step with the peer.
//
// A Session is an actor. Every user command, timer fire and transport callback is a Msg
// handled to completion on one goroutine, so the handshake idempotency and the
// one-winner-per-round rules are plain field checks.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/protocol"
	"github.com/DoyleJ11/math-duel/internal/quiz"
	"github.com/DoyleJ11/math-duel/internal/transport"
)

type Msg interface{ isSessionMsg() }

type CreateGame struct{ Name string }

func (CreateGame) isSessionMsg() {}

type JoinGame struct {
	Name string
	Code string
}

func (JoinGame) isSessionMsg() {}

type Press struct{ Key quiz.Key }

func (Press) isSessionMsg() {}

type Submit struct{}

func (Submit) isSessionMsg() {}

type Cancel struct{}

func (Cancel) isSessionMsg() {}

type GetView struct {
	Reply chan View
}

func (GetView) isSessionMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan View
}

func (Subscribe) isSessionMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Messages posted by helper goroutines. gen ties each one to the attempt that produced it.
type registered struct {
	gen int
	ep  transport.Endpoint
	err error
}

type dialed struct {
	gen int
	ch  transport.Channel
	err error
}

type incoming struct {
	gen int
	ch  transport.Channel
}

type endpointLost struct{ gen int }

type channelEvent struct {
	gen int
	ch  transport.Channel
	ev  transport.Event
}

type timerFired struct {
	gen   int
	kind  timerKind
	token uint64
}

func (registered) isSessionMsg()   {}
func (dialed) isSessionMsg()       {}
func (incoming) isSessionMsg()     {}
func (endpointLost) isSessionMsg() {}
func (channelEvent) isSessionMsg() {}
func (timerFired) isSessionMsg()   {}

type timerKind int

const (
	timerHelloRetry timerKind = iota
	timerSoftTimeout
	timerRoundAdvance
	timerWrongFlash
)

type armedTimer struct {
	timer clockwork.Timer
	token uint64
}

// sessionContext is the one mutable record all handlers read and write. It exists only
// while an attempt is live, so LOBBY and ERROR cannot carry a connection.
type sessionContext struct {
	gen       int
	role      Role
	code      Code
	address   string
	me        PeerIdentity
	opponent  PeerIdentity
	handshake HandshakeState
	stalled   bool
	duel      DuelState
	// opWonRound is the last round an OP_WON was counted for.
	opWonRound int

	adapter *transport.Adapter
	attempt context.Context
	cancel  context.CancelFunc
	timers  map[timerKind]armedTimer
}

type Session struct {
	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cfg Config
	log *zap.Logger

	phase  Phase
	sc     *sessionContext
	gen    int
	tokens uint64
	notice string
	err    error
	trace  *trace

	version     int
	subscribers map[string]chan View
}

func New(parent context.Context, cfg Config) *Session {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		inbox:       make(chan Msg, 64),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		cfg:         cfg,
		log:         cfg.Logger.Named("session"),
		phase:       PhaseLobby,
		trace:       newTrace(cfg.Clock, cfg.TraceSize),
		subscribers: make(map[string]chan View),
	}

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case GetView:
				msg.Reply <- s.view()

			case Subscribe:
				s.subscribers[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- s.view():
				default:
				}

			case Unsubscribe:
				delete(s.subscribers, msg.ID)

			case Shutdown:
				s.shutdown()
				return

			default:
				s.handle(m)
				s.publish()
			}
		}
	}
}

func (s *Session) handle(m Msg) {
	switch msg := m.(type) {
	case CreateGame:
		s.create(msg.Name)
	case JoinGame:
		s.join(msg.Name, msg.Code)
	case Press:
		s.press(msg.Key)
	case Submit:
		s.submit()
	case Cancel:
		s.leave(nil)
	case registered:
		s.onRegistered(msg)
	case dialed:
		s.onDialed(msg)
	case incoming:
		s.onIncoming(msg)
	case endpointLost:
		s.onEndpointLost(msg)
	case channelEvent:
		s.onChannelEvent(msg)
	case timerFired:
		s.onTimer(msg)
	}
}

func (s *Session) create(name string) {
	name = NormalizeName(name)
	if name == "" {
		s.reject(ErrNameRequired)
		return
	}

	s.teardown()
	sc := s.begin(RoleHost, name, s.cfg.Codes())
	s.phase = PhaseConnecting
	s.tracef("registering %s", sc.address)

	go func(gen int, ctx context.Context, adapter *transport.Adapter, address string) {
		ep, err := adapter.Listen(ctx, address)
		s.post(registered{gen: gen, ep: ep, err: err})
	}(sc.gen, sc.attempt, sc.adapter, sc.address)
}

func (s *Session) join(name, rawCode string) {
	name = NormalizeName(name)
	if name == "" {
		s.reject(ErrNameRequired)
		return
	}
	code, err := ParseCode(rawCode)
	if err != nil {
		s.reject(err)
		return
	}

	s.teardown()
	sc := s.begin(RoleGuest, name, code)
	s.phase = PhaseConnecting
	s.armTimer(sc, timerSoftTimeout, s.cfg.Timings.SoftTimeout)
	s.tracef("connecting to %s", sc.address)

	go func(gen int, ctx context.Context, adapter *transport.Adapter, address string) {
		ch, err := adapter.Dial(ctx, address)
		s.post(dialed{gen: gen, ch: ch, err: err})
	}(sc.gen, sc.attempt, sc.adapter, sc.address)
}

// begin starts a fresh attempt. The caller must have torn down the previous one.
func (s *Session) begin(role Role, name string, code Code) *sessionContext {
	s.gen++
	s.trace.reset()
	s.notice, s.err = "", nil

	attempt, cancel := context.WithCancel(s.ctx)
	sc := &sessionContext{
		gen:     s.gen,
		role:    role,
		code:    code,
		address: code.Address(s.cfg.AddressPrefix),
		me:      PeerIdentity{DisplayName: name, Role: role},
		adapter: transport.NewAdapter(s.cfg.Network, s.log),
		attempt: attempt,
		cancel:  cancel,
		timers:  make(map[timerKind]armedTimer),
	}
	s.sc = sc
	s.log.Info("session started",
		zap.String("role", string(role)),
		zap.String("address", sc.address),
		zap.String("name", name))
	return sc
}

// teardown cancels every timer and releases the channel and registration. Anything the
// old attempt still has in flight arrives with a stale gen and is ignored.
func (s *Session) teardown() {
	sc := s.sc
	if sc == nil {
		return
	}
	s.sc = nil
	s.gen++

	for kind := range sc.timers {
		s.stopTimer(sc, kind)
	}
	sc.cancel()
	if err := sc.adapter.Release(); err != nil {
		s.log.Warn("release transport", zap.String("address", sc.address), zap.Error(err))
	}
	s.log.Info("session ended", zap.String("address", sc.address))
}

// leave returns to LOBBY. cause is shown as the notice when non-nil.
func (s *Session) leave(cause error) {
	s.teardown()
	s.phase = PhaseLobby
	s.err = cause
	s.notice = ""
	if cause != nil {
		s.notice = cause.Error()
	}
}

func (s *Session) fail(err error) {
	s.teardown()
	s.phase = PhaseError
	s.err = err
	s.notice = rootMessage(err)
	s.log.Warn("session failed", zap.Error(err))
}

// reject refuses a command without leaving the current phase.
func (s *Session) reject(err error) {
	s.err = err
	s.notice = rootMessage(err)
}

func rootMessage(err error) string {
	for _, known := range []error{ErrAddressConflict, ErrPeerUnreachable, ErrRegistrationLost, ErrInvalidCode, ErrNameRequired} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func (s *Session) current(gen int) *sessionContext {
	if s.sc == nil || s.sc.gen != gen {
		return nil
	}
	return s.sc
}

func (s *Session) onRegistered(msg registered) {
	sc := s.current(msg.gen)
	if sc == nil {
		if msg.ep != nil {
			_ = msg.ep.Close()
		}
		return
	}
	if msg.err != nil {
		s.tracef("register failed: %v", msg.err)
		if errors.Is(msg.err, transport.ErrAddressTaken) {
			s.fail(fmt.Errorf("%w: %w", ErrAddressConflict, msg.err))
			return
		}
		s.fail(fmt.Errorf("%w: %w", ErrTransport, msg.err))
		return
	}

	sc.adapter.HoldEndpoint(msg.ep)
	sc.handshake = HandshakeListening
	s.phase = PhaseWaitingForPeer
	s.tracef("listening as %s", msg.ep.Address())
	go s.pumpEndpoint(sc.gen, msg.ep)
}

func (s *Session) onDialed(msg dialed) {
	sc := s.current(msg.gen)
	if sc == nil {
		if msg.ch != nil {
			_ = msg.ch.Close()
		}
		return
	}
	if msg.err != nil {
		s.tracef("connect failed: %v", msg.err)
		if errors.Is(msg.err, transport.ErrPeerUnavailable) {
			s.fail(fmt.Errorf("%w: %w", ErrPeerUnreachable, msg.err))
			return
		}
		s.fail(fmt.Errorf("%w: %w", ErrTransport, msg.err))
		return
	}

	sc.adapter.Hold(msg.ch)
	go s.pumpChannel(sc.gen, msg.ch)
}

func (s *Session) onIncoming(msg incoming) {
	sc := s.current(msg.gen)
	if sc == nil {
		_ = msg.ch.Close()
		return
	}
	if !sc.adapter.Hold(msg.ch) {
		s.tracef("rejected extra peer %s", msg.ch.Remote())
		_ = msg.ch.Close()
		return
	}
	s.tracef("guest connecting from %s", msg.ch.Remote())
	go s.pumpChannel(sc.gen, msg.ch)
}

func (s *Session) onEndpointLost(msg endpointLost) {
	sc := s.current(msg.gen)
	if sc == nil {
		return
	}
	s.tracef("registration lost")
	if sc.duel.Connected {
		return
	}
	s.fail(ErrRegistrationLost)
}

func (s *Session) onChannelEvent(msg channelEvent) {
	sc := s.current(msg.gen)
	if sc == nil || !sc.adapter.Holds(msg.ch) {
		return
	}

	switch ev := msg.ev.(type) {
	case transport.Opened:
		if sc.role == RoleGuest {
			s.guestChannelOpen(sc)
		} else {
			s.tracef("guest channel open")
		}

	case transport.Message:
		m, err := protocol.Decode(ev.Payload)
		if err != nil {
			s.tracef("dropped malformed message")
			s.log.Debug("malformed message", zap.ByteString("payload", ev.Payload), zap.Error(err))
			return
		}
		s.dispatch(sc, m)

	case transport.Failed:
		s.tracef("channel error: %v", ev.Err)
		s.log.Warn("channel error", zap.String("remote", msg.ch.Remote()), zap.Error(ev.Err))

	case transport.Closed:
		s.onChannelClosed(sc, msg.ch)
	}
}

func (s *Session) dispatch(sc *sessionContext, m protocol.Message) {
	switch m.Type {
	case protocol.TypeHello:
		s.hostOnHello(sc, m)
	case protocol.TypeWelcome:
		s.guestOnWelcome(sc, m)
	case protocol.TypeNewRound:
		s.onNewRound(sc, m)
	case protocol.TypeOpWon:
		s.onOpWon(sc)
	}
}

func (s *Session) onChannelClosed(sc *sessionContext, ch transport.Channel) {
	s.tracef("channel closed")
	switch {
	case sc.duel.Connected:
		s.leave(ErrChannelClosed)
	case sc.role == RoleHost:
		// The guest left before confirming; keep the code and wait for another.
		_ = sc.adapter.DropChannel(ch)
		sc.handshake = HandshakeListening
		s.phase = PhaseWaitingForPeer
	default:
		s.leave(ErrChannelClosed)
	}
}

func (s *Session) pumpEndpoint(gen int, ep transport.Endpoint) {
	for ch := range ep.Incoming() {
		s.post(incoming{gen: gen, ch: ch})
	}
	s.post(endpointLost{gen: gen})
}

func (s *Session) pumpChannel(gen int, ch transport.Channel) {
	for ev := range ch.Events() {
		s.post(channelEvent{gen: gen, ch: ch, ev: ev})
	}
}

func (s *Session) send(sc *sessionContext, m protocol.Message) {
	payload, err := protocol.Encode(m)
	if err != nil {
		s.log.Error("encode message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	if err := sc.adapter.Send(payload); err != nil {
		s.tracef("send %s failed: %v", m.Type, err)
		s.log.Warn("send failed", zap.String("type", string(m.Type)), zap.Error(err))
	}
}

func (s *Session) armTimer(sc *sessionContext, kind timerKind, d time.Duration) {
	s.stopTimer(sc, kind)
	s.tokens++
	gen, token := sc.gen, s.tokens
	t := s.cfg.Clock.AfterFunc(d, func() {
		s.post(timerFired{gen: gen, kind: kind, token: token})
	})
	sc.timers[kind] = armedTimer{timer: t, token: token}
}

func (s *Session) stopTimer(sc *sessionContext, kind timerKind) {
	if at, ok := sc.timers[kind]; ok {
		at.timer.Stop()
		delete(sc.timers, kind)
	}
}

func (s *Session) timerArmed(sc *sessionContext, kind timerKind) bool {
	_, ok := sc.timers[kind]
	return ok
}

func (s *Session) onTimer(msg timerFired) {
	sc := s.current(msg.gen)
	if sc == nil {
		return
	}
	at, ok := sc.timers[msg.kind]
	if !ok || at.token != msg.token {
		return
	}
	delete(sc.timers, msg.kind)

	switch msg.kind {
	case timerHelloRetry:
		s.retryHello(sc)
	case timerSoftTimeout:
		s.softTimeout(sc)
	case timerRoundAdvance:
		s.advanceRound(sc)
	case timerWrongFlash:
		sc.duel.WrongFlash = false
	}
}

func (s *Session) tracef(format string, args ...any) {
	s.trace.add(format, args...)
	s.log.Debug(fmt.Sprintf(format, args...))
}

func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) view() View {
	v := View{
		Version: s.version,
		Phase:   s.phase,
		Notice:  s.notice,
		Err:     s.err,
		Trace:   s.trace.snapshot(),
	}
	if sc := s.sc; sc != nil {
		v.Role = sc.role
		v.Code = sc.code
		v.Address = sc.address
		v.Me = sc.me
		v.Opponent = sc.opponent
		v.Handshake = sc.handshake
		v.Duel = sc.duel
		v.Stalled = sc.stalled
	}
	return v
}

func (s *Session) publish() {
	s.version++
	v := s.view()
	for id, ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			s.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
			close(ch)
			delete(s.subscribers, id)
		}
	}
}

func (s *Session) shutdown() {
	s.teardown()
	s.phase = PhaseLobby
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.cancel()
}

// Expose the inbox so tests or the console layer can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) CreateGame(name string) { s.post(CreateGame{Name: name}) }

func (s *Session) JoinGame(name, code string) { s.post(JoinGame{Name: name, Code: code}) }

func (s *Session) Press(key quiz.Key) { s.post(Press{Key: key}) }

func (s *Session) Submit() { s.post(Submit{}) }

// Cancel abandons the current attempt and returns to LOBBY.
func (s *Session) Cancel() { s.post(Cancel{}) }

// Subscribe registers outbox for every published View. A subscriber that falls behind
// is dropped and its outbox closed.
func (s *Session) Subscribe(id string, outbox chan View) {
	s.post(Subscribe{ID: id, Outbox: outbox})
}

func (s *Session) Unsubscribe(id string) { s.post(Unsubscribe{ID: id}) }

// Shutdown tears the session down and waits for the loop to exit.
func (s *Session) Shutdown() {
	s.post(Shutdown{})
	<-s.done
}

// View blocks until the loop answers or ctx ends.
func (s *Session) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case s.inbox <- GetView{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.done:
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.done:
		return View{}, ErrClosed
	}
}
