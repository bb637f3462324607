// Package arena runs a same-device duel: two seats racing one shared question.
package arena

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/engine"
	"github.com/DoyleJ11/math-duel/internal/quiz"
)

const (
	DefaultRoundDelay    = 1500 * time.Millisecond
	DefaultFlashDuration = 500 * time.Millisecond
)

type Msg interface{ isArenaMsg() }

type FromSeat struct {
	Cmd engine.Command
}

func (FromSeat) isArenaMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isArenaMsg() {}

type Leave struct{ ClientID string }

func (Leave) isArenaMsg() {}

type Shutdown struct{}

func (Shutdown) isArenaMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isArenaMsg() {}

type roundTimerFired struct{ gen int }

func (roundTimerFired) isArenaMsg() {}

type flashTimerFired struct {
	seat  engine.Seat
	round int
	gen   int
	token uint64
}

func (flashTimerFired) isArenaMsg() {}

type Snapshot struct {
	Version int
	State   engine.State
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
}

type Config struct {
	Generator     quiz.Generator
	Clock         clockwork.Clock
	Logger        *zap.Logger
	RoundDelay    time.Duration
	FlashDuration time.Duration
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.RoundDelay <= 0 {
		c.RoundDelay = DefaultRoundDelay
	}
	if c.FlashDuration <= 0 {
		c.FlashDuration = DefaultFlashDuration
	}
	if c.Generator == nil {
		seed, err := quiz.NewSeed()
		if err != nil {
			seed = c.Clock.Now().UnixNano()
		}
		c.Generator = quiz.NewRandom(seed)
	}
}

type Arena struct {
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	cfg Config
	log *zap.Logger

	// gen invalidates timers armed before a round change or shutdown.
	gen         int
	roundTimer  clockwork.Timer
	flashTimers [2]flashTimer
	// tokens numbers flash arms so a fire queued before a re-arm is recognised.
	tokens uint64
}

type flashTimer struct {
	timer clockwork.Timer
	token uint64
}

func NewArena(parent context.Context, cfg Config) *Arena {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(parent)

	a := &Arena{
		inbox:   make(chan Msg, 64),
		state:   engine.NewState(cfg.Generator.Next()),
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		cfg:     cfg,
		log:     cfg.Logger.Named("arena"),
	}

	go a.loop()
	return a
}

func (a *Arena) loop() {
	defer close(a.done)
	for {
		select {
		case <-a.ctx.Done():
			a.shutdown()
			return

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Join:
				a.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: a.version, State: a.state}

			case Leave:
				delete(a.clients, msg.ClientID)

			case FromSeat:
				a.apply(msg.Cmd)

			case roundTimerFired:
				if msg.gen != a.gen {
					break
				}
				a.roundTimer = nil
				a.apply(engine.Command{Type: engine.CmdStartRound, Question: a.cfg.Generator.Next()})

			case flashTimerFired:
				if msg.gen != a.gen || a.flashTimers[msg.seat-1].token != msg.token {
					break
				}
				a.flashTimers[msg.seat-1] = flashTimer{}
				a.apply(engine.Command{Type: engine.CmdClearFlash, Seat: msg.seat, Round: msg.round})

			case GetState:
				msg.Reply <- View{
					Version:    a.version,
					NumClients: len(a.clients),
					State:      a.state,
				}

			case Shutdown:
				a.shutdown()
				return
			}
		}
	}
}

func (a *Arena) apply(cmd engine.Command) {
	events, newState, err := engine.Apply(a.state, cmd)
	if err != nil {
		// Input after a win, empty submits and stale flash clears are expected no-ops.
		if !errors.Is(err, engine.ErrRoundDecided) && !errors.Is(err, engine.ErrNotANumber) && !errors.Is(err, engine.ErrStaleRound) {
			a.log.Debug("command rejected", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		}
		return
	}
	if len(events) == 0 {
		return
	}
	a.state = newState

	for _, ev := range events {
		switch ev.Type {
		case engine.EvtSeatWon:
			a.log.Info("seat won round",
				zap.Stringer("seat", ev.Seat),
				zap.Int("round", ev.Round),
				zap.Int("score", a.state.Seat(ev.Seat).Score))
			a.armRoundTimer()
		case engine.EvtWrongAnswer:
			a.armFlashTimer(ev.Seat, ev.Round)
		case engine.EvtRoundStarted:
			a.stopTimers()
		}
	}

	a.version++
	a.broadcast(Snapshot{Version: a.version, State: a.state})
}

func (a *Arena) armRoundTimer() {
	gen := a.gen
	a.roundTimer = a.cfg.Clock.AfterFunc(a.cfg.RoundDelay, func() {
		a.post(roundTimerFired{gen: gen})
	})
}

func (a *Arena) armFlashTimer(seat engine.Seat, round int) {
	if ft := a.flashTimers[seat-1]; ft.timer != nil {
		ft.timer.Stop()
	}
	a.tokens++
	gen, token := a.gen, a.tokens
	t := a.cfg.Clock.AfterFunc(a.cfg.FlashDuration, func() {
		a.post(flashTimerFired{seat: seat, round: round, gen: gen, token: token})
	})
	a.flashTimers[seat-1] = flashTimer{timer: t, token: token}
}

// stopTimers cancels every pending timer; fires already queued are dropped by the gen check.
func (a *Arena) stopTimers() {
	a.gen++
	if a.roundTimer != nil {
		a.roundTimer.Stop()
		a.roundTimer = nil
	}
	for i, ft := range a.flashTimers {
		if ft.timer != nil {
			ft.timer.Stop()
		}
		a.flashTimers[i] = flashTimer{}
	}
}

func (a *Arena) post(m Msg) {
	select {
	case a.inbox <- m:
	case <-a.ctx.Done():
	}
}

func (a *Arena) shutdown() {
	a.stopTimers()
	for id, ch := range a.clients {
		close(ch) // Tell client no more snapshots
		delete(a.clients, id)
	}
	a.cancel()
}

func (a *Arena) broadcast(snap Snapshot) {
	for id, ch := range a.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			a.log.Warn("dropping slow client", zap.String("client_id", id))
			close(ch)
			delete(a.clients, id)
		}
	}
}

// Expose the inbox so tests or the console layer can send messages.
func (a *Arena) Inbox() chan<- Msg { return a.inbox }

// Done is closed once the loop has exited.
func (a *Arena) Done() <-chan struct{} { return a.done }

func (a *Arena) Press(seat engine.Seat, key quiz.Key) {
	a.post(FromSeat{Cmd: engine.Command{Type: engine.CmdPress, Seat: seat, Key: key}})
}

func (a *Arena) Submit(seat engine.Seat) {
	a.post(FromSeat{Cmd: engine.Command{Type: engine.CmdSubmit, Seat: seat}})
}

// View blocks until the loop answers or ctx ends.
func (a *Arena) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case a.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-a.done:
		return View{}, context.Canceled
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
