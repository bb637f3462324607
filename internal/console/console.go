// Package console is the line-oriented terminal front end for both duel modes.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/arena"
	"github.com/DoyleJ11/math-duel/internal/session"
)

type Console struct {
	in  io.Reader
	log *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

func New(in io.Reader, out io.Writer, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{in: in, out: out, log: log.Named("console")}
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, s); err != nil {
		c.log.Debug("write failed", zap.Error(err))
	}
}

// lines streams input lines until EOF or ctx ends.
func (c *Console) lines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// RunRemote drives s from the terminal. name is the player's display name. It
// returns when the user quits, input ends or ctx is cancelled.
func (c *Console) RunRemote(ctx context.Context, s *session.Session, name string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := "console-" + uuid.NewString()
	views := make(chan session.View, 32)
	s.Subscribe(id, views)
	defer s.Unsubscribe(id)

	input := c.lines(ctx)
	shownQR := session.Code("")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case v, ok := <-views:
			if !ok {
				return session.ErrClosed
			}
			c.print(RenderRemote(v))
			if v.Phase == session.PhaseWaitingForPeer && v.Code != shownQR {
				shownQR = v.Code
				if qr, err := QR(string(v.Code)); err == nil {
					c.print(qr)
				} else {
					c.log.Warn("render qr", zap.Error(err))
				}
			}

		case line, ok := <-input:
			if !ok {
				s.Cancel()
				return nil
			}
			a := ParseRemote(line)
			switch a.Kind {
			case ActionHost:
				s.CreateGame(name)
			case ActionJoin:
				s.JoinGame(name, a.Code)
			case ActionAnswer:
				for _, k := range a.Keys {
					s.Press(k)
				}
				s.Submit()
			case ActionKey:
				for _, k := range a.Keys {
					s.Press(k)
				}
			case ActionCancel:
				s.Cancel()
			case ActionQuit:
				s.Cancel()
				return nil
			case ActionHelp:
				v, err := s.View(ctx)
				if err != nil {
					return err
				}
				c.print(RenderRemote(v))
			default:
				c.print("? type help for commands\n")
			}
		}
	}
}

// RunLocal drives a two-seat arena from one terminal.
func (c *Console) RunLocal(ctx context.Context, a *arena.Arena, names [2]string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := "console-" + uuid.NewString()
	snaps := make(chan arena.Snapshot, 32)
	a.Inbox() <- arena.Join{ClientID: id, Outbox: snaps}
	defer func() {
		select {
		case a.Inbox() <- arena.Leave{ClientID: id}:
		case <-a.Done():
		}
	}()

	input := c.lines(ctx)
	var last arena.Snapshot

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snaps:
			if !ok {
				return fmt.Errorf("arena closed")
			}
			last = snap
			c.print(RenderLocal(snap, names))

		case line, ok := <-input:
			if !ok {
				return nil
			}
			act := ParseLocal(line)
			switch act.Kind {
			case ActionAnswer:
				for _, k := range act.Keys {
					a.Press(act.Seat, k)
				}
				a.Submit(act.Seat)
			case ActionKey:
				for _, k := range act.Keys {
					a.Press(act.Seat, k)
				}
			case ActionQuit:
				return nil
			case ActionHelp:
				c.print(RenderLocal(last, names))
			default:
				c.print("? type help for commands\n")
			}
		}
	}
}
