package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Adapter owns the transport resources of one session: at most one registered
// endpoint and one channel. It never reconnects on its own.
type Adapter struct {
	network Network
	log     *zap.Logger

	mu       sync.Mutex
	endpoint Endpoint
	channel  Channel
}

func NewAdapter(network Network, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{network: network, log: log.Named("transport")}
}

// Listen registers address. The caller decides whether to HoldEndpoint the result.
func (a *Adapter) Listen(ctx context.Context, address string) (Endpoint, error) {
	ep, err := a.network.Register(ctx, address)
	if err != nil {
		a.log.Warn("register failed", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("register %s: %w", address, err)
	}
	a.log.Info("registered", zap.String("address", address))
	return ep, nil
}

// Dial connects to address. The caller decides whether to Hold the result.
func (a *Adapter) Dial(ctx context.Context, address string) (Channel, error) {
	ch, err := a.network.Connect(ctx, address)
	if err != nil {
		a.log.Warn("connect failed", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	a.log.Info("connected", zap.String("address", address))
	return ch, nil
}

func (a *Adapter) HoldEndpoint(ep Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endpoint = ep
}

// Hold makes ch the session's channel. It reports false, leaving ch untouched,
// while another channel is held, open or not. A closed channel stays held until
// DropChannel or Release so its Closed event is still handled.
func (a *Adapter) Hold(ch Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		return false
	}
	a.channel = ch
	return true
}

// Holds reports whether ch is the held channel.
func (a *Adapter) Holds(ch Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel != nil && a.channel == ch
}

// Open reports whether a held channel is currently open.
func (a *Adapter) Open() bool {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	return ch != nil && ch.IsOpen()
}

func (a *Adapter) Send(payload []byte) error {
	a.mu.Lock()
	ch := a.channel
	a.mu.Unlock()
	if ch == nil {
		return ErrNoChannel
	}
	if !ch.IsOpen() {
		return ErrChannelClosed
	}
	return ch.Send(payload)
}

// DropChannel closes ch and forgets it if it is the held channel.
func (a *Adapter) DropChannel(ch Channel) error {
	a.mu.Lock()
	if a.channel == ch {
		a.channel = nil
	}
	a.mu.Unlock()
	return ch.Close()
}

// Release closes the held channel and endpoint.
func (a *Adapter) Release() error {
	a.mu.Lock()
	ch, ep := a.channel, a.endpoint
	a.channel, a.endpoint = nil, nil
	a.mu.Unlock()

	var err error
	if ch != nil {
		err = multierr.Append(err, ch.Close())
	}
	if ep != nil {
		err = multierr.Append(err, ep.Close())
	}
	if err != nil {
		a.log.Warn("release", zap.Error(err))
	}
	return err
}
