// Package transport is the point-to-point channel contract the duel session runs on.
// Implementations live in subpackages: memory (in-process), wsrelay (websocket relay)
// and natsbus (NATS subjects).
package transport

import (
	"context"
	"errors"
)

var (
	// ErrAddressTaken is returned by Register when another endpoint already holds the address.
	ErrAddressTaken = errors.New("address already registered")
	// ErrPeerUnavailable is returned by Connect when nothing is registered at the address.
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrChannelClosed   = errors.New("channel closed")
	ErrNoChannel       = errors.New("no channel")
)

type Event interface{ isEvent() }

// Opened is always the first event on a channel.
type Opened struct{}

func (Opened) isEvent() {}

type Message struct {
	Payload []byte
}

func (Message) isEvent() {}

// Closed is the last event on a channel; Events() is closed right after it.
type Closed struct{}

func (Closed) isEvent() {}

// Failed reports a transport error. A fatal failure is followed by Closed.
type Failed struct {
	Err error
}

func (Failed) isEvent() {}

// Channel is an ordered, reliable message pipe between two endpoints.
type Channel interface {
	Remote() string
	Send(payload []byte) error
	Events() <-chan Event
	IsOpen() bool
	Close() error
}

// Endpoint is a registered, listening address.
type Endpoint interface {
	Address() string
	// Incoming yields channels opened by remote peers. It is closed when the
	// registration is released or lost.
	Incoming() <-chan Channel
	Close() error
}

type Network interface {
	Register(ctx context.Context, address string) (Endpoint, error)
	Connect(ctx context.Context, address string) (Channel, error)
}
