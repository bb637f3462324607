package session

import "errors"

var (
	ErrNameRequired     = errors.New("display name required")
	ErrInvalidCode      = errors.New("session code must be 4 digits")
	ErrAddressConflict  = errors.New("session code already in use, try again")
	ErrPeerUnreachable  = errors.New("wrong code or host not connected")
	ErrHandshakeStall   = errors.New("connection is taking too long, check the network or try again")
	ErrChannelClosed    = errors.New("peer disconnected")
	ErrRegistrationLost = errors.New("disconnected from server")
	ErrTransport        = errors.New("connection error")
	ErrClosed           = errors.New("session closed")
)
