// Package relayproto is the JSON frame schema spoken between the relay server and its peers.
//
// Peer -> Relay
//
//	connect: dst, link     open a link to the peer registered at dst
//	data:    link, payload forward payload to the other end of link
//	close:   link          tear the link down
//
// Relay -> Peer
//
//	open:    id            registration accepted (id is the assigned address)
//	open:    link, dst     link accepted by the relay
//	connect: src, link     a remote peer opened link to you
//	data:    src, link, payload
//	close:   link          the other end closed or left
//	error:   error[, link] unavailable-id | peer-unavailable | bad-frame
package relayproto

type Kind string

const (
	KindOpen    Kind = "open"
	KindError   Kind = "error"
	KindConnect Kind = "connect"
	KindData    Kind = "data"
	KindClose   Kind = "close"
)

// Error codes carried in Frame.Error.
const (
	ErrUnavailableID   = "unavailable-id"
	ErrPeerUnavailable = "peer-unavailable"
	ErrBadFrame        = "bad-frame"
)

type Frame struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id,omitempty"`
	Src     string `json:"src,omitempty"`
	Dst     string `json:"dst,omitempty"`
	Link    string `json:"link,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Stats is the body of GET /v1/stats.
type Stats struct {
	Peers int `json:"peers"`
	Links int `json:"links"`
}
