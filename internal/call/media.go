package call

import (
	"context"
	"encoding/json"
)

// MediaStream is an acquired local capture handle. Released on hangup or
// teardown.
type MediaStream interface {
	Stop()
}

// PeerHandlers are the hooks a peer connection drives. OnSignal fires with
// connection-establishment payloads to forward to the remote side; OnConnect
// when the pair is established; OnClose on any media-layer teardown,
// including abrupt failure.
type PeerHandlers struct {
	OnSignal       func(payload json.RawMessage)
	OnRemoteStream func(stream MediaStream)
	OnConnect      func()
	OnClose        func()
}

// PeerConnection is one side of a negotiated media link.
type PeerConnection interface {
	// Signal feeds a remote connection-establishment payload in.
	Signal(payload json.RawMessage) error
	Close() error
}

// MediaProvider is the opaque media boundary: device acquisition and peer
// connection construction. The engine never inspects payloads it relays.
type MediaProvider interface {
	Acquire(ctx context.Context) (MediaStream, error)
	NewPeerConnection(initiator bool, stream MediaStream, h PeerHandlers) (PeerConnection, error)
}
