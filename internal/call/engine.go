package call

import (
	"context"
	"encoding/json"
	"sync"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"
)

// EventClientSignal is the event name connection-establishment payloads
// travel under on a room channel.
const EventClientSignal = "client-signal"

// SignalEnvelope wraps an opaque media payload with routing identity. To is
// set so a mesh room does not cross-wire pairs; a missing To is accepted for
// two-party rooms.
type SignalEnvelope struct {
	From   string          `json:"from"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// LinkState is the lifecycle of one peer link.
type LinkState string

const (
	LinkOffering  LinkState = "offering"
	LinkAnswering LinkState = "answering"
	LinkConnected LinkState = "connected"
	LinkClosed    LinkState = "closed"
)

// CloseReason distinguishes why a link ended.
type CloseReason string

const (
	ReasonPeerLeft    CloseReason = "peer_left"
	ReasonHangup      CloseReason = "hangup"
	ReasonMediaFailed CloseReason = "media_failed"
)

// LinkEvent is one observable state transition of a peer link.
type LinkEvent struct {
	PeerID string
	State  LinkState
	Reason CloseReason
}

type peerLink struct {
	peerID string
	state  LinkState
	reason CloseReason
	conn   PeerConnection
	// Signals that arrived before the connection finished constructing.
	pending []json.RawMessage
}

// Engine negotiates one media link per remote participant in a room. The
// initiator role is deterministic: whoever was already in the room when the
// other's join announcement fires makes the offer, so exactly one side of
// each pair initiates. Payloads are relayed opaquely; the media boundary
// owns their meaning.
type Engine struct {
	room  string
	self  transport.Member
	tr    transport.Transport
	media MediaProvider
	log   logger.ILogger

	stream MediaStream
	sub    *transport.Subscription

	mu           sync.Mutex
	links        map[string]*peerLink
	eventsClosed bool
	// Participants in the snapshot of our own join. They see our join
	// announcement and offer toward us; we must not offer toward them.
	preexisting map[string]bool
	closed      bool

	events chan LinkEvent
	once   sync.Once
}

// Start joins the room's channel and begins negotiating with its
// participants, using an already-acquired local stream. Acquisition happens
// before Start, so a participant whose media failed never announces itself;
// the engine takes ownership of the stream and releases it on Close.
//
// One presence subscription carries everything: the join announcement peers
// react to, the snapshot that seeds the initiator rule, and the membership
// and signal events that follow. Splitting those across subscriptions opens
// a window where a peer joins unseen and both sides wait on each other.
func Start(ctx context.Context, tr transport.Transport, room string, self transport.Member, media MediaProvider, stream MediaStream, log logger.ILogger) (*Engine, error) {
	sub, err := tr.Subscribe(ctx, room, transport.KindPresence, self)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		room:        room,
		self:        self,
		tr:          tr,
		media:       media,
		log:         log,
		stream:      stream,
		sub:         sub,
		links:       make(map[string]*peerLink),
		preexisting: make(map[string]bool),
		events:      make(chan LinkEvent, 32),
	}
	for _, m := range sub.Roster {
		if m.ID != self.ID {
			e.preexisting[m.ID] = true
		}
	}
	go e.run(ctx)
	return e, nil
}

// Events yields link state transitions. Closed when the engine stops.
func (e *Engine) Events() <-chan LinkEvent {
	return e.events
}

// Link reports the current state of the link with one peer.
func (e *Engine) Link(peerID string) (LinkState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[peerID]
	if !ok {
		return "", false
	}
	return l.state, true
}

// Links snapshots all link states.
func (e *Engine) Links() map[string]LinkState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]LinkState, len(e.links))
	for id, l := range e.links {
		out[id] = l.state
	}
	return out
}

// Hangup tears down the link with one peer. The peer sees the media-layer
// close; the room membership is unaffected.
func (e *Engine) Hangup(peerID string) {
	e.closeLink(peerID, ReasonHangup)
}

// Close hangs up every link, releases local media and leaves the signaling
// stream. Idempotent.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		ids := make([]string, 0, len(e.links))
		for id := range e.links {
			ids = append(ids, id)
		}
		e.mu.Unlock()

		for _, id := range ids {
			e.closeLink(id, ReasonHangup)
		}
		e.sub.Close()
		e.stream.Stop()
	})
}

func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.eventsClosed = true
		e.mu.Unlock()
		close(e.events)
	}()
	for ev := range e.sub.Events() {
		switch ev.Name {
		case transport.EventMemberAdded:
			var m transport.Member
			if err := transport.Decode(ev, &m); err != nil || m.ID == "" {
				continue
			}
			e.handleJoin(ctx, m)

		case transport.EventMemberRemoved:
			var m transport.Member
			if err := transport.Decode(ev, &m); err != nil || m.ID == "" {
				continue
			}
			// A departed snapshot member who rejoins is a fresh arrival; we
			// become the offering side.
			e.mu.Lock()
			delete(e.preexisting, m.ID)
			e.mu.Unlock()
			e.closeLink(m.ID, ReasonPeerLeft)

		case EventClientSignal:
			var env SignalEnvelope
			if err := transport.Decode(ev, &env); err != nil || env.From == "" {
				e.log.Warn("Call", "Malformed signal payload", map[string]interface{}{
					"room": e.room, "sender": ev.Sender,
				})
				continue
			}
			e.handleSignal(ctx, env)
		}
	}
}

// handleJoin fires when a participant's join announcement lands. Our own
// echo and participants who preceded us are skipped: the pre-existing side
// of each pair is the one that offers. A snapshot member stays classified
// until it departs, so duplicate announcements cannot provoke a counter
// offer.
func (e *Engine) handleJoin(ctx context.Context, m transport.Member) {
	if m.ID == e.self.ID {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.preexisting[m.ID] {
		e.mu.Unlock()
		return
	}
	if l, ok := e.links[m.ID]; ok && l.state != LinkClosed {
		e.mu.Unlock()
		return
	}
	link := &peerLink{peerID: m.ID, state: LinkOffering}
	e.links[m.ID] = link
	e.mu.Unlock()

	e.emit(LinkEvent{PeerID: m.ID, State: LinkOffering})
	e.attachConnection(ctx, link, true)
}

// handleSignal relays a remote payload into the matching link, creating an
// answering link when the offer precedes any local knowledge of the peer.
func (e *Engine) handleSignal(ctx context.Context, env SignalEnvelope) {
	if env.From == e.self.ID {
		return
	}
	if env.To != "" && env.To != e.self.ID {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	link, ok := e.links[env.From]
	if !ok || link.state == LinkClosed {
		// Unsolicited offer: the peer had us in their snapshot. Answer it.
		delete(e.preexisting, env.From)
		link = &peerLink{peerID: env.From, state: LinkAnswering, pending: []json.RawMessage{env.Signal}}
		e.links[env.From] = link
		e.mu.Unlock()

		e.emit(LinkEvent{PeerID: env.From, State: LinkAnswering})
		e.attachConnection(ctx, link, false)
		return
	}
	if link.conn == nil {
		link.pending = append(link.pending, env.Signal)
		e.mu.Unlock()
		return
	}
	conn := link.conn
	e.mu.Unlock()

	if err := conn.Signal(env.Signal); err != nil {
		e.log.Warn("Call", "Rejected signal payload", map[string]interface{}{
			"room": e.room, "peer": env.From, "error": err.Error(),
		})
	}
}

// attachConnection constructs the media connection for a freshly created
// link and flushes any payloads that raced ahead of construction. Called
// without the engine lock: the media layer may invoke handlers inline.
func (e *Engine) attachConnection(ctx context.Context, link *peerLink, initiator bool) {
	peerID := link.peerID
	conn, err := e.media.NewPeerConnection(initiator, e.stream, PeerHandlers{
		OnSignal: func(payload json.RawMessage) {
			env := SignalEnvelope{From: e.self.ID, To: peerID, Signal: payload}
			if perr := e.tr.Publish(ctx, e.room, EventClientSignal, e.self.ID, env); perr != nil {
				e.log.Warn("Call", "Signal broadcast failed", map[string]interface{}{
					"room": e.room, "peer": peerID, "error": perr.Error(),
				})
			}
		},
		OnConnect: func() {
			e.markConnected(peerID)
		},
		OnClose: func() {
			e.closeLink(peerID, ReasonMediaFailed)
		},
	})
	if err != nil {
		e.log.Error("Call", "Peer connection construction failed", map[string]interface{}{
			"room": e.room, "peer": peerID, "error": err.Error(),
		})
		e.closeLink(peerID, ReasonMediaFailed)
		return
	}

	e.mu.Lock()
	if link.state == LinkClosed {
		e.mu.Unlock()
		conn.Close()
		return
	}
	link.conn = conn
	pending := link.pending
	link.pending = nil
	e.mu.Unlock()

	for _, payload := range pending {
		if serr := conn.Signal(payload); serr != nil {
			e.log.Warn("Call", "Rejected signal payload", map[string]interface{}{
				"room": e.room, "peer": peerID, "error": serr.Error(),
			})
		}
	}
}

func (e *Engine) markConnected(peerID string) {
	e.mu.Lock()
	link, ok := e.links[peerID]
	if !ok || link.state == LinkClosed || link.state == LinkConnected {
		e.mu.Unlock()
		return
	}
	link.state = LinkConnected
	e.mu.Unlock()

	e.emit(LinkEvent{PeerID: peerID, State: LinkConnected})
}

// closeLink is the single path into the closed state; every entry after the
// first is a no-op, so a hangup racing a media-layer close settles on the
// first reason.
func (e *Engine) closeLink(peerID string, reason CloseReason) {
	e.mu.Lock()
	link, ok := e.links[peerID]
	if !ok || link.state == LinkClosed {
		e.mu.Unlock()
		return
	}
	link.state = LinkClosed
	link.reason = reason
	conn := link.conn
	link.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	e.emit(LinkEvent{PeerID: peerID, State: LinkClosed, Reason: reason})
}

func (e *Engine) emit(ev LinkEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eventsClosed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.log.Warn("Call", "Link event dropped, consumer stalled", map[string]interface{}{
			"room": e.room, "peer": ev.PeerID, "state": string(ev.State),
		})
	}
}
