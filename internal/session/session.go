package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"teamhub-be/internal/awareness"
	"teamhub-be/internal/call"
	"teamhub-be/internal/crdt"
	"teamhub-be/internal/fanout"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/presence"
	"teamhub-be/internal/transport"
)

// Channel naming, matching the product's wire vocabulary.
func DocumentChannel(docID string) string { return "presence-doc-" + docID }
func ChatChannel(channelID string) string { return "presence-channel-" + channelID }
func RoomChannel(roomID string) string    { return "presence-video-" + roomID }

// ParseDocumentChannel extracts the document id from a document channel name.
func ParseDocumentChannel(channel string) (string, bool) {
	id := strings.TrimPrefix(channel, "presence-doc-")
	if id == channel || id == "" {
		return "", false
	}
	return id, true
}

// Options configures the collaborators a session hands to its workspaces.
type Options struct {
	// Persist receives flattened documents after the quiet period. Nil
	// disables persistence.
	Persist crdt.Persister
	// QuietPeriod overrides the persist debounce. Zero uses the default.
	QuietPeriod time.Duration
	// Awareness overrides typing throttle and expiry. Zero values use the
	// defaults.
	Awareness awareness.Options
	// Media constructs peer connections for room calls. Required before
	// JoinRoom.
	Media call.MediaProvider
}

// Session is one participant's connection-scoped handle on the realtime
// layer. Every workspace it opens is torn down with it; the same document,
// chat or room may be opened once per session.
type Session struct {
	tr   transport.Transport
	self transport.Member
	opts Options
	log  logger.ILogger

	mu     sync.Mutex
	docs   map[string]*Document
	chats  map[string]*Chat
	rooms  map[string]*Room
	closed bool
}

func New(tr transport.Transport, self transport.Member, opts Options, log logger.ILogger) *Session {
	return &Session{
		tr:    tr,
		self:  self,
		opts:  opts,
		log:   log,
		docs:  make(map[string]*Document),
		chats: make(map[string]*Chat),
		rooms: make(map[string]*Room),
	}
}

func (s *Session) Self() transport.Member { return s.self }

// Document is an open collaborative document: the local replica, the
// broadcast pump wiring it to the channel, and the participant layers.
// Presence and Awareness are nil for mirrors.
type Document struct {
	Replica   *crdt.Replica
	Presence  *presence.Tracker
	Awareness *awareness.Store

	sub  *transport.Subscription
	once sync.Once
}

// OpenDocument joins a document's channel and starts replicating. Local
// edits flow out through the replica's outbox; remote operations are merged
// as they arrive.
func (s *Session) OpenDocument(ctx context.Context, docID string) (*Document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.docs[docID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: document %s already open", docID)
	}
	s.mu.Unlock()

	channel := DocumentChannel(docID)

	tracker, err := presence.Join(ctx, s.tr, channel, s.self, s.log)
	if err != nil {
		return nil, err
	}
	aware, err := awareness.Observe(ctx, s.tr, channel, s.self, s.opts.Awareness, s.log)
	if err != nil {
		tracker.Close()
		return nil, err
	}
	sub, err := s.tr.Subscribe(ctx, channel, transport.KindPlain, s.self)
	if err != nil {
		aware.Close()
		tracker.Close()
		return nil, err
	}

	replica := crdt.NewReplica(docID, s.self.ID, s.opts.Persist, s.opts.QuietPeriod, s.log)
	doc := &Document{
		Replica:   replica,
		Presence:  tracker,
		Awareness: aware,
		sub:       sub,
	}

	go s.pumpOutbound(ctx, channel, replica)
	go s.pumpInbound(doc)

	s.mu.Lock()
	s.docs[docID] = doc
	s.mu.Unlock()
	return doc, nil
}

// MirrorDocument attaches a silent replica to a document's channel: no
// membership announcement, no awareness, just the operation stream. The
// gateway runs one per active document so edits are flattened and persisted
// server-side while browser editors are attached.
func (s *Session) MirrorDocument(ctx context.Context, docID string) (*Document, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.docs[docID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: document %s already open", docID)
	}
	s.mu.Unlock()

	sub, err := s.tr.Subscribe(ctx, DocumentChannel(docID), transport.KindPlain, s.self)
	if err != nil {
		return nil, err
	}
	replica := crdt.NewReplica(docID, s.self.ID, s.opts.Persist, s.opts.QuietPeriod, s.log)
	doc := &Document{Replica: replica, sub: sub}
	go s.pumpInbound(doc)

	s.mu.Lock()
	s.docs[docID] = doc
	s.mu.Unlock()
	return doc, nil
}

// CloseDocument leaves the document channel. Any pending persist debounce is
// cancelled; the last flattened state remains the durable one.
func (s *Session) CloseDocument(docID string) {
	s.mu.Lock()
	doc, ok := s.docs[docID]
	delete(s.docs, docID)
	s.mu.Unlock()
	if ok {
		doc.close()
	}
}

func (d *Document) close() {
	d.once.Do(func() {
		d.Replica.Close()
		d.sub.Close()
		if d.Awareness != nil {
			d.Awareness.Close()
		}
		if d.Presence != nil {
			d.Presence.Close()
		}
	})
}

// Chat is a joined chat channel: message fanout plus the participant layers.
type Chat struct {
	Router    *fanout.Router
	Presence  *presence.Tracker
	Awareness *awareness.Store

	once sync.Once
}

// JoinChat subscribes to a chat channel's messages, reactions, typing and
// membership.
func (s *Session) JoinChat(ctx context.Context, channelID string) (*Chat, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.chats[channelID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: chat %s already joined", channelID)
	}
	s.mu.Unlock()

	channel := ChatChannel(channelID)

	tracker, err := presence.Join(ctx, s.tr, channel, s.self, s.log)
	if err != nil {
		return nil, err
	}
	aware, err := awareness.Observe(ctx, s.tr, channel, s.self, s.opts.Awareness, s.log)
	if err != nil {
		tracker.Close()
		return nil, err
	}
	router, err := fanout.Open(ctx, s.tr, channel, s.self, s.log)
	if err != nil {
		aware.Close()
		tracker.Close()
		return nil, err
	}

	chat := &Chat{Router: router, Presence: tracker, Awareness: aware}
	s.mu.Lock()
	s.chats[channelID] = chat
	s.mu.Unlock()
	return chat, nil
}

func (s *Session) LeaveChat(channelID string) {
	s.mu.Lock()
	chat, ok := s.chats[channelID]
	delete(s.chats, channelID)
	s.mu.Unlock()
	if ok {
		chat.close()
	}
}

func (c *Chat) close() {
	c.once.Do(func() {
		c.Router.Close()
		c.Awareness.Close()
		c.Presence.Close()
	})
}

// Room is a joined call room: the negotiation engine plus room membership.
type Room struct {
	Engine   *call.Engine
	Presence *presence.Tracker

	once sync.Once
}

// JoinRoom enters a call room: local media is acquired first, then the room
// membership is announced, so a participant without working media never
// appears in the room. Media failure aborts the join.
func (s *Session) JoinRoom(ctx context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: room %s already joined", roomID)
	}
	media := s.opts.Media
	s.mu.Unlock()
	if media == nil {
		return nil, ErrNoMediaProvider
	}

	channel := RoomChannel(roomID)

	// Media first: a participant whose devices fail never enters the room,
	// so the others see no ghost member to offer toward.
	stream, err := media.Acquire(ctx)
	if err != nil {
		s.log.Error("Session", "Media acquisition failed", map[string]interface{}{
			"room": roomID, "error": err.Error(),
		})
		return nil, err
	}

	// The engine's own subscription announces us; it must be the first one so
	// the announcement peers offer toward is also the stream we hear their
	// signals on. The tracker joins afterwards as the observable roster.
	engine, err := call.Start(ctx, s.tr, channel, s.self, media, stream, s.log)
	if err != nil {
		stream.Stop()
		return nil, err
	}
	tracker, err := presence.Join(ctx, s.tr, channel, s.self, s.log)
	if err != nil {
		engine.Close()
		return nil, err
	}

	room := &Room{Engine: engine, Presence: tracker}
	s.mu.Lock()
	s.rooms[roomID] = room
	s.mu.Unlock()
	return room, nil
}

func (s *Session) LeaveRoom(roomID string) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if ok {
		room.close()
	}
}

func (r *Room) close() {
	r.once.Do(func() {
		r.Engine.Close()
		r.Presence.Close()
	})
}

// Close tears down every open workspace. Remote participants observe the
// departures through the membership announcements of each channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	docs := s.docs
	chats := s.chats
	rooms := s.rooms
	s.docs = make(map[string]*Document)
	s.chats = make(map[string]*Chat)
	s.rooms = make(map[string]*Room)
	s.mu.Unlock()

	for _, doc := range docs {
		doc.close()
	}
	for _, chat := range chats {
		chat.close()
	}
	for _, room := range rooms {
		room.close()
	}
}

// pumpOutbound forwards locally-applied operations to the channel until the
// replica closes.
func (s *Session) pumpOutbound(ctx context.Context, channel string, replica *crdt.Replica) {
	for op := range replica.Outbox() {
		if err := s.tr.Publish(ctx, channel, crdt.EventDocOp, s.self.ID, op); err != nil {
			s.log.Warn("Session", "Operation broadcast failed", map[string]interface{}{
				"channel": channel, "error": err.Error(),
			})
		}
	}
}

// pumpInbound merges remote operations into the replica until the channel
// subscription ends.
func (s *Session) pumpInbound(doc *Document) {
	for ev := range doc.sub.Events() {
		if ev.Name != crdt.EventDocOp {
			continue
		}
		var op crdt.Op
		if err := transport.Decode(ev, &op); err != nil {
			s.log.Warn("Session", "Malformed operation payload", map[string]interface{}{
				"doc": doc.Replica.DocID(), "sender": ev.Sender,
			})
			continue
		}
		if err := doc.Replica.ApplyRemote(op); err != nil && err != crdt.ErrClosed {
			s.log.Warn("Session", "Remote operation rejected", map[string]interface{}{
				"doc": doc.Replica.DocID(), "error": err.Error(),
			})
		}
	}
}
