package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"teamhub-be/internal/awareness"
	"teamhub-be/internal/call"
	"teamhub-be/internal/crdt"
	"teamhub-be/internal/fanout"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *transport.GoChannel {
	t.Helper()
	bus := transport.NewGoChannel(logger.NewNopLogger())
	t.Cleanup(func() { bus.Close() })
	return bus
}

func newSession(t *testing.T, bus transport.Transport, id string, opts Options) *Session {
	t.Helper()
	s := New(bus, transport.Member{ID: id, Name: "user-" + id}, opts, logger.NewNopLogger())
	t.Cleanup(s.Close)
	return s
}

func docTexts(doc *Document) []string {
	tree := doc.Replica.Tree()
	out := make([]string, 0, len(tree))
	for _, n := range tree {
		out = append(out, n.Text)
	}
	return out
}

func TestDocumentEditsReplicate(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})
	bob := newSession(t, bus, "bob", Options{})

	ctx := context.Background()
	docA, err := alice.OpenDocument(ctx, "doc-1")
	require.NoError(t, err)
	docB, err := bob.OpenDocument(ctx, "doc-1")
	require.NoError(t, err)

	_, err = docA.Replica.InsertAt(crdt.ID{}, 0, crdt.Element{Kind: crdt.KindParagraph, Text: "hello"})
	require.NoError(t, err)
	_, err = docB.Replica.InsertAt(crdt.ID{}, 0, crdt.Element{Kind: crdt.KindParagraph, Text: "world"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		a, b := docTexts(docA), docTexts(docB)
		return len(a) == 2 && len(b) == 2 && a[0] == b[0] && a[1] == b[1]
	}, 2*time.Second, 10*time.Millisecond, "replicas must converge")
}

func TestDocumentPresenceAndAwareness(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})
	bob := newSession(t, bus, "bob", Options{})

	ctx := context.Background()
	docA, err := alice.OpenDocument(ctx, "doc-1")
	require.NoError(t, err)
	docB, err := bob.OpenDocument(ctx, "doc-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return docA.Presence.Contains("bob") },
		2*time.Second, 10*time.Millisecond)

	typing := true
	require.NoError(t, docB.Awareness.SetLocal(ctx, awareness.Update{
		Typing: &typing,
		Cursor: &awareness.Cursor{Block: "intro", Offset: 4},
	}))

	assert.Eventually(t, func() bool {
		st, ok := docA.Awareness.Snapshot()["bob"]
		return ok && st.Typing && st.Cursor != nil && st.Cursor.Block == "intro"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDocumentPersistenceDebounce(t *testing.T) {
	bus := newBus(t)

	var mu sync.Mutex
	saved := map[string][]byte{}
	persist := func(docID string, content []byte) {
		mu.Lock()
		saved[docID] = content
		mu.Unlock()
	}

	alice := newSession(t, bus, "alice", Options{Persist: persist, QuietPeriod: 30 * time.Millisecond})
	doc, err := alice.OpenDocument(context.Background(), "doc-9")
	require.NoError(t, err)

	_, err = doc.Replica.InsertAt(crdt.ID{}, 0, crdt.Element{Kind: crdt.KindParagraph, Text: "persist me"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(saved["doc-9"]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, string(saved["doc-9"]), "persist me")
	mu.Unlock()
}

// The gateway's server-side replica consumes edits silently and hands the
// flattened document to the persister.
func TestMirrorDocumentPersistsEdits(t *testing.T) {
	bus := newBus(t)

	var mu sync.Mutex
	saved := map[string][]byte{}
	persist := func(docID string, content []byte) {
		mu.Lock()
		saved[docID] = content
		mu.Unlock()
	}
	mirror := newSession(t, bus, "document-mirror", Options{Persist: persist, QuietPeriod: 30 * time.Millisecond})
	_, err := mirror.MirrorDocument(context.Background(), "doc-3")
	require.NoError(t, err)

	alice := newSession(t, bus, "alice", Options{})
	docA, err := alice.OpenDocument(context.Background(), "doc-3")
	require.NoError(t, err)

	_, err = docA.Replica.InsertAt(crdt.ID{}, 0, crdt.Element{Kind: crdt.KindParagraph, Text: "server copy"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(saved["doc-3"]) > 0
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Contains(t, string(saved["doc-3"]), "server copy")
	mu.Unlock()

	// Mirrors never announce themselves to the editors.
	assert.False(t, docA.Presence.Contains("document-mirror"))
}

func TestParseDocumentChannel(t *testing.T) {
	tests := []struct {
		channel string
		id      string
		ok      bool
	}{
		{"presence-doc-42", "42", true},
		{"presence-doc-", "", false},
		{"presence-channel-42", "", false},
		{"presence-video-42", "", false},
		{"doc-42", "", false},
	}
	for _, tt := range tests {
		id, ok := ParseDocumentChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		assert.Equal(t, tt.id, id, tt.channel)
	}
}

func TestChatFlow(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})
	bob := newSession(t, bus, "bob", Options{})

	ctx := context.Background()
	chatA, err := alice.JoinChat(ctx, "ch-1")
	require.NoError(t, err)
	chatB, err := bob.JoinChat(ctx, "ch-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return chatA.Presence.Contains("bob") },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, chatA.Router.Publish(ctx, fanout.Message{
		ID:        "m1",
		ChannelID: "ch-1",
		Author:    alice.Self(),
		Body:      "hi bob",
		CreatedAt: time.Now(),
	}))

	assert.Eventually(t, func() bool {
		msgs := chatB.Router.Messages()
		return len(msgs) == 1 && msgs[0].Body == "hi bob"
	}, 2*time.Second, 10*time.Millisecond)

	_, err = chatB.Router.ToggleReaction(ctx, "m1", "👍")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return chatA.Router.HasReacted("m1", "👍", "bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionCloseAnnouncesDepartures(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})
	bob := newSession(t, bus, "bob", Options{})

	ctx := context.Background()
	chatA, err := alice.JoinChat(ctx, "ch-1")
	require.NoError(t, err)
	_, err = bob.JoinChat(ctx, "ch-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return chatA.Presence.Contains("bob") },
		2*time.Second, 10*time.Millisecond)

	bob.Close()

	assert.Eventually(t, func() bool { return !chatA.Presence.Contains("bob") },
		2*time.Second, 10*time.Millisecond)
}

func TestDoubleOpenRejected(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})

	ctx := context.Background()
	_, err := alice.OpenDocument(ctx, "doc-1")
	require.NoError(t, err)
	_, err = alice.OpenDocument(ctx, "doc-1")
	assert.Error(t, err)

	_, err = alice.JoinChat(ctx, "ch-1")
	require.NoError(t, err)
	_, err = alice.JoinChat(ctx, "ch-1")
	assert.Error(t, err)
}

func TestClosedSessionRefusesWork(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})
	alice.Close()

	_, err := alice.OpenDocument(context.Background(), "doc-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = alice.JoinChat(context.Background(), "ch-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestJoinRoomWithoutMediaProvider(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{})

	_, err := alice.JoinRoom(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrNoMediaProvider)
}

// loopMedia simulates the offer/answer handshake end to end.
type loopMedia struct {
	acquireErr error
}

type loopStream struct{}

func (loopStream) Stop() {}

type loopPeer struct {
	initiator bool
	h         call.PeerHandlers
}

func (m *loopMedia) Acquire(ctx context.Context) (call.MediaStream, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	return loopStream{}, nil
}

func (m *loopMedia) NewPeerConnection(initiator bool, stream call.MediaStream, h call.PeerHandlers) (call.PeerConnection, error) {
	p := &loopPeer{initiator: initiator, h: h}
	if initiator {
		go h.OnSignal(json.RawMessage(`{"t":"offer"}`))
	}
	return p, nil
}

func (p *loopPeer) Signal(payload json.RawMessage) error {
	var m map[string]string
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	switch m["t"] {
	case "offer":
		go func() {
			p.h.OnSignal(json.RawMessage(`{"t":"answer"}`))
			p.h.OnConnect()
		}()
	case "answer":
		go p.h.OnConnect()
	}
	return nil
}

func (p *loopPeer) Close() error { return nil }

func TestRoomCallConnects(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{Media: &loopMedia{}})
	bob := newSession(t, bus, "bob", Options{Media: &loopMedia{}})

	ctx := context.Background()
	roomA, err := alice.JoinRoom(ctx, "room-1")
	require.NoError(t, err)
	roomB, err := bob.JoinRoom(ctx, "room-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		state, ok := roomA.Engine.Link("bob")
		return ok && state == call.LinkConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		state, ok := roomB.Engine.Link("alice")
		return ok && state == call.LinkConnected
	}, 2*time.Second, 10*time.Millisecond)
}

// A participant whose media acquisition fails must never become visible in
// the room.
func TestRoomJoinAbortsOnMediaFailure(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{Media: &loopMedia{}})
	broken := newSession(t, bus, "broken", Options{Media: &loopMedia{acquireErr: errors.New("camera unavailable")}})

	ctx := context.Background()
	roomA, err := alice.JoinRoom(ctx, "room-1")
	require.NoError(t, err)

	_, err = broken.JoinRoom(ctx, "room-1")
	require.Error(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, roomA.Presence.Contains("broken"))
	_, ok := roomA.Engine.Link("broken")
	assert.False(t, ok)
}

func TestLeaveRoomClosesLinks(t *testing.T) {
	bus := newBus(t)
	alice := newSession(t, bus, "alice", Options{Media: &loopMedia{}})
	bob := newSession(t, bus, "bob", Options{Media: &loopMedia{}})

	ctx := context.Background()
	roomA, err := alice.JoinRoom(ctx, "room-1")
	require.NoError(t, err)
	_, err = bob.JoinRoom(ctx, "room-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		state, ok := roomA.Engine.Link("bob")
		return ok && state == call.LinkConnected
	}, 2*time.Second, 10*time.Millisecond)

	bob.LeaveRoom("room-1")

	assert.Eventually(t, func() bool {
		state, _ := roomA.Engine.Link("bob")
		return state == call.LinkClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !roomA.Presence.Contains("bob") },
		2*time.Second, 10*time.Millisecond)
}
