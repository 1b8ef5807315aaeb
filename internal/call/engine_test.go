package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/presence"
	"teamhub-be/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu      sync.Mutex
	stopped bool
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakePeer simulates the offer/answer handshake: the initiator emits an
// offer on construction, the responder answers and connects, the initiator
// connects on the answer.
type fakePeer struct {
	initiator bool
	h         PeerHandlers

	mu     sync.Mutex
	closed bool
}

func (p *fakePeer) Signal(payload json.RawMessage) error {
	var m map[string]string
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	switch m["t"] {
	case "offer":
		if p.initiator {
			return errors.New("offer sent to initiator")
		}
		go func() {
			p.h.OnSignal(json.RawMessage(`{"t":"answer"}`))
			p.h.OnConnect()
		}()
	case "answer":
		if !p.initiator {
			return errors.New("answer sent to responder")
		}
		go p.h.OnConnect()
	}
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeMedia struct {
	acquireErr error
	peerErr    error

	mu    sync.Mutex
	peers []*fakePeer
}

func (m *fakeMedia) Acquire(ctx context.Context) (MediaStream, error) {
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	return &fakeStream{}, nil
}

func (m *fakeMedia) NewPeerConnection(initiator bool, stream MediaStream, h PeerHandlers) (PeerConnection, error) {
	if m.peerErr != nil {
		return nil, m.peerErr
	}
	p := &fakePeer{initiator: initiator, h: h}
	m.mu.Lock()
	m.peers = append(m.peers, p)
	m.mu.Unlock()
	if initiator {
		go h.OnSignal(json.RawMessage(`{"t":"offer"}`))
	}
	return p, nil
}

func (m *fakeMedia) initiatorCount() (initiators, responders int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.peers {
		if p.initiator {
			initiators++
		} else {
			responders++
		}
	}
	return
}

type participant struct {
	engine  *Engine
	tracker *presence.Tracker
	media   *fakeMedia
	stream  *fakeStream
}

func joinRoom(t *testing.T, bus transport.Transport, room, id string, media *fakeMedia) *participant {
	t.Helper()
	ctx := context.Background()
	self := transport.Member{ID: id}

	stream, err := media.Acquire(ctx)
	require.NoError(t, err)

	engine, err := Start(ctx, bus, room, self, media, stream, logger.NewNopLogger())
	require.NoError(t, err)

	tracker, err := presence.Join(ctx, bus, room, self, logger.NewNopLogger())
	require.NoError(t, err)

	p := &participant{engine: engine, tracker: tracker, media: media, stream: stream.(*fakeStream)}
	t.Cleanup(func() {
		p.engine.Close()
		p.tracker.Close()
	})
	return p
}

func waitLinkState(t *testing.T, e *Engine, peerID string, want LinkState) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, ok := e.Link(peerID)
		return ok && state == want
	}, 2*time.Second, 10*time.Millisecond, "peer %s never reached %s", peerID, want)
}

func waitCloseReason(t *testing.T, e *Engine, peerID string, want CloseReason) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-e.Events():
			if !ok {
				t.Fatal("engine event stream closed")
			}
			if ev.PeerID == peerID && ev.State == LinkClosed {
				assert.Equal(t, want, ev.Reason)
				return
			}
		case <-deadline:
			t.Fatalf("peer %s never closed", peerID)
		}
	}
}

func TestTwoPartyNegotiation(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	mediaA := &fakeMedia{}
	mediaB := &fakeMedia{}
	a := joinRoom(t, bus, "presence-video-1", "a", mediaA)
	b := joinRoom(t, bus, "presence-video-1", "b", mediaB)

	waitLinkState(t, a.engine, "b", LinkConnected)
	waitLinkState(t, b.engine, "a", LinkConnected)

	// The participant already in the room makes the offer; the joiner
	// answers. Exactly one side of the pair initiates.
	initA, respA := mediaA.initiatorCount()
	initB, respB := mediaB.initiatorCount()
	assert.Equal(t, 1, initA)
	assert.Equal(t, 0, respA)
	assert.Equal(t, 0, initB)
	assert.Equal(t, 1, respB)
}

// Two participants racing into an empty room must still settle on exactly
// one initiator: whichever join lands second carries the first in its
// snapshot and waits for the offer.
func TestSimultaneousJoinsElectOneInitiator(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()
	ctx := context.Background()

	mediaA := &fakeMedia{}
	mediaB := &fakeMedia{}
	streamA, err := mediaA.Acquire(ctx)
	require.NoError(t, err)
	streamB, err := mediaB.Acquire(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var engA, engB *Engine
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		engA, errA = Start(ctx, bus, "presence-video-1", transport.Member{ID: "a"}, mediaA, streamA, logger.NewNopLogger())
	}()
	go func() {
		defer wg.Done()
		engB, errB = Start(ctx, bus, "presence-video-1", transport.Member{ID: "b"}, mediaB, streamB, logger.NewNopLogger())
	}()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	t.Cleanup(engA.Close)
	t.Cleanup(engB.Close)

	waitLinkState(t, engA, "b", LinkConnected)
	waitLinkState(t, engB, "a", LinkConnected)

	initA, respA := mediaA.initiatorCount()
	initB, respB := mediaB.initiatorCount()
	assert.Equal(t, 1, initA+initB, "exactly one side may offer")
	assert.Equal(t, 1, respA+respB, "exactly one side may answer")
}

func TestPeerDepartureClosesLink(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})
	b := joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})

	waitLinkState(t, a.engine, "b", LinkConnected)

	b.engine.Close()
	b.tracker.Close()

	waitCloseReason(t, a.engine, "b", ReasonPeerLeft)
}

func TestHangupClosesLinkLocally(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})
	_ = joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})

	waitLinkState(t, a.engine, "b", LinkConnected)

	a.engine.Hangup("b")
	waitCloseReason(t, a.engine, "b", ReasonHangup)

	// The room membership is untouched by a hangup.
	assert.True(t, a.tracker.Contains("b"))
}

func TestPeerConstructionFailureClosesLink(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	broken := &fakeMedia{peerErr: errors.New("no codec")}
	a := joinRoom(t, bus, "presence-video-1", "a", broken)
	_ = joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})

	waitCloseReason(t, a.engine, "b", ReasonMediaFailed)
}

func TestAcquireFailure(t *testing.T) {
	media := &fakeMedia{acquireErr: errors.New("device busy")}
	_, err := media.Acquire(context.Background())
	assert.Error(t, err)
}

// An offer can outrun the roster bookkeeping; it must still get an
// answering link.
func TestUnsolicitedOfferCreatesAnsweringLink(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})

	env := SignalEnvelope{From: "ghost", To: "a", Signal: json.RawMessage(`{"t":"offer"}`)}
	require.NoError(t, bus.Publish(context.Background(), "presence-video-1", EventClientSignal, "ghost", env))

	waitLinkState(t, a.engine, "ghost", LinkConnected)

	_, responders := a.media.initiatorCount()
	assert.Equal(t, 1, responders)
}

// A peer that leaves and comes back gets a brand new link.
func TestRejoinCreatesFreshLink(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})
	b := joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})

	waitLinkState(t, a.engine, "b", LinkConnected)

	b.engine.Close()
	b.tracker.Close()
	waitCloseReason(t, a.engine, "b", ReasonPeerLeft)

	joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})
	waitLinkState(t, a.engine, "b", LinkConnected)

	initiators, _ := a.media.initiatorCount()
	assert.Equal(t, 2, initiators, "rejoin must negotiate a fresh connection")
}

// The offering side is always the room resident, even after the original
// offerer leaves and comes back as the newcomer.
func TestInitiatorFollowsArrivalOrderAfterRejoin(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	mediaA := &fakeMedia{}
	b := joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})
	a := joinRoom(t, bus, "presence-video-1", "a", mediaA)

	waitLinkState(t, a.engine, "b", LinkConnected)
	initA, respA := mediaA.initiatorCount()
	assert.Equal(t, 0, initA, "the joiner answers")
	assert.Equal(t, 1, respA)

	b.engine.Close()
	b.tracker.Close()
	waitCloseReason(t, a.engine, "b", ReasonPeerLeft)

	joinRoom(t, bus, "presence-video-1", "b", &fakeMedia{})
	waitLinkState(t, a.engine, "b", LinkConnected)

	initA, _ = mediaA.initiatorCount()
	assert.Equal(t, 1, initA, "the resident offers toward the rejoining peer")
}

func TestSignalsNotForMeAreIgnored(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})

	env := SignalEnvelope{From: "x", To: "someone-else", Signal: json.RawMessage(`{"t":"offer"}`)}
	require.NoError(t, bus.Publish(context.Background(), "presence-video-1", EventClientSignal, "x", env))

	time.Sleep(100 * time.Millisecond)
	_, ok := a.engine.Link("x")
	assert.False(t, ok)
}

func TestCloseReleasesMedia(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	a := joinRoom(t, bus, "presence-video-1", "a", &fakeMedia{})
	a.engine.Close()

	assert.Eventually(t, func() bool { return a.stream.Stopped() },
		time.Second, 10*time.Millisecond)
}
