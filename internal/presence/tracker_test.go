package presence

import (
	"context"
	"testing"
	"time"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitParticipant(t *testing.T, tr *Tracker, typ EventType) transport.Member {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				t.Fatal("tracker event stream closed")
			}
			if ev.Type == typ {
				return ev.Member
			}
		case <-deadline:
			t.Fatal("timed out waiting for participant event")
		}
	}
}

func TestJoinSeesExistingParticipants(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()
	ctx := context.Background()

	first, err := Join(ctx, bus, "presence-room", transport.Member{ID: "a"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer first.Close()

	second, err := Join(ctx, bus, "presence-room", transport.Member{ID: "b"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer second.Close()

	roster, known := second.Roster()
	require.True(t, known)
	ids := make([]string, 0, len(roster))
	for _, m := range roster {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestJoinAndLeaveEvents(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()
	ctx := context.Background()

	watcher, err := Join(ctx, bus, "presence-room", transport.Member{ID: "w"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer watcher.Close()

	peer, err := Join(ctx, bus, "presence-room", transport.Member{ID: "p", Name: "Peer"}, logger.NewNopLogger())
	require.NoError(t, err)

	added := waitParticipant(t, watcher, ParticipantAdded)
	assert.Equal(t, "p", added.ID)
	assert.Equal(t, "Peer", added.Name)
	assert.True(t, watcher.Contains("p"))

	peer.Close()
	removed := waitParticipant(t, watcher, ParticipantRemoved)
	assert.Equal(t, "p", removed.ID)
	assert.Eventually(t, func() bool { return !watcher.Contains("p") },
		time.Second, 10*time.Millisecond)
}

// The snapshot and the membership event for the same member must not produce
// a duplicate add.
func TestSnapshotMemberNotReAnnounced(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()
	ctx := context.Background()

	first, err := Join(ctx, bus, "presence-room", transport.Member{ID: "a"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer first.Close()

	second, err := Join(ctx, bus, "presence-room", transport.Member{ID: "b"}, logger.NewNopLogger())
	require.NoError(t, err)
	defer second.Close()

	// second's snapshot already carried "a"; a straggling member_added for
	// "a" must be suppressed. Only its own announcement echo could surface,
	// and that is also in the snapshot.
	select {
	case ev, ok := <-second.Events():
		if ok {
			t.Fatalf("unexpected participant event: %+v", ev)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRosterUnknownAfterClose(t *testing.T) {
	bus := transport.NewGoChannel(logger.NewNopLogger())
	defer bus.Close()

	tracker, err := Join(context.Background(), bus, "presence-room", transport.Member{ID: "a"}, logger.NewNopLogger())
	require.NoError(t, err)

	tracker.Close()
	assert.Eventually(t, func() bool {
		_, known := tracker.Roster()
		return !known
	}, time.Second, 10*time.Millisecond)
}
