package presence

import (
	"context"
	"sync"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"
)

type EventType int

const (
	ParticipantAdded EventType = iota
	ParticipantRemoved
)

// ParticipantEvent is one roster change on the tracked channel.
type ParticipantEvent struct {
	Type   EventType
	Member transport.Member
}

// Tracker derives a live roster from a presence channel's membership events.
// The roster is a set with idempotent add/remove: the initial snapshot and a
// closely-following membership event carry no ordering guarantee, so double
// adds and removes of absent members are normal.
type Tracker struct {
	channel string
	sub     *transport.Subscription
	log     logger.ILogger

	mu     sync.RWMutex
	roster map[string]transport.Member
	known  bool

	events chan ParticipantEvent
	once   sync.Once
}

// Join subscribes to the channel and seeds the roster from the membership
// snapshot. The returned tracker owns the subscription.
func Join(ctx context.Context, tr transport.Transport, channel string, self transport.Member, log logger.ILogger) (*Tracker, error) {
	sub, err := tr.Subscribe(ctx, channel, transport.KindPresence, self)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		channel: channel,
		sub:     sub,
		log:     log,
		roster:  make(map[string]transport.Member, len(sub.Roster)),
		known:   true,
		events:  make(chan ParticipantEvent, 32),
	}
	for _, m := range sub.Roster {
		t.roster[m.ID] = m
	}

	go t.run()
	return t, nil
}

// Roster returns a copy of the current roster. known is false once the
// subscription has dropped: an unreachable transport means membership is
// unknown, not empty.
func (t *Tracker) Roster() (members []transport.Member, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members = make([]transport.Member, 0, len(t.roster))
	for _, m := range t.roster {
		members = append(members, m)
	}
	return members, t.known
}

// Contains reports whether the participant is currently in the roster.
func (t *Tracker) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.roster[id]
	return ok
}

// Events yields roster changes. The stream closes when the tracker is closed
// or the transport drops.
func (t *Tracker) Events() <-chan ParticipantEvent {
	return t.events
}

func (t *Tracker) Close() {
	t.once.Do(func() {
		t.sub.Close()
	})
}

func (t *Tracker) run() {
	defer func() {
		t.mu.Lock()
		t.known = false
		t.mu.Unlock()
		close(t.events)
	}()

	for ev := range t.sub.Events() {
		switch ev.Name {
		case transport.EventMemberAdded:
			var m transport.Member
			if err := transport.Decode(ev, &m); err != nil {
				t.log.Warn("Presence", "Malformed member_added payload", map[string]interface{}{
					"channel": t.channel, "error": err.Error(),
				})
				continue
			}
			t.mu.Lock()
			_, present := t.roster[m.ID]
			t.roster[m.ID] = m
			t.mu.Unlock()
			if present {
				continue // snapshot already carried this member
			}
			t.emit(ParticipantEvent{Type: ParticipantAdded, Member: m})

		case transport.EventMemberRemoved:
			var m transport.Member
			if err := transport.Decode(ev, &m); err != nil {
				t.log.Warn("Presence", "Malformed member_removed payload", map[string]interface{}{
					"channel": t.channel, "error": err.Error(),
				})
				continue
			}
			t.mu.Lock()
			_, present := t.roster[m.ID]
			delete(t.roster, m.ID)
			t.mu.Unlock()
			if !present {
				continue
			}
			t.emit(ParticipantEvent{Type: ParticipantRemoved, Member: m})
		}
	}
}

func (t *Tracker) emit(ev ParticipantEvent) {
	select {
	case t.events <- ev:
	default:
		// A stalled consumer loses roster deltas, not the roster itself:
		// Roster() stays authoritative.
		t.log.Warn("Presence", "Participant event dropped, consumer too slow", map[string]interface{}{
			"channel": t.channel,
		})
	}
}
