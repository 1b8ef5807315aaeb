package awareness

import (
	"context"
	"sync"
	"time"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"

	"github.com/patrickmn/go-cache"
)

// EventAwarenessState carries a participant's full awareness state. Whole
// states, never diffs: a listener that missed earlier updates converges on
// the next broadcast.
const EventAwarenessState = "awareness-state"

// Reference windows from the product: senders throttle typing broadcasts to
// one per 2s, receivers clear a stuck typing flag after 3s of silence.
const (
	DefaultTypingThrottle = 2 * time.Second
	DefaultTypingExpiry   = 3 * time.Second
)

// Cursor is an ephemeral caret position inside a document.
type Cursor struct {
	Block  string `json:"block"`
	Offset int    `json:"offset"`
}

// State is the per-participant awareness record. Mutated only by its owner,
// broadcast on every change, never persisted.
type State struct {
	Member    transport.Member `json:"member"`
	Cursor    *Cursor          `json:"cursor,omitempty"`
	Typing    bool             `json:"typing"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Update is a partial state change; nil fields are left as they were.
type Update struct {
	Name   *string
	Image  *string
	Cursor *Cursor
	Typing *bool
}

type Options struct {
	TypingThrottle time.Duration
	TypingExpiry   time.Duration
}

// Store observes awareness broadcasts on one channel and owns the local
// participant's state.
type Store struct {
	channel string
	self    transport.Member
	tr      transport.Transport
	sub     *transport.Subscription
	log     logger.ILogger

	throttle time.Duration
	expiry   time.Duration

	mu     sync.RWMutex
	local  State
	states map[string]State

	// typingSeen holds participants whose last broadcast said typing=true,
	// expiring after the decay window. Receivers report the stricter of
	// "explicit false received" and "window elapsed since last true".
	typingSeen *cache.Cache

	lastTypingSent time.Time
	once           sync.Once
}

func Observe(ctx context.Context, tr transport.Transport, channel string, self transport.Member, opts Options, log logger.ILogger) (*Store, error) {
	if opts.TypingThrottle == 0 {
		opts.TypingThrottle = DefaultTypingThrottle
	}
	if opts.TypingExpiry == 0 {
		opts.TypingExpiry = DefaultTypingExpiry
	}

	sub, err := tr.Subscribe(ctx, channel, transport.KindPlain, self)
	if err != nil {
		return nil, err
	}

	s := &Store{
		channel:    channel,
		self:       self,
		tr:         tr,
		sub:        sub,
		log:        log,
		throttle:   opts.TypingThrottle,
		expiry:     opts.TypingExpiry,
		local:      State{Member: self},
		states:     make(map[string]State),
		typingSeen: cache.New(opts.TypingExpiry, time.Minute),
	}

	go s.run()
	return s, nil
}

// SetLocal merges the partial update into the local state and broadcasts the
// entire resulting state. Repeated typing=true refreshes are throttled;
// an explicit typing=false always goes out.
func (s *Store) SetLocal(ctx context.Context, u Update) error {
	s.mu.Lock()
	if u.Name != nil {
		s.local.Member.Name = *u.Name
	}
	if u.Image != nil {
		s.local.Member.Image = *u.Image
	}
	if u.Cursor != nil {
		s.local.Cursor = u.Cursor
	}
	throttled := false
	if u.Typing != nil {
		if *u.Typing && s.local.Typing && time.Since(s.lastTypingSent) < s.throttle {
			throttled = true
		}
		s.local.Typing = *u.Typing
		if *u.Typing && !throttled {
			s.lastTypingSent = time.Now()
		}
	}
	s.local.UpdatedAt = time.Now()
	state := s.local
	s.mu.Unlock()

	if throttled {
		return nil
	}
	return s.tr.Publish(ctx, s.channel, EventAwarenessState, s.self.ID, state)
}

// Local returns the owned state.
func (s *Store) Local() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

// Snapshot returns last-known state per remote participant, with the typing
// flag already decayed.
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for id, st := range s.states {
		st.Typing = s.typingActive(id, st)
		out[id] = st
	}
	return out
}

// Typing reports whether the participant is typing right now.
func (s *Store) Typing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	if !ok {
		return false
	}
	return s.typingActive(id, st)
}

func (s *Store) typingActive(id string, st State) bool {
	if !st.Typing {
		return false
	}
	_, alive := s.typingSeen.Get(id)
	return alive
}

func (s *Store) Close() {
	s.once.Do(func() {
		s.sub.Close()
	})
}

func (s *Store) run() {
	for ev := range s.sub.Events() {
		switch ev.Name {
		case EventAwarenessState:
			if ev.Sender == s.self.ID {
				continue
			}
			var st State
			if err := transport.Decode(ev, &st); err != nil {
				s.log.Warn("Awareness", "Malformed state payload", map[string]interface{}{
					"channel": s.channel, "sender": ev.Sender, "error": err.Error(),
				})
				continue
			}
			s.mu.Lock()
			s.states[ev.Sender] = st
			s.mu.Unlock()
			if st.Typing {
				s.typingSeen.Set(ev.Sender, time.Now(), s.expiry)
			} else {
				s.typingSeen.Delete(ev.Sender)
			}

		case transport.EventMemberRemoved:
			var m transport.Member
			if err := transport.Decode(ev, &m); err != nil {
				continue
			}
			s.mu.Lock()
			delete(s.states, m.ID)
			s.mu.Unlock()
			s.typingSeen.Delete(m.ID)
		}
	}
}
