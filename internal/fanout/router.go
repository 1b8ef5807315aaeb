package fanout

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/transport"
)

// Event names on a chat channel, matching the product's wire vocabulary.
const (
	EventNewMessage      = "new-message"
	EventMessageReaction = "message-reaction"
)

const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
)

// Message is a chat message as broadcast: already durably stored by the
// storage collaborator, so it carries a stable id. The body is immutable
// once created.
type Message struct {
	ID          string           `json:"id"`
	ChannelID   string           `json:"channel_id"`
	Author      transport.Member `json:"author"`
	Body        string           `json:"body"`
	Attachments json.RawMessage  `json:"attachments,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ReactionEvent is one reaction toggle. The broadcast is at-least-once;
// receivers absorb redelivery through set semantics.
type ReactionEvent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
}

type reactionKey struct {
	messageID string
	emoji     string
	userID    string
}

// Router reconstructs a channel's message timeline and reaction sets from
// at-least-once, possibly duplicated deliveries. Reaction membership is a
// set keyed by (message, emoji, user): re-applying an add or remove that is
// already in the target state is a no-op.
type Router struct {
	channel string
	self    transport.Member
	tr      transport.Transport
	sub     *transport.Subscription
	log     logger.ILogger

	mu        sync.RWMutex
	order     []string
	messages  map[string]*Message
	reactions map[reactionKey]bool

	once sync.Once
}

func Open(ctx context.Context, tr transport.Transport, channel string, self transport.Member, log logger.ILogger) (*Router, error) {
	sub, err := tr.Subscribe(ctx, channel, transport.KindPlain, self)
	if err != nil {
		return nil, err
	}
	r := &Router{
		channel:   channel,
		self:      self,
		tr:        tr,
		sub:       sub,
		log:       log,
		messages:  make(map[string]*Message),
		reactions: make(map[reactionKey]bool),
	}
	go r.run()
	return r, nil
}

// Publish broadcasts a stored message to the channel. The local timeline is
// updated immediately; the echoed self-delivery is absorbed by id.
func (r *Router) Publish(ctx context.Context, msg Message) error {
	r.apply(&msg)
	return r.tr.Publish(ctx, r.channel, EventNewMessage, r.self.ID, msg)
}

// ToggleReaction computes the toggle against local membership ("if I already
// reacted, remove; else add"), applies it, and broadcasts it. The returned
// action is what went out.
func (r *Router) ToggleReaction(ctx context.Context, messageID, emoji string) (string, error) {
	key := reactionKey{messageID: messageID, emoji: emoji, userID: r.self.ID}

	r.mu.Lock()
	action := ActionAdded
	if r.reactions[key] {
		action = ActionRemoved
		delete(r.reactions, key)
	} else {
		r.reactions[key] = true
	}
	r.mu.Unlock()

	ev := ReactionEvent{MessageID: messageID, Emoji: emoji, UserID: r.self.ID, Action: action}
	if err := r.tr.Publish(ctx, r.channel, EventMessageReaction, r.self.ID, ev); err != nil {
		// Local state is already correct; remote subscribers lag until their
		// next fetch. Recoverable staleness, not a failure of the toggle.
		r.log.Warn("Fanout", "Reaction broadcast failed", map[string]interface{}{
			"channel": r.channel, "message": messageID, "error": err.Error(),
		})
	}
	return action, nil
}

// Seed loads an already-fetched history (fetch-on-reconnect reconciliation).
// Duplicates against live deliveries are absorbed by id.
func (r *Router) Seed(msgs []Message) {
	for i := range msgs {
		r.apply(&msgs[i])
	}
}

// SeedReactions loads stored reaction memberships.
func (r *Router) SeedReactions(evs []ReactionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range evs {
		r.applyReactionLocked(ev)
	}
}

// Messages returns the timeline in creation order.
func (r *Router) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.messages[id])
	}
	return out
}

// Reactions returns the reaction set of one message: emoji -> reacting users.
func (r *Router) Reactions(messageID string) map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string)
	for key := range r.reactions {
		if key.messageID != messageID {
			continue
		}
		out[key.emoji] = append(out[key.emoji], key.userID)
	}
	for emoji := range out {
		sort.Strings(out[emoji])
	}
	return out
}

// HasReacted reports one membership.
func (r *Router) HasReacted(messageID, emoji, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reactions[reactionKey{messageID: messageID, emoji: emoji, userID: userID}]
}

func (r *Router) Close() {
	r.once.Do(func() {
		r.sub.Close()
	})
}

func (r *Router) run() {
	for ev := range r.sub.Events() {
		switch ev.Name {
		case EventNewMessage:
			var msg Message
			if err := transport.Decode(ev, &msg); err != nil || msg.ID == "" {
				r.log.Warn("Fanout", "Malformed message payload", map[string]interface{}{
					"channel": r.channel, "sender": ev.Sender,
				})
				continue
			}
			r.apply(&msg)

		case EventMessageReaction:
			var re ReactionEvent
			if err := transport.Decode(ev, &re); err != nil || re.MessageID == "" || re.Emoji == "" || re.UserID == "" {
				r.log.Warn("Fanout", "Malformed reaction payload", map[string]interface{}{
					"channel": r.channel, "sender": ev.Sender,
				})
				continue
			}
			r.mu.Lock()
			r.applyReactionLocked(re)
			r.mu.Unlock()
		}
	}
}

func (r *Router) apply(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.messages[msg.ID]; exists {
		return // duplicate delivery or own echo
	}
	m := *msg
	r.messages[m.ID] = &m

	// Cross-sender delivery is unordered; keep the timeline sorted by
	// creation time with the id as a stable tie-break.
	at := sort.Search(len(r.order), func(i int) bool {
		o := r.messages[r.order[i]]
		if !m.CreatedAt.Equal(o.CreatedAt) {
			return m.CreatedAt.Before(o.CreatedAt)
		}
		return m.ID < o.ID
	})
	r.order = append(r.order, "")
	copy(r.order[at+1:], r.order[at:])
	r.order[at] = m.ID
}

func (r *Router) applyReactionLocked(ev ReactionEvent) {
	key := reactionKey{messageID: ev.MessageID, emoji: ev.Emoji, userID: ev.UserID}
	switch ev.Action {
	case ActionAdded:
		r.reactions[key] = true
	case ActionRemoved:
		delete(r.reactions, key)
	}
}
