package transport

import (
	"context"
	"encoding/json"
)

// Kind selects whether a channel tracks subscriber membership.
type Kind string

const (
	KindPlain    Kind = "plain"
	KindPresence Kind = "presence"
)

// Reserved event names emitted on presence channels.
const (
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
)

// Member identifies one participant on a presence channel.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Event is one delivery on a channel. Delivery is at-least-once and includes
// the publisher itself; consumers must absorb duplicates. A given sender's
// events arrive in send order within one channel, nothing more is guaranteed.
type Event struct {
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

// Subscription is a live attachment to one channel. Events() closes when the
// subscription is closed or the underlying transport drops; Close is the only
// cancellation primitive.
type Subscription struct {
	Channel string
	Kind    Kind
	Roster  []Member // initial membership snapshot, presence channels only

	events  chan Event
	closeFn func()
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Transport is the abstract channel service the sync core builds on.
// Implementations: GoChannel (in-process, Watermill) and Nats (clustered).
type Transport interface {
	// Subscribe attaches to a channel. For presence channels the subscriber
	// is announced to current members and Roster carries the snapshot taken
	// at attach time (the snapshot and a closely-following membership event
	// are not ordered relative to each other).
	Subscribe(ctx context.Context, channel string, kind Kind, self Member) (*Subscription, error)

	// Publish broadcasts an event to all current subscribers of the channel,
	// including the sender.
	Publish(ctx context.Context, channel, event, sender string, payload any) error

	Close() error
}

// Decode unmarshals an event payload into out.
func Decode(e Event, out any) error {
	return json.Unmarshal(e.Payload, out)
}
