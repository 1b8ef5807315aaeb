package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"teamhub-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// GoChannel is the in-process transport, backed by a Watermill gochannel
// pub/sub. One topic per channel; membership is kept in a local registry.
// Used by tests and single-node deployments.
type GoChannel struct {
	pubSub *gochannel.GoChannel
	log    logger.ILogger

	mu sync.Mutex
	// channel -> subscription id -> member
	members map[string]map[string]Member
}

func NewGoChannel(log logger.ILogger) *GoChannel {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	return &GoChannel{
		pubSub:  pubSub,
		log:     log,
		members: make(map[string]map[string]Member),
	}
}

func (g *GoChannel) Subscribe(ctx context.Context, channel string, kind Kind, self Member) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	messages, err := g.pubSub.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &Subscription{
		Channel: channel,
		Kind:    kind,
		events:  make(chan Event, 64),
	}

	subID := uuid.NewString()
	if kind == KindPresence {
		sub.Roster = g.addMember(channel, subID, self)
	}

	var closeOnce sync.Once
	sub.closeFn = func() {
		closeOnce.Do(func() {
			cancel()
			if kind == KindPresence {
				if last := g.removeMember(channel, subID, self.ID); last {
					// Departure announced with a background context: the
					// subscription context is already canceled here.
					_ = g.Publish(context.Background(), channel, EventMemberRemoved, self.ID, self)
				}
			}
		})
	}

	go func() {
		defer close(sub.events)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				g.log.Warn("Transport", "Dropping malformed event", map[string]interface{}{
					"channel": channel, "error": err.Error(),
				})
				msg.Ack()
				continue
			}
			select {
			case sub.events <- ev:
			case <-subCtx.Done():
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}()

	if kind == KindPresence {
		if err := g.Publish(ctx, channel, EventMemberAdded, self.ID, self); err != nil {
			sub.Close()
			return nil, err
		}
	}

	return sub, nil
}

func (g *GoChannel) Publish(ctx context.Context, channel, event, sender string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Event{
		Channel: channel,
		Name:    event,
		Sender:  sender,
		Payload: raw,
	})
	if err != nil {
		return err
	}
	return g.pubSub.Publish(channel, message.NewMessage(watermill.NewUUID(), data))
}

func (g *GoChannel) Close() error {
	return g.pubSub.Close()
}

// addMember registers a subscription and returns the membership snapshot,
// self included.
func (g *GoChannel) addMember(channel, subID string, m Member) []Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.members[channel] == nil {
		g.members[channel] = make(map[string]Member)
	}
	g.members[channel][subID] = m

	seen := make(map[string]bool)
	roster := make([]Member, 0, len(g.members[channel]))
	for _, member := range g.members[channel] {
		if seen[member.ID] {
			continue
		}
		seen[member.ID] = true
		roster = append(roster, member)
	}
	return roster
}

// removeMember drops a subscription; reports whether this was the member's
// last subscription on the channel (multi-device: one member may hold several).
func (g *GoChannel) removeMember(channel, subID, memberID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	subs, ok := g.members[channel]
	if !ok {
		return false
	}
	delete(subs, subID)
	for _, member := range subs {
		if member.ID == memberID {
			return false
		}
	}
	if len(subs) == 0 {
		delete(g.members, channel)
	}
	return true
}
