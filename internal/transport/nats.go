package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"teamhub-be/internal/pkg/logger"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Nats is the clustered transport. Core NATS subjects carry the events
// (ephemeral traffic: typing, signaling, CRDT ops - durability lives with the
// storage collaborator, not the bus), and a Redis hash per presence channel
// holds the cross-instance roster.
type Nats struct {
	nc  *nats.Conn
	rdb *redis.Client
	log logger.ILogger
}

func NewNats(url string, rdb *redis.Client, log logger.ILogger) (*Nats, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Nats{nc: nc, rdb: rdb, log: log}, nil
}

func subjectFor(channel string) string {
	return "team.channel." + channel
}

func rosterKey(channel string) string {
	return "presence:" + channel
}

func rosterCountKey(channel string) string {
	return "presence:cnt:" + channel
}

func (n *Nats) Subscribe(ctx context.Context, channel string, kind Kind, self Member) (*Subscription, error) {
	sub := &Subscription{
		Channel: channel,
		Kind:    kind,
		events:  make(chan Event, 64),
	}

	subCtx, cancel := context.WithCancel(ctx)

	// The NATS callback hands off to an owned goroutine so that closing the
	// subscription can close sub.events without racing an in-flight callback.
	in := make(chan Event, 256)
	go func() {
		defer close(sub.events)
		for {
			select {
			case ev := <-in:
				select {
				case sub.events <- ev:
				case <-subCtx.Done():
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	natsSub, err := n.nc.Subscribe(subjectFor(channel), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			n.log.Warn("Transport", "Dropping malformed event", map[string]interface{}{
				"channel": channel, "error": err.Error(),
			})
			return
		}
		select {
		case in <- ev:
		default:
			// Overflow is transient delivery loss; consumers reconcile on
			// their next fetch.
			n.log.Warn("Transport", "Subscriber buffer full, dropping event", map[string]interface{}{
				"channel": channel, "event": ev.Name,
			})
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	if kind == KindPresence {
		roster, err := n.joinRoster(ctx, channel, self)
		if err != nil {
			_ = natsSub.Unsubscribe()
			cancel()
			return nil, err
		}
		sub.Roster = roster
	}

	var closeOnce sync.Once
	sub.closeFn = func() {
		closeOnce.Do(func() {
			_ = natsSub.Unsubscribe()
			cancel()
			if kind == KindPresence {
				n.leaveRoster(context.Background(), channel, self)
			}
		})
	}

	if kind == KindPresence {
		if err := n.Publish(ctx, channel, EventMemberAdded, self.ID, self); err != nil {
			sub.Close()
			return nil, err
		}
	}

	return sub, nil
}

func (n *Nats) Publish(ctx context.Context, channel, event, sender string, payload any) error {
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
	return n.nc.Publish(subjectFor(channel), data)
}

func (n *Nats) Close() error {
	n.nc.Close()
	return nil
}

// joinRoster records the member in Redis and returns the snapshot, self
// included. A per-member connection count supports multi-device presence.
func (n *Nats) joinRoster(ctx context.Context, channel string, self Member) ([]Member, error) {
	data, _ := json.Marshal(self)
	pipe := n.rdb.TxPipeline()
	pipe.HSet(ctx, rosterKey(channel), self.ID, data)
	pipe.HIncrBy(ctx, rosterCountKey(channel), self.ID, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence join %s: %w", channel, err)
	}

	entries, err := n.rdb.HGetAll(ctx, rosterKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence snapshot %s: %w", channel, err)
	}
	roster := make([]Member, 0, len(entries))
	for _, raw := range entries {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		roster = append(roster, m)
	}
	return roster, nil
}

func (n *Nats) leaveRoster(ctx context.Context, channel string, self Member) {
	left, err := n.rdb.HIncrBy(ctx, rosterCountKey(channel), self.ID, -1).Result()
	if err != nil {
		n.log.Warn("Transport", "Presence leave failed", map[string]interface{}{
			"channel": channel, "member": self.ID, "error": err.Error(),
		})
		return
	}
	if left > 0 {
		return
	}
	pipe := n.rdb.TxPipeline()
	pipe.HDel(ctx, rosterKey(channel), self.ID)
	pipe.HDel(ctx, rosterCountKey(channel), self.ID)
	_, _ = pipe.Exec(ctx)

	_ = n.Publish(ctx, channel, EventMemberRemoved, self.ID, self)
}
