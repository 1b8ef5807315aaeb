package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"teamhub-be/internal/transport"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Document operations ride this connection, so the limit is well above a
	// notification-sized frame.
	maxMessageSize = 64 * 1024
)

// clientFrame is what a browser sends: channel lifecycle plus client-side
// event publishes (typing, signaling, document operations).
type clientFrame struct {
	Type    string          `json:"type"` // subscribe | unsubscribe | publish
	Channel string          `json:"channel"`
	Kind    string          `json:"kind,omitempty"` // plain | presence, subscribe only
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// serverFrame is what the gateway pushes down.
type serverFrame struct {
	Type    string             `json:"type"` // subscription_succeeded | event | error
	Channel string             `json:"channel,omitempty"`
	Event   string             `json:"event,omitempty"`
	Sender  string             `json:"sender,omitempty"`
	Payload json.RawMessage    `json:"payload,omitempty"`
	Roster  []transport.Member `json:"roster,omitempty"`
	Message string             `json:"message,omitempty"`
}

// Client is a middleman between one websocket connection and the channel
// transport. Each subscribed channel gets its own forwarding goroutine.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	UserID uuid.UUID
	Member transport.Member
	Send   chan []byte

	mu   sync.Mutex
	subs map[string]*transport.Subscription
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("WS", "Unexpected close", map[string]interface{}{
					"user_id": c.UserID, "error": err.Error(),
				})
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame clientFrame) {
	switch frame.Type {
	case "subscribe":
		c.subscribe(frame)
	case "unsubscribe":
		c.unsubscribe(frame.Channel)
	case "publish":
		if frame.Channel == "" || frame.Event == "" {
			c.sendError("publish requires channel and event")
			return
		}
		c.mu.Lock()
		_, member := c.subs[frame.Channel]
		c.mu.Unlock()
		if !member {
			c.sendError("not subscribed to " + frame.Channel)
			return
		}
		err := c.Hub.tr.Publish(context.Background(), frame.Channel, frame.Event, c.Member.ID, frame.Payload)
		if err != nil {
			c.sendError("publish failed")
		}
	default:
		c.sendError("unknown frame type")
	}
}

func (c *Client) subscribe(frame clientFrame) {
	if frame.Channel == "" {
		c.sendError("subscribe requires channel")
		return
	}
	kind := transport.KindPlain
	if frame.Kind == string(transport.KindPresence) {
		kind = transport.KindPresence
	}

	c.mu.Lock()
	if _, exists := c.subs[frame.Channel]; exists {
		c.mu.Unlock()
		c.sendError("already subscribed to " + frame.Channel)
		return
	}
	c.mu.Unlock()

	sub, err := c.Hub.tr.Subscribe(context.Background(), frame.Channel, kind, c.Member)
	if err != nil {
		c.Hub.logger.Error("WS", "Subscribe failed", map[string]interface{}{
			"user_id": c.UserID, "channel": frame.Channel, "error": err.Error(),
		})
		c.sendError("subscribe failed")
		return
	}

	c.mu.Lock()
	c.subs[frame.Channel] = sub
	c.mu.Unlock()
	c.Hub.retainDocument(frame.Channel)

	c.sendFrame(serverFrame{
		Type:    "subscription_succeeded",
		Channel: frame.Channel,
		Roster:  sub.Roster,
	})
	go c.forward(frame.Channel, sub)
}

func (c *Client) unsubscribe(channel string) {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if ok {
		sub.Close()
		c.Hub.releaseDocument(channel)
	}
}

// forward relays one channel's events down the socket until the
// subscription closes. Own echoes are relayed too; the browser side dedupes
// the same way a native client does.
func (c *Client) forward(channel string, sub *transport.Subscription) {
	for ev := range sub.Events() {
		c.sendFrame(serverFrame{
			Type:    "event",
			Channel: channel,
			Event:   ev.Name,
			Sender:  ev.Sender,
			Payload: ev.Payload,
		})
	}
}

func (c *Client) closeSubs() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*transport.Subscription)
	c.mu.Unlock()
	for channel, sub := range subs {
		sub.Close()
		c.Hub.releaseDocument(channel)
	}
}

func (c *Client) sendFrame(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Slow consumer; the hub will unregister on the broken pump.
		c.Hub.logger.Warn("WS", "Send buffer full, dropping frame", map[string]interface{}{
			"user_id": c.UserID, "channel": frame.Channel,
		})
	}
}

func (c *Client) sendError(message string) {
	c.sendFrame(serverFrame{Type: "error", Message: message})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
