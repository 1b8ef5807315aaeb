package websocket

import (
	"teamhub-be/internal/transport"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWs binds one upgraded connection to the hub. The identity comes from
// the token verified before the upgrade.
func ServeWs(hub *Hub, c *websocket.Conn, userID uuid.UUID, name, image string) {
	client := &Client{
		Hub:    hub,
		Conn:   c,
		UserID: userID,
		Member: transport.Member{ID: userID.String(), Name: name, Image: image},
		Send:   make(chan []byte, 256),
		subs:   make(map[string]*transport.Subscription),
	}
	client.Hub.register <- client

	go client.writePump()
	client.readPump()
}
