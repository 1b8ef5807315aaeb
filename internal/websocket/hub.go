package websocket

import (
	"context"
	"sync"

	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/session"
	"teamhub-be/internal/transport"

	"github.com/google/uuid"
)

// Hub tracks connected gateway clients. The channel fanout itself lives in
// the transport; the hub only owns connection lifecycle, including multi
// device (one user, several sockets), and the server-side document mirrors
// that persist flattened content while browser editors are attached.
type Hub struct {
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// mirrors holds one silent replica per document channel with at least
	// one gateway subscriber. Nil disables mirroring.
	mirrors *session.Session
	docMu   sync.Mutex
	docRefs map[string]int

	tr     transport.Transport
	logger logger.ILogger
}

func NewHub(tr transport.Transport, mirrors *session.Session, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
		mirrors:    mirrors,
		docRefs:    make(map[string]int),
		tr:         tr,
		logger:     log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.UserID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.UserID]) == 0 {
					delete(h.clients, client.UserID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
				}
			}
			h.mu.Unlock()
			// Dropping the subscriptions publishes the member departures.
			client.closeSubs()
		}
	}
}

// retainDocument starts a server-side mirror replica when the first gateway
// client subscribes to a document channel.
func (h *Hub) retainDocument(channel string) {
	docID, ok := session.ParseDocumentChannel(channel)
	if !ok || h.mirrors == nil {
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	h.docRefs[channel]++
	if h.docRefs[channel] > 1 {
		return
	}
	if _, err := h.mirrors.MirrorDocument(context.Background(), docID); err != nil {
		h.logger.Error("Hub", "Document mirror failed", map[string]interface{}{
			"channel": channel, "error": err.Error(),
		})
	}
}

// releaseDocument closes the mirror once the last gateway subscriber of the
// document channel is gone; the final flattened state stays durable.
func (h *Hub) releaseDocument(channel string) {
	docID, ok := session.ParseDocumentChannel(channel)
	if !ok || h.mirrors == nil {
		return
	}
	h.docMu.Lock()
	defer h.docMu.Unlock()
	if h.docRefs[channel] == 0 {
		return
	}
	h.docRefs[channel]--
	if h.docRefs[channel] == 0 {
		delete(h.docRefs, channel)
		h.mirrors.CloseDocument(docID)
	}
}
