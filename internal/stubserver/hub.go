package stubserver

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

// wsClient is one authenticated persistent connection.
type wsClient struct {
	userID string
	role   string
	events chan proto.Frame
	subs   map[string]struct{}
}

func newWSClient() *wsClient {
	return &wsClient{
		events: make(chan proto.Frame, 256),
		subs:   make(map[string]struct{}),
	}
}

// hub tracks connected clients and per-channel subscriptions and fans
// broadcasts out in emission order.
type hub struct {
	log *zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	// subs maps channel id to its subscribed clients.
	subs map[string]map[*wsClient]struct{}
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{
		log:     logger,
		clients: make(map[*wsClient]struct{}),
		subs:    make(map[string]map[*wsClient]struct{}),
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channelID := range c.subs {
		delete(h.subs[channelID], c)
	}
	delete(h.clients, c)
}

func (h *hub) join(c *wsClient, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[*wsClient]struct{})
	}
	h.subs[channelID][c] = struct{}{}
	c.subs[channelID] = struct{}{}
}

func (h *hub) leave(c *wsClient, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[channelID], c)
	delete(c.subs, channelID)
}

// broadcast fans a frame to every subscriber of a channel, including the
// originator if subscribed. Enqueueing under the lock keeps per-channel
// emission order identical for every client.
func (h *hub) broadcast(channelID string, frame proto.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[channelID] {
		select {
		case c.events <- frame:
		default:
			h.log.Warn().Str("channel_id", channelID).Msg("dropping frame for slow client")
		}
	}
}

// notifyUsers sends a frame directly to every connection of the given users,
// subscribed or not. Used for channel:new.
func (h *hub) notifyUsers(frame proto.Frame, userIDs ...string) {
	targets := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		targets[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if _, ok := targets[c.userID]; !ok {
			continue
		}
		select {
		case c.events <- frame:
		default:
			h.log.Warn().Str("user_id", c.userID).Msg("dropping frame for slow client")
		}
	}
}
