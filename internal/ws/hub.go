package ws

import (
	"encoding/json"

	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/models"
)

type inbound struct {
	client *Client
	frame  Frame
}

// Hub routes message inserts and presence events to connected clients. All
// state is owned by the Run goroutine; handlers talk to it through channels.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Control frames from the clients.
	inbound chan inbound

	// Message rows published by the REST handlers after a successful insert.
	publish chan *models.Message

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Presence membership per topic: client -> announced metadata.
	presence map[string]map[*Client]models.PresenceMeta
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		inbound:    make(chan inbound),
		publish:    make(chan *models.Message, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		presence:   make(map[string]map[*Client]models.PresenceMeta),
	}
}

// Publish fans a freshly inserted message out to subscribed clients.
func (h *Hub) Publish(msg *models.Message) {
	h.publish <- msg
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.dropPresence(client)
				delete(h.clients, client)
				close(client.send)
			}
		case in := <-h.inbound:
			h.handleFrame(in.client, in.frame)
		case msg := <-h.publish:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) handleFrame(c *Client, f Frame) {
	switch f.Type {
	case FrameSubscribe:
		c.topics[f.Topic] = true
		// The ack must not go out before the topic is live.
		h.send(c, Frame{Type: FrameSubscribed, Topic: f.Topic})
	case FrameUnsubscribe:
		delete(c.topics, f.Topic)
		h.send(c, Frame{Type: FrameUnsubscribed, Topic: f.Topic})
	case FramePresenceJoin:
		meta := models.PresenceMeta{}
		if f.Meta != nil {
			meta = *f.Meta
		}
		if h.presence[f.Topic] == nil {
			h.presence[f.Topic] = make(map[*Client]models.PresenceMeta)
		}
		h.presence[f.Topic][c] = meta
		h.broadcastPresence(f.Topic, FramePresenceJoin, c.userID, &meta)
	case FramePresenceLeave:
		h.leavePresence(c, f.Topic)
	default:
		log.L.Warn().Str("type", f.Type).Str("user", c.userID).Msg("dropping unknown frame")
	}
}

func (h *Hub) leavePresence(c *Client, topic string) {
	members, ok := h.presence[topic]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.presence, topic)
	}
	h.broadcastPresence(topic, FramePresenceLeave, c.userID, nil)
}

func (h *Hub) dropPresence(c *Client) {
	for topic := range h.presence {
		h.leavePresence(c, topic)
	}
}

// broadcastPresence sends the join/leave hint followed by the authoritative
// full-state snapshot to every member of the topic.
func (h *Hub) broadcastPresence(topic, hint, userID string, meta *models.PresenceMeta) {
	state := h.presenceState(topic)

	hintFrame := Frame{Type: hint, Topic: topic, UserID: userID, Meta: meta}
	stateFrame := Frame{Type: FramePresenceState, Topic: topic, State: state}

	for client := range h.presence[topic] {
		h.send(client, hintFrame)
		h.send(client, stateFrame)
	}
}

func (h *Hub) presenceState(topic string) map[string][]models.PresenceMeta {
	state := make(map[string][]models.PresenceMeta)
	for client, meta := range h.presence[topic] {
		state[client.userID] = append(state[client.userID], meta)
	}
	return state
}

// fanOut delivers an insert to every subscription it matches. A client holding
// both the inbox and the conversation subscription receives the row twice;
// the engine's dedup set collapses that.
func (h *Hub) fanOut(msg *models.Message) {
	for client := range h.clients {
		if client.userID != msg.SenderID && client.userID != msg.ReceiverID {
			continue
		}

		peer := msg.SenderID
		if client.userID == msg.SenderID {
			peer = msg.ReceiverID
		}

		if client.topics[TopicInbox] {
			h.send(client, Frame{Type: FrameMessage, Topic: TopicInbox, Message: msg})
		}
		if topic := ConversationPrefix + peer; client.topics[topic] {
			h.send(client, Frame{Type: FrameMessage, Topic: topic, Message: msg})
		}
	}
}

func (h *Hub) send(client *Client, f Frame) {
	// A broadcast may hit the same client more than once; after the first
	// failed delivery its channel is closed, so later frames must be no-ops.
	if !h.clients[client] {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		log.L.Error().Err(err).Msg("marshal frame")
		return
	}
	select {
	case client.send <- data:
	default:
		// Slow client: drop it rather than block the hub. Remove it from the
		// client set first so the leave broadcast below skips it.
		delete(h.clients, client)
		close(client.send)
		h.dropPresence(client)
	}
}
