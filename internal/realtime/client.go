// Package realtime is the websocket client for the gateway's push channel. It
// adapts the frame protocol to the subscription interface the sync engine
// consumes.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pigeon-im/pigeon/internal/engine"
	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/ws"
)

// ackTimeout bounds how long a subscribe or unsubscribe waits for the
// gateway's acknowledgement before giving up.
const ackTimeout = 5 * time.Second

var (
	errClosed     = errors.New("realtime: connection closed")
	errAckTimeout = errors.New("realtime: no acknowledgement from gateway")
)

// ackKey identifies one outstanding acknowledgement.
type ackKey struct {
	frameType string
	topic     string
}

// Client multiplexes one websocket connection into per-topic subscriptions.
// It implements the engine's Realtime interface.
type Client struct {
	conn *websocket.Conn

	// writeMu serializes control frames; gorilla allows one writer at a time.
	writeMu sync.Mutex

	mu        sync.Mutex
	convTopic string
	convFn    func(models.Message)
	inboxFn   func(models.Message)
	presence  engine.PresenceHandlers
	acks      map[ackKey]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway's realtime endpoint and starts the read loop.
// The URL carries the session token; api.Client.WebsocketURL builds it.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		resp.Body.Close()
	}

	c := &Client{
		conn: conn,
		acks: make(map[ackKey]chan struct{}),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down. Pending subscriptions die with it.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Done is closed when the read loop exits, however it exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SubscribeConversation registers the handler, then blocks until the gateway
// confirms the topic is live. Events published after it returns are
// guaranteed to reach fn.
func (c *Client) SubscribeConversation(peerID string, fn func(models.Message)) (func(), error) {
	topic := ws.ConversationPrefix + peerID

	c.mu.Lock()
	c.convTopic = topic
	c.convFn = fn
	c.mu.Unlock()

	if err := c.subscribe(topic); err != nil {
		c.mu.Lock()
		if c.convTopic == topic {
			c.convTopic = ""
			c.convFn = nil
		}
		c.mu.Unlock()
		return nil, err
	}
	return func() {
		c.mu.Lock()
		if c.convTopic == topic {
			c.convTopic = ""
			c.convFn = nil
		}
		c.mu.Unlock()
		if err := c.unsubscribe(topic); err != nil {
			log.L.Debug().Err(err).Str("topic", topic).Msg("unsubscribe")
		}
	}, nil
}

func (c *Client) SubscribeInbox(fn func(models.Message)) (func(), error) {
	c.mu.Lock()
	c.inboxFn = fn
	c.mu.Unlock()

	if err := c.subscribe(ws.TopicInbox); err != nil {
		c.mu.Lock()
		c.inboxFn = nil
		c.mu.Unlock()
		return nil, err
	}
	return func() {
		c.mu.Lock()
		c.inboxFn = nil
		c.mu.Unlock()
		if err := c.unsubscribe(ws.TopicInbox); err != nil {
			log.L.Debug().Err(err).Msg("unsubscribe inbox")
		}
	}, nil
}

// subscribe writes the frame and waits for the gateway's acknowledgement.
func (c *Client) subscribe(topic string) error {
	ack := c.expectAck(ws.FrameSubscribed, topic)
	if err := c.writeFrame(ws.Frame{Type: ws.FrameSubscribe, Topic: topic}); err != nil {
		return err
	}
	return c.awaitAck(ack)
}

func (c *Client) unsubscribe(topic string) error {
	ack := c.expectAck(ws.FrameUnsubscribed, topic)
	if err := c.writeFrame(ws.Frame{Type: ws.FrameUnsubscribe, Topic: topic}); err != nil {
		return err
	}
	return c.awaitAck(ack)
}

func (c *Client) expectAck(frameType, topic string) <-chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.acks[ackKey{frameType, topic}] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) awaitAck(ack <-chan struct{}) error {
	select {
	case <-ack:
		return nil
	case <-c.done:
		return errClosed
	case <-time.After(ackTimeout):
		return errAckTimeout
	}
}

func (c *Client) JoinPresence(meta models.PresenceMeta, h engine.PresenceHandlers) (func(), error) {
	c.mu.Lock()
	c.presence = h
	c.mu.Unlock()

	frame := ws.Frame{Type: ws.FramePresenceJoin, Topic: ws.TopicPresence, Meta: &meta}
	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}
	return func() {
		c.mu.Lock()
		c.presence = engine.PresenceHandlers{}
		c.mu.Unlock()
		if err := c.writeFrame(ws.Frame{Type: ws.FramePresenceLeave, Topic: ws.TopicPresence}); err != nil {
			log.L.Debug().Err(err).Msg("presence leave")
		}
	}, nil
}

func (c *Client) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var f ws.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				log.L.Debug().Err(err).Msg("realtime read loop closed")
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f ws.Frame) {
	c.mu.Lock()
	convTopic, convFn := c.convTopic, c.convFn
	inboxFn := c.inboxFn
	presence := c.presence
	c.mu.Unlock()

	switch f.Type {
	case ws.FrameMessage:
		if f.Message == nil {
			return
		}
		switch {
		case f.Topic == ws.TopicInbox:
			if inboxFn != nil {
				inboxFn(*f.Message)
			}
		case f.Topic == convTopic:
			if convFn != nil {
				convFn(*f.Message)
			}
		}
	case ws.FramePresenceState:
		if presence.OnState != nil {
			presence.OnState(flattenState(f.State))
		}
	case ws.FramePresenceJoin:
		if presence.OnJoin != nil {
			meta := models.PresenceMeta{}
			if f.Meta != nil {
				meta = *f.Meta
			}
			presence.OnJoin(f.UserID, meta)
		}
	case ws.FramePresenceLeave:
		if presence.OnLeave != nil {
			presence.OnLeave(f.UserID)
		}
	case ws.FrameSubscribed, ws.FrameUnsubscribed:
		c.mu.Lock()
		key := ackKey{f.Type, f.Topic}
		if ch, ok := c.acks[key]; ok {
			delete(c.acks, key)
			close(ch)
		}
		c.mu.Unlock()
	default:
		log.L.Debug().Str("type", f.Type).Msg("dropping unknown frame")
	}
}

// flattenState only trims nil slices the wire may carry; the shape is already
// what the engine expects.
func flattenState(state map[string][]models.PresenceMeta) map[string][]models.PresenceMeta {
	if state == nil {
		return map[string][]models.PresenceMeta{}
	}
	return state
}
