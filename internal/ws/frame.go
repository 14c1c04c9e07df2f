package ws

import "github.com/pigeon-im/pigeon/internal/models"

// Frame types exchanged on the realtime socket.
const (
	// client -> server
	FrameSubscribe     = "subscribe"
	FrameUnsubscribe   = "unsubscribe"
	FramePresenceJoin  = "presence_join"
	FramePresenceLeave = "presence_leave"

	// server -> client
	FrameMessage       = "message"
	FramePresenceState = "presence_state"
	FrameSubscribed    = "subscribed"
	FrameUnsubscribed  = "unsubscribed"
)

// Well-known topics. Conversation topics are "conversation:<peerID>" and are
// always interpreted relative to the subscribing user.
const (
	TopicInbox    = "inbox"
	TopicPresence = "presence:lobby"

	ConversationPrefix = "conversation:"
)

// Frame is the single JSON envelope for every realtime event. Unused fields
// are omitted on the wire.
type Frame struct {
	Type    string                           `json:"type"`
	Topic   string                           `json:"topic,omitempty"`
	Message *models.Message                  `json:"message,omitempty"`
	Meta    *models.PresenceMeta             `json:"meta,omitempty"`
	State   map[string][]models.PresenceMeta `json:"state,omitempty"`
	UserID  string                           `json:"user_id,omitempty"`
}
