package models

import "time"

type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is immutable once created: the gateway assigns the id and timestamp
// on insert and clients only ever append it to their local view.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// PresenceMeta is the transient metadata a client announces when joining a
// presence channel. Existence on the channel means online; nothing persists.
type PresenceMeta struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type AuditEntry struct {
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	SubjectID string `json:"subject_id"`
	Detail    string `json:"detail,omitempty"`
}
