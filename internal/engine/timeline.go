package engine

import (
	"time"

	"github.com/pigeon-im/pigeon/internal/codec"
	"github.com/pigeon-im/pigeon/internal/models"
)

// Direction classifies who a timeline entry came from.
type Direction string

const (
	FromMe   Direction = "me"
	FromThem Direction = "them"
)

// Entry is a decoded message as the UI consumes it.
type Entry struct {
	ID     string
	From   Direction
	Body   codec.Content
	SentAt time.Time
}

// Timeline holds the ordered, deduplicated message view for one peer at a
// time. It is not safe for concurrent use: the engine lock owns it, and no
// other component mutates its state.
type Timeline struct {
	selfID string
	peerID string

	entries []Entry
	seen    map[string]struct{}

	// While a history load is in flight, live inserts buffer here and are
	// merged through the dedup gate once the load lands.
	loading bool
	pending []models.Message
}

func NewTimeline(selfID string) *Timeline {
	return &Timeline{selfID: selfID, seen: make(map[string]struct{})}
}

// PeerID returns the active peer, empty before the first Reset.
func (t *Timeline) PeerID() string {
	return t.peerID
}

// Reset switches the timeline to a new peer: the entry list and the dedup set
// are cleared and rebuilt from scratch, and the timeline enters loading mode
// so live inserts arriving before the history load buffer instead of racing it.
func (t *Timeline) Reset(peerID string) {
	t.peerID = peerID
	t.entries = nil
	t.seen = make(map[string]struct{})
	t.loading = true
	t.pending = nil
}

// ApplyHistory installs the loaded history (already sorted ascending by the
// store) and then drains anything that arrived live during the load. Buffered
// rows claimed their ids when they arrived, so a row delivered both live and
// in the load lands exactly once.
func (t *Timeline) ApplyHistory(history []models.Message) {
	t.loading = false
	for _, msg := range history {
		t.insert(msg)
	}
	pending := t.pending
	t.pending = nil
	for _, msg := range pending {
		t.place(msg)
	}
}

// Append routes a message into the timeline. It is idempotent: the local
// optimistic echo of a send and the push-delivered echo of the same row
// collapse to a single entry regardless of arrival order. Returns true when
// the message was new.
func (t *Timeline) Append(msg models.Message) bool {
	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	if t.loading {
		t.seen[msg.ID] = struct{}{}
		t.pending = append(t.pending, msg)
		return true
	}
	return t.insert(msg)
}

func (t *Timeline) insert(msg models.Message) bool {
	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.place(msg)
	return true
}

// place slots the message by timestamp with stable ties: an equal or later
// timestamp lands after what is already there, so in the normal case of
// monotonic delivery this is a plain append, while a reordered late arrival
// is slotted back where it belongs chronologically.
func (t *Timeline) place(msg models.Message) {
	entry := Entry{
		ID:     msg.ID,
		From:   FromThem,
		Body:   codec.Decode(msg.Content),
		SentAt: msg.CreatedAt,
	}
	if msg.SenderID == t.selfID {
		entry.From = FromMe
	}

	i := len(t.entries)
	for i > 0 && t.entries[i-1].SentAt.After(entry.SentAt) {
		i--
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
}

// Entries returns a copy of the current view.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
