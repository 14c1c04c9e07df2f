package engine

import (
	"sort"

	"github.com/pigeon-im/pigeon/internal/models"
)

// PresenceTracker maintains the set of currently-online peers from the
// session presence channel. The full-state snapshot is authoritative and
// replaces the whole set; join/leave events only nudge it between snapshots,
// which keeps the set from drifting when an incremental event is missed.
type PresenceTracker struct {
	connected bool
	online    map[string]models.PresenceMeta
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]models.PresenceMeta)}
}

// Connect marks the channel handshake as acknowledged.
func (p *PresenceTracker) Connect() {
	p.connected = true
}

// Disconnect clears the tracker on channel teardown. Presence is transient
// state: nothing survives the connection.
func (p *PresenceTracker) Disconnect() {
	p.connected = false
	p.online = make(map[string]models.PresenceMeta)
}

func (p *PresenceTracker) IsConnected() bool {
	return p.connected
}

// ApplyState replaces the online set with the snapshot's key set. This is a
// full resync, not a diff.
func (p *PresenceTracker) ApplyState(state map[string][]models.PresenceMeta) {
	online := make(map[string]models.PresenceMeta, len(state))
	for id, metas := range state {
		meta := models.PresenceMeta{}
		if len(metas) > 0 {
			meta = metas[0]
		}
		online[id] = meta
	}
	p.online = online
}

func (p *PresenceTracker) ApplyJoin(userID string, meta models.PresenceMeta) {
	p.online[userID] = meta
}

func (p *PresenceTracker) ApplyLeave(userID string) {
	delete(p.online, userID)
}

func (p *PresenceTracker) IsOnline(userID string) bool {
	_, ok := p.online[userID]
	return ok
}

// OnlineIDs returns the online peer ids in stable (sorted) order.
func (p *PresenceTracker) OnlineIDs() []string {
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
