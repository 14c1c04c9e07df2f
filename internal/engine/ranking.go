package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/codec"
	"github.com/pigeon-im/pigeon/internal/models"
)

// Conversation is one row of the ranked contact list.
type Conversation struct {
	PeerID        string
	Profile       models.Profile
	LastMessageAt *time.Time
	Preview       string
	FromMe        bool
	Archived      bool
}

// RankingStore answers "who do I chat with, ordered by recency" without a
// denormalized table: the candidate set is the union of explicit contacts and
// recent message counterparts, and every mutation recomputes the whole set.
// Recompute is idempotent, so results of concurrent refreshes may land in any
// order and the last one wins.
type RankingStore struct {
	selfID string
	store  Store

	mu   sync.Mutex
	list []Conversation
}

func NewRankingStore(selfID string, store Store) *RankingStore {
	return &RankingStore{selfID: selfID, store: store}
}

// Refresh recomputes the full candidate set. A single changed peer still
// triggers the full pass: after a burst of concurrent events more than one
// peer's position may be stale, and the candidate set is small enough that
// correctness wins over cleverness here. Returns the blocked-peer set so the
// engine can filter live inserts with it.
func (r *RankingStore) Refresh(ctx context.Context) (map[string]bool, error) {
	contacts, err := r.store.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	counterparts, err := r.store.Counterparts(ctx)
	if err != nil {
		return nil, err
	}
	blockedIDs, err := r.store.BlockedIDs(ctx)
	if err != nil {
		return nil, err
	}
	archivedIDs, err := r.store.ArchivedIDs(ctx)
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]bool, len(blockedIDs))
	for _, id := range blockedIDs {
		blocked[id] = true
	}
	archived := make(map[string]bool, len(archivedIDs))
	for _, id := range archivedIDs {
		archived[id] = true
	}

	// Union, contacts first, preserving first-seen order.
	var candidates []string
	seen := map[string]bool{}
	for _, id := range append(append([]string{}, contacts...), counterparts...) {
		if id == r.selfID || seen[id] || blocked[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, id)
	}

	profiles, err := r.store.ProfilesByIDs(ctx, candidates)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	list := make([]Conversation, 0, len(candidates))
	for _, id := range candidates {
		conv := Conversation{PeerID: id, Profile: byID[id], Archived: archived[id]}

		latest, err := r.store.LatestMessageWith(ctx, id)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			at := latest.CreatedAt
			conv.LastMessageAt = &at
			conv.Preview = previewText(latest.Content)
			conv.FromMe = latest.SenderID == r.selfID
		}
		list = append(list, conv)
	}

	// Most recent first; peers with no message yet rank as epoch 0, so they
	// sink to the bottom. Stable sort preserves insertion order on ties.
	sort.SliceStable(list, func(i, j int) bool {
		return lastOrEpoch(list[i]).After(lastOrEpoch(list[j]))
	})

	r.mu.Lock()
	r.list = list
	r.mu.Unlock()
	return blocked, nil
}

func lastOrEpoch(c Conversation) time.Time {
	if c.LastMessageAt == nil {
		return time.Unix(0, 0)
	}
	return *c.LastMessageAt
}

// previewText renders the sidebar one-liner. Truncation is the UI layer's
// job, not this store's.
func previewText(content string) string {
	body := codec.Decode(content)
	if body.Attachment == nil {
		return body.Text
	}
	label := body.Attachment.Caption
	if label == "" {
		label = body.Attachment.Name
	}
	return "📎 " + label
}

// AddByEmail resolves a user by exact email, upserts them as an explicit
// contact (so they survive ranking refreshes with zero messages) and prepends
// them to the list if absent.
func (r *RankingStore) AddByEmail(ctx context.Context, email string) (*models.Profile, error) {
	profile, err := r.store.ProfileByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertContact(ctx, profile.ID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	found := false
	for _, conv := range r.list {
		if conv.PeerID == profile.ID {
			found = true
			break
		}
	}
	if !found {
		r.list = append([]Conversation{{PeerID: profile.ID, Profile: *profile}}, r.list...)
	}
	r.mu.Unlock()
	return profile, nil
}

// Conversations returns a copy of the current ranked list.
func (r *RankingStore) Conversations() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, len(r.list))
	copy(out, r.list)
	return out
}
