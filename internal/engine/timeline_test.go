package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeon-im/pigeon/internal/models"
)

var timelineBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mkMsg(id, senderID string, offset time.Duration) models.Message {
	return models.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: "other",
		Content:    "msg " + id,
		CreatedAt:  timelineBase.Add(offset),
	}
}

func TestTimelineAppendDeduplicates(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)

	msg := mkMsg("m1", "alice", 0)
	assert.True(t, tl.Append(msg))
	assert.False(t, tl.Append(msg))

	entries := tl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, FromMe, entries[0].From)
}

func TestTimelineDirection(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)

	tl.Append(mkMsg("mine", "alice", 0))
	tl.Append(mkMsg("theirs", "bob", time.Second))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, FromMe, entries[0].From)
	assert.Equal(t, FromThem, entries[1].From)
}

func TestTimelinePlacesLateArrival(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)

	tl.Append(mkMsg("m3", "bob", 3*time.Second))
	tl.Append(mkMsg("m1", "bob", time.Second))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "m3", entries[1].ID)
}

func TestTimelineEqualTimestampsKeepArrivalOrder(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)

	tl.Append(mkMsg("first", "bob", 0))
	tl.Append(mkMsg("second", "bob", 0))

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].ID)
	assert.Equal(t, "second", entries[1].ID)
}

// A message delivered live during the history load and again inside the load
// itself must land exactly once, in timestamp position.
func TestTimelineMergesLiveArrivalsWithHistory(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")

	older := mkMsg("older", "bob", 0)
	newest := mkMsg("newest", "bob", 2*time.Second)

	// Arrives over the live channel while the load is still in flight.
	assert.True(t, tl.Append(newest))
	assert.Empty(t, tl.Entries())

	// The load raced the insert and picked the new row up too.
	tl.ApplyHistory([]models.Message{older, newest})

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "older", entries[0].ID)
	assert.Equal(t, "newest", entries[1].ID)
}

func TestTimelineBufferedArrivalsSortIntoHistory(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")

	// Not part of the history snapshot, sent while it was loading.
	live := mkMsg("live", "bob", 90*time.Second)
	tl.Append(live)

	tl.ApplyHistory([]models.Message{
		mkMsg("h1", "alice", 0),
		mkMsg("h2", "bob", time.Minute),
	})

	entries := tl.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "h1", entries[0].ID)
	assert.Equal(t, "h2", entries[1].ID)
	assert.Equal(t, "live", entries[2].ID)
}

func TestTimelineResetClearsState(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)
	tl.Append(mkMsg("m1", "bob", 0))

	tl.Reset("carol")
	assert.Equal(t, "carol", tl.PeerID())
	assert.Empty(t, tl.Entries())

	// The dedup set was rebuilt too: the old id is appendable again.
	tl.ApplyHistory(nil)
	assert.True(t, tl.Append(mkMsg("m1", "carol", 0)))
}

func TestTimelineUniqueIDsAppearExactlyOnce(t *testing.T) {
	tl := NewTimeline("alice")
	tl.Reset("bob")
	tl.ApplyHistory(nil)

	seq := []string{"a", "b", "a", "c", "b", "a", "c"}
	for i, id := range seq {
		tl.Append(mkMsg(id, "bob", time.Duration(i)*time.Second))
	}

	counts := map[string]int{}
	for _, e := range tl.Entries() {
		counts[e.ID]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, counts)
}
