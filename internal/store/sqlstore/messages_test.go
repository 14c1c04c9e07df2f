package sqlstore

import (
	"testing"
)

func TestInsertMessageAssignsIDAndTimestamp(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	a := mustCreateProfile(t, "Alice", "alice@example.com")
	b := mustCreateProfile(t, "Bob", "bob@example.com")

	msg, err := testStore.InsertMessage(a.ID, b.ID, "hi")
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("Expected message ID to be assigned")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("Expected timestamp to be assigned")
	}
}

func TestMessagesBetweenBothDirectionsAscending(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	a := mustCreateProfile(t, "Alice", "alice@example.com")
	b := mustCreateProfile(t, "Bob", "bob@example.com")
	c := mustCreateProfile(t, "Carol", "carol@example.com")

	testStore.InsertMessage(a.ID, b.ID, "one")
	testStore.InsertMessage(b.ID, a.ID, "two")
	testStore.InsertMessage(a.ID, b.ID, "three")
	testStore.InsertMessage(a.ID, c.ID, "other pair")

	messages, err := testStore.MessagesBetween(a.ID, b.ID)
	if err != nil {
		t.Fatalf("MessagesBetween failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[0].Content != "one" || messages[2].Content != "three" {
		t.Errorf("Expected ascending order, got %q .. %q", messages[0].Content, messages[2].Content)
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Error("Expected messages sorted ascending by created_at")
		}
	}
}

func TestLatestMessageBetween(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	a := mustCreateProfile(t, "Alice", "alice@example.com")
	b := mustCreateProfile(t, "Bob", "bob@example.com")

	latest, err := testStore.LatestMessageBetween(a.ID, b.ID)
	if err != nil {
		t.Fatalf("LatestMessageBetween failed: %v", err)
	}
	if latest != nil {
		t.Error("Expected nil for pair with no messages")
	}

	testStore.InsertMessage(a.ID, b.ID, "first")
	want, _ := testStore.InsertMessage(b.ID, a.ID, "second")

	latest, err = testStore.LatestMessageBetween(a.ID, b.ID)
	if err != nil {
		t.Fatalf("LatestMessageBetween failed: %v", err)
	}
	if latest == nil || latest.ID != want.ID {
		t.Errorf("Expected latest message %v, got %v", want, latest)
	}
}

func TestRecentCounterparts(t *testing.T) {
	SetupTestDB(t)
	defer TeardownTestDB()

	a := mustCreateProfile(t, "Alice", "alice@example.com")
	b := mustCreateProfile(t, "Bob", "bob@example.com")
	c := mustCreateProfile(t, "Carol", "carol@example.com")

	testStore.InsertMessage(a.ID, b.ID, "to bob")
	testStore.InsertMessage(c.ID, a.ID, "from carol")
	testStore.InsertMessage(b.ID, c.ID, "not alice's")

	peers, err := testStore.RecentCounterparts(a.ID, 100)
	if err != nil {
		t.Fatalf("RecentCounterparts failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Expected 2 counterparts, got %d (%v)", len(peers), peers)
	}
	seen := map[string]bool{}
	for _, id := range peers {
		seen[id] = true
	}
	if !seen[b.ID] || !seen[c.ID] {
		t.Errorf("Expected counterparts {%s, %s}, got %v", b.ID, c.ID, peers)
	}
}
