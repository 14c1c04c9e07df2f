package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pigeon-im/pigeon/internal/models"
)

func newTestClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 16),
		topics: make(map[string]bool),
	}
}

func recvFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("Failed to unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for frame")
		return Frame{}
	}
}

func TestFanOutConversationAndInbox(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	carol := newTestClient(hub, "carol")
	hub.register <- alice
	hub.register <- bob
	hub.register <- carol

	hub.inbound <- inbound{client: alice, frame: Frame{Type: FrameSubscribe, Topic: ConversationPrefix + "bob"}}
	hub.inbound <- inbound{client: bob, frame: Frame{Type: FrameSubscribe, Topic: TopicInbox}}
	hub.inbound <- inbound{client: carol, frame: Frame{Type: FrameSubscribe, Topic: TopicInbox}}

	// Every subscribe is acknowledged once the topic is live.
	f := recvFrame(t, alice)
	if f.Type != FrameSubscribed || f.Topic != ConversationPrefix+"bob" {
		t.Fatalf("Expected subscribe ack for alice, got %+v", f)
	}
	recvFrame(t, bob)
	recvFrame(t, carol)

	msg := &models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi"}
	hub.Publish(msg)

	// Sender gets the echo on the conversation topic.
	f = recvFrame(t, alice)
	if f.Type != FrameMessage || f.Topic != ConversationPrefix+"bob" {
		t.Errorf("Expected conversation echo for alice, got %+v", f)
	}
	if f.Message == nil || f.Message.ID != "m1" {
		t.Errorf("Expected message m1, got %+v", f.Message)
	}

	// Receiver gets it on the inbox topic.
	f = recvFrame(t, bob)
	if f.Type != FrameMessage || f.Topic != TopicInbox {
		t.Errorf("Expected inbox delivery for bob, got %+v", f)
	}

	// Uninvolved client gets nothing.
	select {
	case data := <-carol.send:
		t.Errorf("Expected no delivery for carol, got %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanOutBothTopicsDeliversTwice(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	bob := newTestClient(hub, "bob")
	hub.register <- bob
	hub.inbound <- inbound{client: bob, frame: Frame{Type: FrameSubscribe, Topic: TopicInbox}}
	hub.inbound <- inbound{client: bob, frame: Frame{Type: FrameSubscribe, Topic: ConversationPrefix + "alice"}}
	recvFrame(t, bob) // subscribe ack
	recvFrame(t, bob) // subscribe ack

	hub.Publish(&models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi"})

	topics := map[string]bool{}
	topics[recvFrame(t, bob).Topic] = true
	topics[recvFrame(t, bob).Topic] = true
	if !topics[TopicInbox] || !topics[ConversationPrefix+"alice"] {
		t.Errorf("Expected delivery on both topics, got %v", topics)
	}
}

func TestSubscribeAckedBeforeDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	bob := newTestClient(hub, "bob")
	hub.register <- bob
	hub.inbound <- inbound{client: bob, frame: Frame{Type: FrameSubscribe, Topic: TopicInbox}}

	f := recvFrame(t, bob)
	if f.Type != FrameSubscribed || f.Topic != TopicInbox {
		t.Fatalf("Expected subscribe ack, got %+v", f)
	}

	// The ack means the topic is live: a publish right after it must land.
	hub.Publish(&models.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	if f = recvFrame(t, bob); f.Type != FrameMessage {
		t.Errorf("Expected delivery after ack, got %+v", f)
	}

	hub.inbound <- inbound{client: bob, frame: Frame{Type: FrameUnsubscribe, Topic: TopicInbox}}
	if f = recvFrame(t, bob); f.Type != FrameUnsubscribed || f.Topic != TopicInbox {
		t.Fatalf("Expected unsubscribe ack, got %+v", f)
	}

	hub.Publish(&models.Message{ID: "m2", SenderID: "alice", ReceiverID: "bob", Content: "again"})
	select {
	case data := <-bob.send:
		t.Errorf("Expected no delivery after unsubscribe, got %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlowClientDroppedMidBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := newTestClient(hub, "alice")
	stuck := &Client{hub: hub, userID: "bob", send: make(chan []byte, 1), topics: make(map[string]bool)}
	stuck.send <- []byte("{}") // buffer full: the next delivery cannot go through
	hub.register <- alice
	hub.register <- stuck

	// Joining broadcasts a hint plus a snapshot to every member; the stuck
	// client can take neither frame.
	hub.inbound <- inbound{client: stuck, frame: Frame{Type: FramePresenceJoin, Topic: TopicPresence}}
	hub.inbound <- inbound{client: alice, frame: Frame{Type: FramePresenceJoin, Topic: TopicPresence}}

	<-stuck.send // the pre-filled item
	if _, ok := <-stuck.send; ok {
		t.Error("Expected stuck client's send channel to be closed")
	}

	f := recvFrame(t, alice)
	if f.Type != FramePresenceJoin || f.UserID != "alice" {
		t.Errorf("Expected alice join hint, got %+v", f)
	}
	f = recvFrame(t, alice)
	if f.Type != FramePresenceState {
		t.Fatalf("Expected snapshot, got %+v", f)
	}
	if _, ok := f.State["bob"]; ok {
		t.Error("Expected dropped client absent from snapshot")
	}

	// The Run goroutine survived the drop and still routes traffic.
	hub.inbound <- inbound{client: alice, frame: Frame{Type: FrameSubscribe, Topic: TopicInbox}}
	recvFrame(t, alice) // subscribe ack
	hub.Publish(&models.Message{ID: "m1", SenderID: "carol", ReceiverID: "alice", Content: "hi"})
	if f = recvFrame(t, alice); f.Type != FrameMessage {
		t.Errorf("Expected delivery after the drop, got %+v", f)
	}
}

func TestPresenceJoinStateAndLeave(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.register <- alice
	hub.register <- bob

	hub.inbound <- inbound{client: alice, frame: Frame{
		Type: FramePresenceJoin, Topic: TopicPresence,
		Meta: &models.PresenceMeta{Name: "Alice"},
	}}

	// Alice sees her own join hint then the snapshot.
	f := recvFrame(t, alice)
	if f.Type != FramePresenceJoin || f.UserID != "alice" {
		t.Errorf("Expected alice join hint, got %+v", f)
	}
	f = recvFrame(t, alice)
	if f.Type != FramePresenceState || len(f.State) != 1 {
		t.Errorf("Expected snapshot with 1 member, got %+v", f)
	}

	hub.inbound <- inbound{client: bob, frame: Frame{Type: FramePresenceJoin, Topic: TopicPresence}}

	// Alice's next snapshot has both members.
	recvFrame(t, alice) // bob's join hint
	f = recvFrame(t, alice)
	if len(f.State) != 2 {
		t.Errorf("Expected snapshot with 2 members, got %+v", f.State)
	}

	// Disconnect bob entirely: membership drops without an explicit leave frame.
	hub.unregister <- bob

	recvFrame(t, alice) // leave hint
	f = recvFrame(t, alice)
	if f.Type != FramePresenceState {
		t.Fatalf("Expected snapshot, got %+v", f)
	}
	if _, ok := f.State["bob"]; ok {
		t.Error("Expected bob removed from snapshot after disconnect")
	}
	if _, ok := f.State["alice"]; !ok {
		t.Error("Expected alice still present in snapshot")
	}
}
