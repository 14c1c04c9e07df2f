package realtime

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeon-im/pigeon/internal/api"
	"github.com/pigeon-im/pigeon/internal/auth"
	"github.com/pigeon-im/pigeon/internal/blob"
	"github.com/pigeon-im/pigeon/internal/engine"
	"github.com/pigeon-im/pigeon/internal/handlers"
	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/store/sqlstore"
	"github.com/pigeon-im/pigeon/internal/ws"
)

func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlstore.New("sqlite3", ":memory:")
	require.NoError(t, err)

	blobs, err := blob.New(t.TempDir(), []byte("test-secret"))
	require.NoError(t, err)

	hub := ws.NewHub()
	go hub.Run()

	srv := httptest.NewServer(nil)
	srv.Config.Handler = handlers.NewRouter(handlers.RouterConfig{
		Store:   st,
		Hub:     hub,
		JWT:     auth.NewJWTManager("test-secret", time.Hour),
		Blobs:   blobs,
		BaseURL: srv.URL,
		SignTTL: time.Hour,
	})
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, name, email string) (*api.Client, string) {
	t.Helper()
	c := api.NewClient(srv.URL)
	_, err := c.Signup(context.Background(), name, email, "hunter2!")
	require.NoError(t, err)
	session, err := c.Login(context.Background(), email, "hunter2!")
	require.NoError(t, err)
	return c, session.Profile.ID
}

func dial(t *testing.T, c *api.Client) *Client {
	t.Helper()
	rt, err := Dial(context.Background(), c.WebsocketURL())
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func recvMsg(t *testing.T, ch <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return models.Message{}
	}
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestConversationAndInboxDelivery(t *testing.T) {
	srv := newTestGateway(t)
	alice, aliceID := login(t, srv, "Alice", "alice@example.com")
	bob, bobID := login(t, srv, "Bob", "bob@example.com")

	bobRT := dial(t, bob)

	conv := make(chan models.Message, 4)
	inbox := make(chan models.Message, 4)
	_, err := bobRT.SubscribeConversation(aliceID, func(m models.Message) { conv <- m })
	require.NoError(t, err)
	_, err = bobRT.SubscribeInbox(func(m models.Message) { inbox <- m })
	require.NoError(t, err)

	sent, err := alice.SendMessage(context.Background(), bobID, "hello over the wire")
	require.NoError(t, err)

	got := recvMsg(t, conv)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello over the wire", got.Content)

	// The same insert also lands on the inbox topic.
	assert.Equal(t, sent.ID, recvMsg(t, inbox).ID)
}

// SubscribeConversation returns only once the gateway has the topic live, so
// a message sent immediately afterwards is never lost in the handoff.
func TestSubscribeSeesImmediatePublish(t *testing.T) {
	srv := newTestGateway(t)
	alice, aliceID := login(t, srv, "Alice", "alice@example.com")
	bob, bobID := login(t, srv, "Bob", "bob@example.com")

	bobRT := dial(t, bob)

	for i := 0; i < 5; i++ {
		conv := make(chan models.Message, 1)
		unsub, err := bobRT.SubscribeConversation(aliceID, func(m models.Message) { conv <- m })
		require.NoError(t, err)

		sent, err := alice.SendMessage(context.Background(), bobID, fmt.Sprintf("burst %d", i))
		require.NoError(t, err)
		assert.Equal(t, sent.ID, recvMsg(t, conv).ID)
		unsub()
	}
}

func TestUnsubscribeStopsConversationDelivery(t *testing.T) {
	srv := newTestGateway(t)
	alice, aliceID := login(t, srv, "Alice", "alice@example.com")
	bob, bobID := login(t, srv, "Bob", "bob@example.com")

	bobRT := dial(t, bob)

	conv := make(chan models.Message, 4)
	inbox := make(chan models.Message, 4)
	unsub, err := bobRT.SubscribeConversation(aliceID, func(m models.Message) { conv <- m })
	require.NoError(t, err)
	_, err = bobRT.SubscribeInbox(func(m models.Message) { inbox <- m })
	require.NoError(t, err)

	unsub()

	_, err = alice.SendMessage(context.Background(), bobID, "after unsubscribe")
	require.NoError(t, err)

	// The inbox frame proves the round trip completed, so an empty conv
	// channel means the unsubscribe took effect rather than racing.
	recvMsg(t, inbox)
	select {
	case m := <-conv:
		t.Fatalf("unexpected conversation delivery: %s", m.Content)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPresenceJoinStateLeave(t *testing.T) {
	srv := newTestGateway(t)
	alice, aliceID := login(t, srv, "Alice", "alice@example.com")
	bob, bobID := login(t, srv, "Bob", "bob@example.com")

	aliceRT := dial(t, alice)

	joins := make(chan string, 4)
	leaves := make(chan string, 4)
	states := make(chan map[string][]models.PresenceMeta, 8)
	_, err := aliceRT.JoinPresence(models.PresenceMeta{Name: "Alice"}, engine.PresenceHandlers{
		OnState: func(s map[string][]models.PresenceMeta) { states <- s },
		OnJoin:  func(id string, _ models.PresenceMeta) { joins <- id },
		OnLeave: func(id string) { leaves <- id },
	})
	require.NoError(t, err)

	// A member hears its own join hint first.
	assert.Equal(t, aliceID, recv(t, joins))

	bobRT := dial(t, bob)
	leaveBob, err := bobRT.JoinPresence(models.PresenceMeta{Name: "Bob"}, engine.PresenceHandlers{})
	require.NoError(t, err)

	assert.Equal(t, bobID, recv(t, joins))
	state := recvState(t, states, bobID)
	require.Len(t, state, 2)
	assert.Equal(t, "Bob", state[bobID][0].Name)

	leaveBob()
	assert.Equal(t, bobID, recv(t, leaves))
}

// recvState drains snapshots until one contains the wanted id.
func recvState(t *testing.T, ch <-chan map[string][]models.PresenceMeta, wantID string) map[string][]models.PresenceMeta {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-ch:
			if _, ok := state[wantID]; ok {
				return state
			}
		case <-deadline:
			t.Fatalf("no presence snapshot containing %s", wantID)
			return nil
		}
	}
}
