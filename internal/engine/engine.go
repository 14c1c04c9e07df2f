// Package engine is the realtime conversation synchronization engine: it
// keeps a per-peer message timeline, a presence set, a recency-ranked
// conversation list and the attachment access URLs consistent under
// out-of-order push events, concurrent local sends and peer switches.
package engine

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pigeon-im/pigeon/internal/codec"
	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/models"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoPeerSelected   = errors.New("no conversation selected")
	ErrEmptyMessage     = errors.New("message text is required")
)

// Store is the query/mutation surface of the storage substrate, scoped to the
// authenticated user.
type Store interface {
	History(ctx context.Context, peerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, receiverID, content string) (*models.Message, error)
	LatestMessageWith(ctx context.Context, peerID string) (*models.Message, error)
	Counterparts(ctx context.Context) ([]string, error)

	ProfilesByIDs(ctx context.Context, ids []string) ([]models.Profile, error)
	ProfileByEmail(ctx context.Context, email string) (*models.Profile, error)

	Contacts(ctx context.Context) ([]string, error)
	UpsertContact(ctx context.Context, contactID string) error

	BlockedIDs(ctx context.Context) ([]string, error)
	Block(ctx context.Context, peerID string) error
	Unblock(ctx context.Context, peerID string) error

	ArchivedIDs(ctx context.Context) ([]string, error)
	Archive(ctx context.Context, peerID string) error
	Unarchive(ctx context.Context, peerID string) error
}

// PresenceHandlers receives presence channel events. The full-state snapshot
// is authoritative; join/leave are incremental hints.
type PresenceHandlers struct {
	OnState func(state map[string][]models.PresenceMeta)
	OnJoin  func(userID string, meta models.PresenceMeta)
	OnLeave func(userID string)
}

// Realtime is the push side of the substrate. Every Subscribe returns an
// unsubscribe func; calling it is how subscriptions are torn down.
type Realtime interface {
	SubscribeConversation(peerID string, fn func(models.Message)) (func(), error)
	SubscribeInbox(fn func(models.Message)) (func(), error)
	JoinPresence(meta models.PresenceMeta, h PresenceHandlers) (func(), error)
}

// Objects is the object-store surface the engine needs.
type Objects interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string, upsert bool) error
	SignedURL(ctx context.Context, path string) (string, error)
}

// Engine ties the sync components together behind one lock. User calls and
// push callbacks interleave arbitrarily; every state mutation takes the lock,
// which is the Go rendering of the source's single-threaded event loop.
type Engine struct {
	mu sync.Mutex

	self  models.Profile
	store Store
	rt    Realtime

	timeline    *Timeline
	ranking     *RankingStore
	presence    *PresenceTracker
	attachments *AttachmentCache
	subs        *Subscriptions

	// gen guards against stale history loads: a SelectPeer bumps it, and a
	// load only applies if the generation still matches when it returns.
	gen int

	blocked   map[string]bool
	uploadPct int
	lastErr   string
	onChange  func()
}

func New(self models.Profile, store Store, rt Realtime, objects Objects) *Engine {
	e := &Engine{
		self:     self,
		store:    store,
		rt:       rt,
		timeline: NewTimeline(self.ID),
		presence: NewPresenceTracker(),
		subs:     NewSubscriptions(),
		blocked:  map[string]bool{},
	}
	e.ranking = NewRankingStore(self.ID, store)
	e.attachments = NewAttachmentCache(objects, e.visibleAttachmentPaths)
	return e
}

// SetOnChange registers the UI notification callback. It is invoked after any
// observable state change, never while the engine lock is held.
func (e *Engine) SetOnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Start establishes the session-scoped subscriptions (presence, inbox),
// starts the attachment refresh loop and performs the initial ranking load.
func (e *Engine) Start(ctx context.Context) error {
	if e.self.ID == "" {
		return ErrNotAuthenticated
	}

	meta := models.PresenceMeta{Name: e.self.Name, Email: e.self.Email}
	leavePresence, err := e.rt.JoinPresence(meta, PresenceHandlers{
		OnState: e.handlePresenceState,
		OnJoin:  e.handlePresenceJoin,
		OnLeave: e.handlePresenceLeave,
	})
	if err != nil {
		return err
	}
	e.subs.SetPresence(leavePresence)

	e.mu.Lock()
	e.presence.Connect()
	e.mu.Unlock()

	unsubInbox, err := e.rt.SubscribeInbox(e.handleInbox)
	if err != nil {
		e.subs.Close()
		return err
	}
	e.subs.SetInbox(unsubInbox)

	e.attachments.Start()

	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

// Close tears down every subscription and timer. It is unconditional: it must
// run on logout/destroy even when a prior operation failed, otherwise the
// presence channel keeps the user marked online and the refresh timer leaks.
func (e *Engine) Close() {
	e.subs.Close()
	e.attachments.Stop()

	e.mu.Lock()
	e.presence.Disconnect()
	e.mu.Unlock()
}

// SelectPeer switches the active conversation. Sequencing matters: reset the
// timeline state, subscribe the live channel, then load history and let the
// dedup set collapse anything delivered twice in the overlap.
func (e *Engine) SelectPeer(ctx context.Context, peerID string) error {
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.timeline.Reset(peerID)
	e.mu.Unlock()

	unsub, err := e.rt.SubscribeConversation(peerID, func(msg models.Message) {
		e.handleLive(peerID, msg)
	})
	if err != nil {
		e.fail(err)
		return err
	}
	e.mu.Lock()
	stale := e.gen != gen
	e.mu.Unlock()
	if stale {
		// A later switch won the race while we were subscribing.
		unsub()
		return nil
	}
	e.subs.SetConversation(unsub)

	history, err := e.store.History(ctx, peerID)
	if err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		// The user already navigated away; drop the stale response.
		e.mu.Unlock()
		return nil
	}
	e.timeline.ApplyHistory(history)
	e.mu.Unlock()

	e.resolveVisibleAttachments(ctx)
	e.notify()
	return nil
}

// Send sends plain text to the selected peer. The returned row is appended
// optimistically; the push echo of the same row deduplicates against it.
func (e *Engine) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	peerID := e.timeline.PeerID()
	e.mu.Unlock()
	if peerID == "" {
		return ErrNoPeerSelected
	}

	msg, err := e.store.SendMessage(ctx, peerID, codec.Encode(text, nil))
	if err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.timeline.Append(*msg)
	e.mu.Unlock()

	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

// SendAttachment validates, uploads and sends a file message. Validation
// failures short-circuit before any network call.
func (e *Engine) SendAttachment(ctx context.Context, up Upload, caption string) error {
	e.mu.Lock()
	peerID := e.timeline.PeerID()
	e.mu.Unlock()
	if peerID == "" {
		return ErrNoPeerSelected
	}

	path := e.self.ID + "/" + uuid.NewString() + filepath.Ext(up.Name)
	err := e.attachments.Upload(ctx, path, up, func(pct int) {
		e.mu.Lock()
		e.uploadPct = pct
		e.mu.Unlock()
		e.notify()
	})
	if err != nil {
		e.fail(err)
		return err
	}

	content := codec.Encode(caption, &codec.Attachment{Path: path, Name: up.Name, Mime: up.Mime})
	msg, err := e.store.SendMessage(ctx, peerID, content)
	if err != nil {
		e.fail(err)
		return err
	}

	e.mu.Lock()
	e.timeline.Append(*msg)
	e.mu.Unlock()

	if _, err := e.attachments.Resolve(ctx, path); err != nil {
		log.L.Warn().Err(err).Str("path", path).Msg("resolve uploaded attachment")
	}
	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

// Search resolves a user by exact email, adds them as an explicit contact so
// they persist in the ranking with zero messages, and selects them.
func (e *Engine) Search(ctx context.Context, email string) error {
	profile, err := e.ranking.AddByEmail(ctx, email)
	if err != nil {
		e.fail(err)
		return err
	}
	e.notify()
	return e.SelectPeer(ctx, profile.ID)
}

func (e *Engine) Block(ctx context.Context, peerID string) error {
	if err := e.store.Block(ctx, peerID); err != nil {
		e.fail(err)
		return err
	}
	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

func (e *Engine) Unblock(ctx context.Context, peerID string) error {
	if err := e.store.Unblock(ctx, peerID); err != nil {
		e.fail(err)
		return err
	}
	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

func (e *Engine) Archive(ctx context.Context, peerID string) error {
	if err := e.store.Archive(ctx, peerID); err != nil {
		e.fail(err)
		return err
	}
	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

func (e *Engine) Unarchive(ctx context.Context, peerID string) error {
	if err := e.store.Unarchive(ctx, peerID); err != nil {
		e.fail(err)
		return err
	}
	if err := e.refreshRanking(ctx); err != nil {
		e.fail(err)
	}
	e.notify()
	return nil
}

// ReportAttachmentFailure is the reactive refresh hook for the UI: call it
// when rendering an attachment failed. At most one re-resolve per message per
// cool-down window.
func (e *Engine) ReportAttachmentFailure(ctx context.Context, messageID, path string) {
	if _, retried, err := e.attachments.ReportFailure(ctx, messageID, path); err != nil {
		e.fail(err)
	} else if retried {
		e.notify()
	}
}

// handleLive receives a push event for the subscribed conversation.
func (e *Engine) handleLive(peerID string, msg models.Message) {
	e.mu.Lock()
	if e.timeline.PeerID() != peerID {
		// Event from a subscription that is being torn down.
		e.mu.Unlock()
		return
	}
	if e.blocked[msg.SenderID] {
		e.mu.Unlock()
		return
	}
	appended := e.timeline.Append(msg)
	e.mu.Unlock()

	if !appended {
		return
	}
	if body := codec.Decode(msg.Content); body.Attachment != nil {
		if _, err := e.attachments.Resolve(context.Background(), body.Attachment.Path); err != nil {
			log.L.Warn().Err(err).Str("path", body.Attachment.Path).Msg("resolve pushed attachment")
		}
	}
	e.notify()
}

// handleInbox fires on any insert involving the session user, whichever peer
// it belongs to. The ranking store recomputes the full candidate set rather
// than moving a single row; see RankingStore.Refresh.
func (e *Engine) handleInbox(models.Message) {
	if err := e.refreshRanking(context.Background()); err != nil {
		e.fail(err)
		return
	}
	e.notify()
}

func (e *Engine) handlePresenceState(state map[string][]models.PresenceMeta) {
	e.mu.Lock()
	e.presence.ApplyState(state)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) handlePresenceJoin(userID string, meta models.PresenceMeta) {
	e.mu.Lock()
	e.presence.ApplyJoin(userID, meta)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) handlePresenceLeave(userID string) {
	e.mu.Lock()
	e.presence.ApplyLeave(userID)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) refreshRanking(ctx context.Context) error {
	blocked, err := e.ranking.Refresh(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.blocked = blocked
	e.mu.Unlock()
	return nil
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
	log.L.Error().Err(err).Msg("engine operation failed")
	e.notify()
}

func (e *Engine) visibleAttachmentPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var paths []string
	for _, entry := range e.timeline.entries {
		if entry.Body.Attachment != nil {
			paths = append(paths, entry.Body.Attachment.Path)
		}
	}
	return paths
}

func (e *Engine) resolveVisibleAttachments(ctx context.Context) {
	for _, path := range e.visibleAttachmentPaths() {
		if _, err := e.attachments.Resolve(ctx, path); err != nil {
			log.L.Warn().Err(err).Str("path", path).Msg("resolve attachment")
		}
	}
}

// Friends returns the ranked conversation list.
func (e *Engine) Friends() []Conversation {
	return e.ranking.Conversations()
}

// Messages returns the active timeline.
func (e *Engine) Messages() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.Entries()
}

// SelectedPeer returns the active peer id, empty when none is selected.
func (e *Engine) SelectedPeer() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline.PeerID()
}

// OnlineIDs returns the ids currently present on the session channel.
func (e *Engine) OnlineIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.OnlineIDs()
}

// AttachmentURL returns the cached access URL for a storage path.
func (e *Engine) AttachmentURL(path string) (string, bool) {
	return e.attachments.URL(path)
}

// UploadProgress returns the last reported upload percentage (0-100).
func (e *Engine) UploadProgress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploadPct
}

// LastError returns the most recent operation error as a user-facing string.
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}
