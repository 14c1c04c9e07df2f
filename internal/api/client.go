// Package api is the HTTP client for the gateway: it speaks the REST surface
// and adapts it to the interfaces the sync engine consumes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pigeon-im/pigeon/internal/models"
	"github.com/pigeon-im/pigeon/internal/store"
)

var (
	ErrNoSession    = errors.New("no session token")
	ErrUnauthorized = errors.New("session rejected")
)

// HTTPError is any non-2xx response that has no more specific mapping.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// Session is what a successful login yields.
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Profile   models.Profile `json:"profile"`
}

// Client is a thin, stateless-per-request wrapper over the gateway routes.
// It implements the engine's Store and Objects interfaces.
type Client struct {
	base  string
	http  *http.Client
	token string
}

func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs the bearer token used on every subsequent call.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Token() string { return c.token }

// Signup registers a new account. It does not log in.
func (c *Client) Signup(ctx context.Context, name, email, password string) (*models.Profile, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var profile models.Profile
	if err := c.doPublic(ctx, http.MethodPost, "/signup", body, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Login exchanges credentials for a session and installs its token.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.doPublic(ctx, http.MethodPost, "/login", body, &session); err != nil {
		return nil, err
	}
	c.token = session.Token
	return &session, nil
}

func (c *Client) History(ctx context.Context, peerID string) ([]models.Message, error) {
	var out []models.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peerID), nil, nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, receiverID, content string) (*models.Message, error) {
	body := map[string]string{"receiver_id": receiverID, "content": content}
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/messages", nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) LatestMessageWith(ctx context.Context, peerID string) (*models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(peerID)+"/latest", nil, nil, &msg)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Counterparts(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/counterparts", nil, nil, &out)
	return out, err
}

func (c *Client) ProfilesByIDs(ctx context.Context, ids []string) ([]models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	var out []models.Profile
	err := c.do(ctx, http.MethodGet, "/profiles", q, nil, &out)
	return out, err
}

func (c *Client) ProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	q := url.Values{"email": {email}}
	var profile models.Profile
	err := c.do(ctx, http.MethodGet, "/profiles/lookup", q, nil, &profile)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) Contacts(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/contacts", nil, nil, &out)
	return out, err
}

func (c *Client) UpsertContact(ctx context.Context, contactID string) error {
	return c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contactID), nil, nil, nil)
}

func (c *Client) BlockedIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/blocks", nil, nil, &out)
	return out, err
}

func (c *Client) Block(ctx context.Context, peerID string) error {
	err := c.do(ctx, http.MethodPut, "/blocks/"+url.PathEscape(peerID), nil, nil, nil)
	return mapConflict(err, store.ErrAlreadyBlocked)
}

func (c *Client) Unblock(ctx context.Context, peerID string) error {
	return c.do(ctx, http.MethodDelete, "/blocks/"+url.PathEscape(peerID), nil, nil, nil)
}

func (c *Client) ArchivedIDs(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/archives", nil, nil, &out)
	return out, err
}

func (c *Client) Archive(ctx context.Context, peerID string) error {
	err := c.do(ctx, http.MethodPut, "/archives/"+url.PathEscape(peerID), nil, nil, nil)
	return mapConflict(err, store.ErrAlreadyArchived)
}

func (c *Client) Unarchive(ctx context.Context, peerID string) error {
	return c.do(ctx, http.MethodDelete, "/archives/"+url.PathEscape(peerID), nil, nil, nil)
}

// Upload streams an object body to the store. The path must already be
// namespaced under the session user's id, the gateway enforces it.
func (c *Client) Upload(ctx context.Context, path string, r io.Reader, contentType string, upsert bool) error {
	if c.token == "" {
		return ErrNoSession
	}
	u := c.base + "/objects/" + escapeKey(path)
	if upsert {
		u += "?upsert=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// SignedURL asks the gateway for a fresh capability URL for a stored object.
func (c *Client) SignedURL(ctx context.Context, path string) (string, error) {
	q := url.Values{"path": {path}}
	var out struct {
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodGet, "/sign", q, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) DeleteObject(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/objects/"+escapeKey(path), nil, nil, nil)
}

// WebsocketURL derives the realtime endpoint from the REST base.
func (c *Client) WebsocketURL() string {
	u := c.base + "/ws"
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "?token=" + url.QueryEscape(c.token)
}

var errNoContent = errors.New("no content")

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.token == "" {
		return ErrNoSession
	}
	return c.request(ctx, method, path, query, body, out, c.token)
}

func (c *Client) doPublic(ctx context.Context, method, path string, body, out interface{}) error {
	return c.request(ctx, method, path, nil, body, out, "")
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out interface{}, token string) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent {
		if out != nil {
			return errNoContent
		}
		return nil
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, strings.TrimSpace(string(raw)))
	}
	return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

func mapConflict(err error, sentinel error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusConflict {
		return sentinel
	}
	return err
}

// escapeKey escapes each segment of a storage key while keeping the slashes,
// which the object routes match on.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
