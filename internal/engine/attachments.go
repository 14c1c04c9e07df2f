package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/log"
)

const (
	attachmentTTL   = time.Hour
	refreshInterval = 30 * time.Minute
	retryCooldown   = 60 * time.Second
	maxUploadBytes  = 10 << 20 // 10 MiB
)

var (
	ErrFileTooLarge   = errors.New("file exceeds the upload size limit")
	ErrDisallowedType = errors.New("file type is not allowed")
)

var allowedMimeTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// Upload describes a file the user picked for sending.
type Upload struct {
	Name string
	Mime string
	Size int64
	Data io.Reader
}

type resolvedURL struct {
	url string
	at  time.Time
}

// AttachmentCache resolves storage paths to short-lived signed URLs and keeps
// them fresh: proactively on a timer for everything visible in the timeline,
// and reactively (once per cool-down) when rendering a URL fails.
type AttachmentCache struct {
	objects Objects

	// visible reports the attachment paths of the current timeline; the
	// proactive loop re-resolves exactly that set.
	visible func() []string

	mu      sync.Mutex
	urls    map[string]resolvedURL
	retried map[string]time.Time // last reactive retry, keyed by message id

	ttl      time.Duration
	interval time.Duration
	cooldown time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewAttachmentCache(objects Objects, visible func() []string) *AttachmentCache {
	return &AttachmentCache{
		objects:  objects,
		visible:  visible,
		urls:     make(map[string]resolvedURL),
		retried:  make(map[string]time.Time),
		ttl:      attachmentTTL,
		interval: refreshInterval,
		cooldown: retryCooldown,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// Start launches the proactive refresh loop. Stop must be called on session
// teardown or the ticker leaks for the process lifetime.
func (c *AttachmentCache) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RefreshVisible(context.Background())
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *AttachmentCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Resolve requests a fresh signed URL for a path and caches it.
func (c *AttachmentCache) Resolve(ctx context.Context, path string) (string, error) {
	url, err := c.objects.SignedURL(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	c.mu.Lock()
	c.urls[path] = resolvedURL{url: url, at: c.now()}
	c.mu.Unlock()
	return url, nil
}

// URL returns the cached access URL. A URL older than the TTL is treated as
// expired no matter how it was obtained.
func (c *AttachmentCache) URL(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.urls[path]
	if !ok || c.now().Sub(entry.at) >= c.ttl {
		return "", false
	}
	return entry.url, true
}

// RefreshVisible re-resolves every attachment currently in the visible
// timeline, expired or not, so long-lived sessions keep rendering without a
// visible refresh hiccup.
func (c *AttachmentCache) RefreshVisible(ctx context.Context) {
	for _, path := range c.visible() {
		if _, err := c.Resolve(ctx, path); err != nil {
			log.L.Warn().Err(err).Str("path", path).Msg("proactive refresh")
		}
	}
}

// ReportFailure is the reactive path: a render failed for this message, so
// re-resolve its URL once. Further failures for the same message inside the
// cool-down window do nothing, which stops a retry loop against an object
// that is permanently gone.
func (c *AttachmentCache) ReportFailure(ctx context.Context, messageID, path string) (string, bool, error) {
	c.mu.Lock()
	if last, ok := c.retried[messageID]; ok && c.now().Sub(last) < c.cooldown {
		c.mu.Unlock()
		return "", false, nil
	}
	c.retried[messageID] = c.now()
	c.mu.Unlock()

	url, err := c.Resolve(ctx, path)
	if err != nil {
		return "", true, err
	}
	return url, true, nil
}

// ValidateUpload enforces the client-side checks that must run before any
// network call.
func ValidateUpload(up Upload) error {
	if up.Size > maxUploadBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, up.Size)
	}
	if !allowedMimeTypes[up.Mime] {
		return fmt.Errorf("%w: %s", ErrDisallowedType, up.Mime)
	}
	return nil
}

// Upload validates and streams a file to the object store, reporting progress
// as 0-100. Validation rejections short-circuit without touching the network.
func (c *AttachmentCache) Upload(ctx context.Context, path string, up Upload, progress func(pct int)) error {
	if err := ValidateUpload(up); err != nil {
		return err
	}
	if progress != nil {
		progress(0)
	}

	reader := up.Data
	if progress != nil && up.Size > 0 {
		reader = &progressReader{r: up.Data, total: up.Size, report: progress}
	}
	if err := c.objects.Upload(ctx, path, reader, up.Mime, false); err != nil {
		return fmt.Errorf("upload %q: %w", path, err)
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct != p.last {
		p.last = pct
		p.report(pct)
	}
	return n, err
}
