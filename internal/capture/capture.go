// internal/capture/capture.go
// Package capture records the state of a document when a test fails. Capture
// never fails: it degrades from a screenshot to the page's HTML to a
// placeholder, and storage problems are logged rather than returned.
package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

const defaultTimeout = 10 * time.Second

// Artifact is one captured document state.
type Artifact struct {
	ID          string
	Name        string
	TimestampMs int64
	Kind        browser.SnapshotKind
	ContentType string
	Payload     []byte
	// Path is where the store put the payload; empty when nothing was stored.
	Path string
	// Cause joins the errors that forced a fallback, if any.
	Cause error
}

// Store persists artifacts and returns the payload's location.
type Store interface {
	Save(ctx context.Context, a Artifact) (string, error)
}

// Registry hands out run-unique artifact names. One Registry is usually shared
// by every Capturer in a test binary.
type Registry struct {
	mu   sync.Mutex
	next map[string]int
	used map[string]bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{next: make(map[string]int), used: make(map[string]bool)}
}

// Reserve returns name the first time it is seen and name_1, name_2, ... after
// that.
func (r *Registry) Reserve(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next[name]
	candidate := name
	if n > 0 {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	for r.used[candidate] {
		n++
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	r.next[name] = n + 1
	r.used[candidate] = true
	return candidate
}

// Capturer snapshots one document.
type Capturer struct {
	doc      browser.Document
	store    Store
	registry *Registry
	clock    poll.Clock
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithStore persists artifacts through s.
func WithStore(s Store) Option { return func(c *Capturer) { c.store = s } }

// WithRegistry shares a name registry across capturers.
func WithRegistry(r *Registry) Option {
	return func(c *Capturer) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithClock sets the clock used for timestamps and default names.
func WithClock(clock poll.Clock) Option {
	return func(c *Capturer) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTimeout bounds the snapshot and store calls of one Capture.
func WithTimeout(d time.Duration) Option {
	return func(c *Capturer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Capturer for doc.
func New(doc browser.Document, logger *zap.Logger, opts ...Option) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Capturer{
		doc:      doc,
		clock:    poll.RealClock(),
		timeout:  defaultTimeout,
		logger:   logger.Named("capture"),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture snapshots the document under name. An empty name becomes
// screenshot_<yyyymmdd_hhmmss>. The caller's cancellation does not stop a
// capture; failures are usually being reported after the test context ended.
func (c *Capturer) Capture(ctx context.Context, name string) Artifact {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	now := c.clock.Now()
	if name = SanitizeName(name); name == "" {
		name = "screenshot_" + now.Format("20060102_150405")
	}
	art := Artifact{
		ID:          uuid.NewString(),
		Name:        c.registry.Reserve(name),
		TimestampMs: now.UnixMilli(),
	}

	snap, cause := c.snapshot(ctx)
	art.Kind, art.ContentType, art.Payload, art.Cause = snap.Kind, snap.ContentType, snap.Data, cause

	if c.store != nil {
		path, err := c.store.Save(ctx, art)
		if err != nil {
			c.logger.Error("Failed to store failure artifact.", zap.String("name", art.Name), zap.Error(err))
		} else {
			art.Path = path
		}
	}

	c.logger.Info("Captured failure artifact.",
		zap.String("name", art.Name),
		zap.String("kind", string(art.Kind)),
		zap.Int("bytes", len(art.Payload)),
		zap.String("path", art.Path),
		zap.NamedError("cause", art.Cause))
	return art
}

func (c *Capturer) snapshot(ctx context.Context) (browser.Snapshot, error) {
	if c.doc == nil {
		return placeholder(errors.New("no document")), errors.New("no document")
	}

	snap, shotErr := c.doc.TakeSnapshot(ctx)
	if shotErr == nil && len(snap.Data) > 0 {
		return snap, nil
	}
	if shotErr == nil {
		shotErr = errors.New("screenshot was empty")
	}
	shotErr = fmt.Errorf("screenshot: %w", shotErr)

	src, ok := c.doc.(browser.HTMLSource)
	if !ok {
		return placeholder(shotErr), shotErr
	}
	markup, htmlErr := src.OuterHTML(ctx)
	if htmlErr == nil && markup != "" {
		return browser.Snapshot{Kind: browser.SnapshotHTML, ContentType: "text/html; charset=utf-8", Data: []byte(markup)}, shotErr
	}
	if htmlErr == nil {
		htmlErr = errors.New("document html was empty")
	}
	cause := errors.Join(shotErr, fmt.Errorf("html: %w", htmlErr))
	return placeholder(cause), cause
}

func placeholder(cause error) browser.Snapshot {
	return browser.Snapshot{
		Kind:        browser.SnapshotPlaceholder,
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte("no snapshot available: " + cause.Error() + "\n"),
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName turns a test name like "TestCheckout/guest user" into a file
// name fragment ("TestCheckout_guest_user"). A trailing .png is dropped since
// the store picks the extension.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".png")
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}
