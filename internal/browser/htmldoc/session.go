// internal/browser/htmldoc/session.go
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/network"
)

// maxPageBytes caps how much of a response body is parsed.
const maxPageBytes = 10 << 20

// Provider opens static sessions. Pages are served from the Pages map first
// and fetched over HTTP otherwise.
type Provider struct {
	Pages  map[string]string
	Client *http.Client
	Logger *zap.Logger
}

var _ browser.Provider = (*Provider)(nil)

// NewSession implements browser.Provider. The session starts on about:blank.
func (p *Provider) NewSession(ctx context.Context, opts browser.Options) (browser.Session, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := p.Client
	if client == nil {
		client = network.NewClient(network.ClientConfig{
			RequestTimeout:  opts.PageLoadTimeout,
			IgnoreTLSErrors: opts.IgnoreTLSErrors,
			ForceHTTP2:      true,
			Logger:          logger,
		})
	}

	doc, err := Parse("about:blank", "<html><head></head><body></body></html>", logger)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Document: doc,
		id:       uuid.NewString(),
		pages:    p.Pages,
		client:   client,
		logger:   logger.With(zap.String("driver", "static")),
	}
	if opts.Device != nil {
		s.userAgent = opts.Device.UserAgent
	}
	doc.navigate = s.Navigate
	s.logger.Debug("Static session opened.", zap.String("session_id", s.id))
	return s, nil
}

// Session is a Document that can navigate between pages.
type Session struct {
	*Document
	id        string
	pages     map[string]string
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	closed    atomic.Bool
}

var _ browser.Session = (*Session)(nil)

// ID implements browser.Session.
func (s *Session) ID() string { return s.id }

// Navigate implements browser.Session. Relative URLs resolve against the
// current page.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if s.closed.Load() {
		return browser.ErrSessionClosed
	}
	current, _ := s.Document.CurrentURL(ctx)
	target, err := resolveURL(current, rawURL)
	if err != nil {
		return fmt.Errorf("invalid navigation target %q: %w", rawURL, err)
	}

	s.logger.Info("Navigating session.", zap.String("url", target))
	markup, err := s.fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", target, err)
	}

	s.Document.mu.Lock()
	defer s.Document.mu.Unlock()
	return s.Document.load(target, markup)
}

func (s *Session) fetch(ctx context.Context, target string) (string, error) {
	if markup, ok := s.pages[target]; ok {
		return markup, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("received status code %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(body), nil
}

// Query implements browser.Document, refusing work after Close.
func (s *Session) Query(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	if s.closed.Load() {
		return nil, browser.ErrSessionClosed
	}
	return s.Document.Query(ctx, loc)
}

// Dispatch implements browser.Document, refusing work after Close.
func (s *Session) Dispatch(ctx context.Context, elementID string, action browser.Action) error {
	if s.closed.Load() {
		return browser.ErrSessionClosed
	}
	return s.Document.Dispatch(ctx, elementID, action)
}

// Close implements browser.Session. Closing twice is a no-op.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug("Static session closed.", zap.String("session_id", s.id))
	return nil
}

func resolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() || b.Scheme == "about" {
		return r.String(), nil
	}
	return b.ResolveReference(r).String(), nil
}
