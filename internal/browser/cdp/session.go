// internal/browser/cdp/session.go
// Package cdp implements browser.Session on top of chromedp. Each session owns
// its own browser process and tab; element handles are the backend node IDs
// returned by the most recent queries.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultPageLoadTimeout = 30 * time.Second

// Provider launches a Chrome instance per session.
type Provider struct {
	Logger *zap.Logger
}

var _ browser.Provider = (*Provider)(nil)

// NewSession implements browser.Provider.
func (p *Provider) NewSession(ctx context.Context, opts browser.Options) (browser.Session, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.Named("cdp").With(zap.String("session_id", id))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	s := newSession(id, tabCtx, func() {
		tabCancel()
		allocCancel()
	}, logger, opts.PageLoadTimeout)

	// The first Run starts the browser.
	if err := s.RunActions(ctx, emulationTasks(opts.Device)); err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	logger.Info("Browser session started.", zap.Bool("headless", opts.Headless))
	return s, nil
}

// Session is a chromedp-backed browser.Session.
type Session struct {
	id              string
	ctx             context.Context
	cancel          context.CancelFunc
	logger          *zap.Logger
	pageLoadTimeout time.Duration
	// runActionsFunc executes chromedp actions; tests replace it.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error

	mu     sync.Mutex
	nodes  map[string]*cdp.Node
	closed atomic.Bool
}

var (
	_ browser.Session    = (*Session)(nil)
	_ browser.HTMLSource = (*Session)(nil)
)

func newSession(id string, ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, pageLoad time.Duration) *Session {
	if pageLoad <= 0 {
		pageLoad = defaultPageLoadTimeout
	}
	s := &Session{
		id:              id,
		ctx:             ctx,
		cancel:          cancel,
		logger:          logger,
		pageLoadTimeout: pageLoad,
		nodes:           make(map[string]*cdp.Node),
	}
	s.runActionsFunc = s.runActions
	return s
}

// ID implements browser.Session.
func (s *Session) ID() string { return s.id }

// RunActions runs chromedp actions bounded by both the session and ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return browser.ErrSessionClosed
	}
	return s.runActionsFunc(ctx, actions...)
}

func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return browser.ClassifyDriverError(err)
}

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating session.", zap.String("url", url))
	navCtx, cancel := context.WithTimeout(ctx, s.pageLoadTimeout)
	defer cancel()

	err := s.RunActions(navCtx, chromedp.Navigate(url))
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, s.pageLoadTimeout, navCtx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	s.mu.Lock()
	s.nodes = make(map[string]*cdp.Node)
	s.mu.Unlock()
	return nil
}

// Query implements browser.Document.
func (s *Session) Query(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	q, err := browser.CompileQuery(loc)
	if err != nil {
		return nil, err
	}
	by := chromedp.ByQueryAll
	if q.Lang == browser.LangXPath {
		by = chromedp.BySearch
	}

	var nodes []*cdp.Node
	var states []nodeState
	err = s.RunActions(ctx,
		chromedp.Nodes(q.Expression, &nodes, by, chromedp.AtLeast(0)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			states = states[:0]
			for _, n := range nodes {
				var st nodeState
				if err := callOnNode(ctx, n, probeScript, &st); err != nil {
					return err
				}
				states = append(states, st)
			}
			return nil
		}),
	)
	if err != nil {
		if isSyntaxError(err) {
			return nil, fmt.Errorf("%w: %s: %v", browser.ErrInvalidLocator, loc, err)
		}
		return nil, fmt.Errorf("query for %s failed: %w", loc, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]browser.Element, 0, len(nodes))
	for i, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement || i >= len(states) {
			continue
		}
		id := strconv.FormatInt(int64(n.BackendNodeID), 10)
		s.nodes[id] = n
		st := states[i]
		out = append(out, browser.Element{ID: id, Tag: st.Tag, Text: st.Text, Visible: st.Visible, Enabled: st.Enabled})
	}
	return out, nil
}

func (s *Session) node(id string) (*cdp.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, browser.ErrStaleElement
	}
	return n, nil
}

// Dispatch implements browser.Document.
func (s *Session) Dispatch(ctx context.Context, elementID string, action browser.Action) error {
	if elementID == "" {
		return s.dispatchDocument(ctx, action)
	}
	n, err := s.node(elementID)
	if err != nil {
		return err
	}

	var act chromedp.Action
	switch action.Kind {
	case browser.ActionClick:
		act = chromedp.MouseClickNode(n)
	case browser.ActionClear:
		act = chromedp.ActionFunc(func(ctx context.Context) error {
			var cleared bool
			if err := callOnNode(ctx, n, clearScript, &cleared); err != nil {
				return err
			}
			if !cleared {
				return browser.ErrNotInteractable
			}
			return nil
		})
	case browser.ActionSendKeys:
		act = chromedp.Tasks{dom.Focus().WithBackendNodeID(n.BackendNodeID), chromedp.KeyEvent(action.Text)}
	case browser.ActionPressKey:
		act = chromedp.Tasks{dom.Focus().WithBackendNodeID(n.BackendNodeID), chromedp.KeyEvent(keyFor(action.Key))}
	case browser.ActionScrollIntoView:
		act = dom.ScrollIntoViewIfNeeded().WithBackendNodeID(n.BackendNodeID)
	default:
		return fmt.Errorf("%w: %s", browser.ErrUnsupportedAction, action.Kind)
	}

	if err := s.RunActions(ctx, act); err != nil {
		return fmt.Errorf("%s action failed for node %s: %w", action.Kind, elementID, err)
	}
	return nil
}

func (s *Session) dispatchDocument(ctx context.Context, action browser.Action) error {
	var act chromedp.Action
	switch action.Kind {
	case browser.ActionPressKey:
		act = chromedp.KeyEvent(keyFor(action.Key))
	case browser.ActionScrollBy:
		act = chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d);", action.DeltaY), nil)
	default:
		return fmt.Errorf("%w: %s requires an element", browser.ErrUnsupportedAction, action.Kind)
	}
	if err := s.RunActions(ctx, act); err != nil {
		return fmt.Errorf("%s action failed: %w", action.Kind, err)
	}
	return nil
}

// CurrentURL implements browser.Document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// TakeSnapshot implements browser.Document with a viewport screenshot.
func (s *Session) TakeSnapshot(ctx context.Context) (browser.Snapshot, error) {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return browser.Snapshot{}, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return browser.Snapshot{Kind: browser.SnapshotImage, ContentType: "image/png", Data: buf}, nil
}

// OuterHTML implements browser.HTMLSource.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.RunActions(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read document html: %w", err)
	}
	return markup, nil
}

// Close implements browser.Session. It tears down the tab and the browser
// process.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.logger.Info("Browser session closed.")
	return nil
}

// callOnNode invokes fn with `this` bound to n and decodes the JSON result
// into res.
func callOnNode(ctx context.Context, n *cdp.Node, fn string, res any) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
	if err != nil {
		return browser.ClassifyDriverError(err)
	}
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	ret, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return browser.ClassifyDriverError(err)
	}
	if exc != nil {
		return fmt.Errorf("script raised an exception: %s", exc.Text)
	}
	if ret == nil || len(ret.Value) == 0 {
		return errors.New("script returned no value")
	}
	return json.Unmarshal([]byte(ret.Value), res)
}

var keyNames = map[string]string{
	browser.KeyEscape: kb.Escape,
	browser.KeyEnter:  kb.Enter,
	browser.KeyTab:    kb.Tab,
}

func keyFor(name string) string {
	if k, ok := keyNames[name]; ok {
		return k
	}
	return name
}

func isSyntaxError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"is not a valid selector", "is not a valid XPath expression", "SyntaxError"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
