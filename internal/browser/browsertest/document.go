// internal/browser/browsertest/document.go
// Package browsertest provides a scriptable in-memory browser.Session whose
// elements appear, change, and vanish on a schedule measured against a clock,
// normally a polltest.Clock.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

// Clock is the part of poll.Clock the fake document reads.
type Clock interface {
	Now() time.Time
}

// Element scripts one node. Times are offsets from the document's creation.
type Element struct {
	ID string
	// Matches lists every locator that resolves to this element.
	Matches []locator.Locator
	Tag     string
	Text    string
	Value   string

	AppearAt  time.Duration
	VisibleAt time.Duration // defaults to AppearAt
	EnabledAt time.Duration // defaults to AppearAt
	VanishAt  time.Duration // zero means never
	Hidden    bool
	Disabled  bool

	// StaleDispatches makes the next n dispatches against this element fail
	// with browser.ErrStaleElement.
	StaleDispatches int
	// DetachOnStale removes the element from the document when one of its
	// stale dispatches fires, as a re-rendering framework would.
	DetachOnStale bool
	// OnClick runs after a successful click.
	OnClick func(d *Document)
}

// Dispatched records one call to Dispatch.
type Dispatched struct {
	At        time.Duration
	ElementID string
	Action    browser.Action
	Err       error
}

// Document is a fake browser.Session.
type Document struct {
	mu       sync.Mutex
	clock    Clock
	start    time.Time
	id       string
	url      string
	elements map[string]*Element
	order    []string
	removed  map[string]bool
	invalid  []locator.Locator
	keys     map[string]func(d *Document)
	log      []Dispatched
	queries  []locator.Locator
	scrollY  int
	closed   bool

	SnapshotErr error
	Snapshot    browser.Snapshot
	HTML        string
	HTMLErr     error
	NavigateErr error
}

var _ browser.Session = (*Document)(nil)
var _ browser.HTMLSource = (*Document)(nil)

// New creates an empty document at url, timed by clock.
func New(clock Clock, url string) *Document {
	return &Document{
		clock:    clock,
		start:    clock.Now(),
		id:       "fake-session",
		url:      url,
		elements: make(map[string]*Element),
		removed:  make(map[string]bool),
		keys:     make(map[string]func(d *Document)),
		Snapshot: browser.Snapshot{Kind: browser.SnapshotImage, ContentType: "image/png", Data: []byte("\x89PNG fake")},
	}
}

// Add registers elements. An element without an ID gets one.
func (d *Document) Add(els ...Element) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range els {
		el := els[i]
		if el.ID == "" {
			el.ID = fmt.Sprintf("el-%d", len(d.order)+1)
		}
		if el.Tag == "" {
			el.Tag = "div"
		}
		d.elements[el.ID] = &el
		d.order = append(d.order, el.ID)
		delete(d.removed, el.ID)
	}
	return d
}

// Remove detaches an element immediately.
func (d *Document) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed[id] = true
}

// Hide marks an element as not displayed.
func (d *Document) Hide(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[id]; ok {
		el.Hidden = true
	}
}

// Reject makes any query for loc fail with browser.ErrInvalidLocator.
func (d *Document) Reject(loc locator.Locator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalid = append(d.invalid, loc.Primary())
}

// OnKey registers a handler for a document-level key press.
func (d *Document) OnKey(key string, fn func(d *Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = fn
}

// SetURL changes the current URL without recording a navigation.
func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *Document) elapsed() time.Duration { return d.clock.Now().Sub(d.start) }

func (d *Document) present(el *Element, at time.Duration) bool {
	if d.removed[el.ID] || at < el.AppearAt {
		return false
	}
	return el.VanishAt == 0 || at < el.VanishAt
}

func (d *Document) snapshot(el *Element, at time.Duration) browser.Element {
	visibleAt := el.VisibleAt
	if visibleAt < el.AppearAt {
		visibleAt = el.AppearAt
	}
	enabledAt := el.EnabledAt
	if enabledAt < el.AppearAt {
		enabledAt = el.AppearAt
	}
	return browser.Element{
		ID:      el.ID,
		Tag:     el.Tag,
		Text:    el.Text,
		Visible: !el.Hidden && at >= visibleAt,
		Enabled: !el.Disabled && at >= enabledAt,
	}
}

// Query implements browser.Document.
func (d *Document) Query(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, browser.ErrSessionClosed
	}
	primary := loc.Primary()
	d.queries = append(d.queries, primary)
	if err := primary.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrInvalidLocator, err)
	}
	for _, bad := range d.invalid {
		if bad.Equal(primary) {
			return nil, fmt.Errorf("%w: %s", browser.ErrInvalidLocator, primary)
		}
	}

	at := d.elapsed()
	var out []browser.Element
	for _, id := range d.order {
		el := d.elements[id]
		if !d.present(el, at) {
			continue
		}
		for _, m := range el.Matches {
			if m.Primary().Equal(primary) {
				out = append(out, d.snapshot(el, at))
				break
			}
		}
	}
	return out, nil
}

// Dispatch implements browser.Document.
func (d *Document) Dispatch(ctx context.Context, elementID string, action browser.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	err := d.dispatchLocked(elementID, action)
	d.log = append(d.log, Dispatched{At: d.elapsed(), ElementID: elementID, Action: action, Err: err})

	var hook func(*Document)
	if err == nil {
		switch {
		case elementID != "" && action.Kind == browser.ActionClick:
			hook = d.elements[elementID].OnClick
		case elementID == "" && action.Kind == browser.ActionPressKey:
			hook = d.keys[action.Key]
		}
	}
	d.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	return err
}

func (d *Document) dispatchLocked(elementID string, action browser.Action) error {
	if d.closed {
		return browser.ErrSessionClosed
	}
	if elementID == "" {
		switch action.Kind {
		case browser.ActionPressKey:
			return nil
		case browser.ActionScrollBy:
			d.scrollY += action.DeltaY
			return nil
		default:
			return fmt.Errorf("%w: %s requires an element", browser.ErrUnsupportedAction, action.Kind)
		}
	}

	el, ok := d.elements[elementID]
	if !ok || !d.present(el, d.elapsed()) {
		return browser.ErrStaleElement
	}
	if el.StaleDispatches > 0 {
		el.StaleDispatches--
		if el.DetachOnStale {
			d.removed[el.ID] = true
		}
		return browser.ErrStaleElement
	}
	state := d.snapshot(el, d.elapsed())

	switch action.Kind {
	case browser.ActionClick:
		if !state.Visible || !state.Enabled {
			return browser.ErrNotInteractable
		}
	case browser.ActionClear:
		el.Value = ""
	case browser.ActionSendKeys:
		el.Value += action.Text
	case browser.ActionScrollIntoView, browser.ActionPressKey:
	default:
		return fmt.Errorf("%w: %s", browser.ErrUnsupportedAction, action.Kind)
	}
	return nil
}

// CurrentURL implements browser.Document.
func (d *Document) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", browser.ErrSessionClosed
	}
	return d.url, nil
}

// TakeSnapshot implements browser.Document.
func (d *Document) TakeSnapshot(ctx context.Context) (browser.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SnapshotErr != nil {
		return browser.Snapshot{}, d.SnapshotErr
	}
	return d.Snapshot, nil
}

// OuterHTML implements browser.HTMLSource.
func (d *Document) OuterHTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.HTMLErr != nil {
		return "", d.HTMLErr
	}
	if d.HTML == "" {
		return "", errors.New("no html scripted")
	}
	return d.HTML, nil
}

// ID implements browser.Session.
func (d *Document) ID() string { return d.id }

// Navigate implements browser.Session.
func (d *Document) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	d.url = url
	return nil
}

// Close implements browser.Session.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Value returns the scripted value of an input element.
func (d *Document) Value(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[id]; ok {
		return el.Value
	}
	return ""
}

// ScrollY returns the accumulated vertical scroll offset.
func (d *Document) ScrollY() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY
}

// Dispatches returns every recorded dispatch.
func (d *Document) Dispatches() []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dispatched(nil), d.log...)
}

// Clicks returns the successful clicks on an element.
func (d *Document) Clicks(id string) []Dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Dispatched
	for _, rec := range d.log {
		if rec.ElementID == id && rec.Action.Kind == browser.ActionClick && rec.Err == nil {
			out = append(out, rec)
		}
	}
	return out
}

// Queries returns every locator queried, in order.
func (d *Document) Queries() []locator.Locator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]locator.Locator(nil), d.queries...)
}

// Provider hands out a prepared Document as a session.
type Provider struct {
	Doc  *Document
	Err  error
	Opts []browser.Options
}

// NewSession implements browser.Provider.
func (p *Provider) NewSession(ctx context.Context, opts browser.Options) (browser.Session, error) {
	p.Opts = append(p.Opts, opts)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Doc, nil
}
