// internal/browser/htmldoc/document.go
// Package htmldoc implements browser.Document over a parsed HTML tree, without
// a rendering engine. CSS-style locators are evaluated with cascadia, XPath
// style locators with htmlquery. Visibility is derived from markup only: the
// hidden attribute, inline display/visibility styles, and non-rendered tags.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

// ClickHandler reacts to a click on a matched node.
type ClickHandler func(d *Document, n *html.Node)

type clickBinding struct {
	loc locator.Locator
	fn  ClickHandler
}

// Document is a static, mutable HTML page.
type Document struct {
	mu      sync.Mutex
	logger  *zap.Logger
	url     string
	root    *html.Node
	ids     map[*html.Node]string
	nodes   map[string]*html.Node
	nextID  int
	scrollY int
	clicks  []clickBinding
	keys    map[string]func(d *Document)
	// navigate is invoked when a link is followed. Nil means links only
	// update the URL.
	navigate func(ctx context.Context, href string) error
}

var _ browser.Document = (*Document)(nil)
var _ browser.HTMLSource = (*Document)(nil)

// Parse builds a Document from markup served at url.
func Parse(url, markup string, logger *zap.Logger) (*Document, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Document{logger: logger.Named("htmldoc"), keys: make(map[string]func(d *Document))}
	if err := d.load(url, markup); err != nil {
		return nil, err
	}
	return d, nil
}

// load replaces the tree. Handles issued for the previous tree become stale.
func (d *Document) load(url, markup string) error {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse html for %s: %w", url, err)
	}
	d.url = url
	d.root = root
	d.ids = make(map[*html.Node]string)
	d.nodes = make(map[string]*html.Node)
	d.scrollY = 0
	return nil
}

// OnClick registers fn to run when an element matching loc is clicked.
func (d *Document) OnClick(loc locator.Locator, fn ClickHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, clickBinding{loc: loc.Primary(), fn: fn})
}

// OnKey registers fn for a document-level key press.
func (d *Document) OnKey(key string, fn func(d *Document)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = fn
}

// Mutate runs fn against the live tree under the document lock.
func (d *Document) Mutate(fn func(root *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Query implements browser.Document.
func (d *Document) Query(ctx context.Context, loc locator.Locator) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	nodes, err := d.match(loc)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.describe(n))
	}
	return out, nil
}

func (d *Document) match(loc locator.Locator) ([]*html.Node, error) {
	q, err := browser.CompileQuery(loc)
	if err != nil {
		return nil, err
	}
	switch q.Lang {
	case browser.LangCSS:
		sel, err := cascadia.Compile(q.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: css %q: %v", browser.ErrInvalidLocator, q.Expression, err)
		}
		return goquery.NewDocumentFromNode(d.root).FindMatcher(sel).Nodes, nil
	case browser.LangXPath:
		nodes, err := htmlquery.QueryAll(d.root, q.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: xpath %q: %v", browser.ErrInvalidLocator, q.Expression, err)
		}
		elems := nodes[:0]
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				elems = append(elems, n)
			}
		}
		return elems, nil
	default:
		return nil, fmt.Errorf("%w: unknown query language", browser.ErrInvalidLocator)
	}
}

func (d *Document) handle(n *html.Node) string {
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.nextID++
	id := fmt.Sprintf("node-%d", d.nextID)
	d.ids[n] = id
	d.nodes[id] = n
	return id
}

func (d *Document) describe(n *html.Node) browser.Element {
	return browser.Element{
		ID:      d.handle(n),
		Tag:     n.Data,
		Text:    strings.Join(strings.Fields(goquery.NewDocumentFromNode(n).Text()), " "),
		Visible: isVisible(n),
		Enabled: !hasAttr(n, "disabled"),
	}
}

// resolve returns the node for a handle, or ErrStaleElement if the node has
// been detached or belongs to a previous page.
func (d *Document) resolve(id string) (*html.Node, error) {
	n, ok := d.nodes[id]
	if !ok {
		return nil, browser.ErrStaleElement
	}
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	if top != d.root {
		return nil, browser.ErrStaleElement
	}
	return n, nil
}

// Dispatch implements browser.Document.
func (d *Document) Dispatch(ctx context.Context, elementID string, action browser.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if elementID == "" {
		var hook func(*Document)
		err := d.dispatchDocumentLocked(action, &hook)
		d.mu.Unlock()
		if hook != nil {
			hook(d)
		}
		return err
	}

	n, err := d.resolve(elementID)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	switch action.Kind {
	case browser.ActionClick:
		return d.clickLocked(ctx, n)
	case browser.ActionClear:
		defer d.mu.Unlock()
		if hasAttr(n, "disabled") || hasAttr(n, "readonly") {
			return browser.ErrNotInteractable
		}
		setValue(n, "")
		return nil
	case browser.ActionSendKeys:
		defer d.mu.Unlock()
		if hasAttr(n, "disabled") || hasAttr(n, "readonly") {
			return browser.ErrNotInteractable
		}
		setValue(n, value(n)+action.Text)
		return nil
	case browser.ActionScrollIntoView, browser.ActionPressKey:
		d.mu.Unlock()
		return nil
	default:
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrUnsupportedAction, action.Kind)
	}
}

func (d *Document) dispatchDocumentLocked(action browser.Action, hook *func(*Document)) error {
	switch action.Kind {
	case browser.ActionPressKey:
		*hook = d.keys[action.Key]
		return nil
	case browser.ActionScrollBy:
		d.scrollY += action.DeltaY
		if d.scrollY < 0 {
			d.scrollY = 0
		}
		return nil
	default:
		return fmt.Errorf("%w: %s requires an element", browser.ErrUnsupportedAction, action.Kind)
	}
}

// clickLocked is entered with d.mu held and releases it.
func (d *Document) clickLocked(ctx context.Context, n *html.Node) error {
	if !isVisible(n) || hasAttr(n, "disabled") {
		d.mu.Unlock()
		return browser.ErrNotInteractable
	}

	if target := getAttr(n, "data-dismiss"); target != "" {
		if container := closestWithClass(n, target); container != nil {
			hide(container)
		}
	}

	var handlers []ClickHandler
	for _, b := range d.clicks {
		nodes, err := d.match(b.loc)
		if err != nil {
			continue
		}
		for _, m := range nodes {
			if m == n {
				handlers = append(handlers, b.fn)
				break
			}
		}
	}

	href := ""
	if n.Data == "a" {
		href = getAttr(n, "href")
	}
	nav := d.navigate
	d.mu.Unlock()

	for _, h := range handlers {
		h(d, n)
	}

	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return nil
	}
	d.logger.Debug("Following link.", zap.String("href", href))
	if nav != nil {
		return nav(ctx, href)
	}
	d.mu.Lock()
	d.url = href
	d.mu.Unlock()
	return nil
}

// CurrentURL implements browser.Document.
func (d *Document) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// TakeSnapshot implements browser.Document. Without a renderer the snapshot
// is the serialized DOM.
func (d *Document) TakeSnapshot(ctx context.Context) (browser.Snapshot, error) {
	markup, err := d.OuterHTML(ctx)
	if err != nil {
		return browser.Snapshot{}, err
	}
	return browser.Snapshot{
		Kind:        browser.SnapshotHTML,
		ContentType: "text/html; charset=utf-8",
		Data:        []byte(markup),
	}, nil
}

// OuterHTML implements browser.HTMLSource.
func (d *Document) OuterHTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return buf.String(), nil
}

// ScrollY returns the tracked vertical scroll offset.
func (d *Document) ScrollY() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY
}

// Value returns the current value of the element behind a handle.
func (d *Document) Value(elementID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(elementID)
	if err != nil {
		return "", err
	}
	return value(n), nil
}
