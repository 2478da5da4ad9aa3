// internal/actions/actions.go
// Package actions implements element-level operations (find, click, type,
// waits, scrolling) on top of the poller. Every wait walks the locator's
// fallback chain in order, giving each link its own full timeout window.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

// DefaultScrollPixels is the per-step delta ScrollDown uses when none is given.
const DefaultScrollPixels = 800

// PredicateKind names the condition a wait polls for.
type PredicateKind int

const (
	Present PredicateKind = iota + 1
	Visible
	Clickable
	Invisible
	URLContains
	Custom
)

func (k PredicateKind) String() string {
	switch k {
	case Present:
		return "present"
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	case Invisible:
		return "invisible"
	case URLContains:
		return "url_contains"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// filter returns the elements satisfying an element-level predicate.
func (k PredicateKind) filter(els []browser.Element) []browser.Element {
	if k == Present {
		return els
	}
	var out []browser.Element
	for _, el := range els {
		switch {
		case k == Visible && el.Visible:
			out = append(out, el)
		case k == Clickable && el.Visible && el.Enabled:
			out = append(out, el)
		}
	}
	return out
}

// Match is a satisfied element wait.
type Match struct {
	// Locator is the chain link that matched.
	Locator locator.Locator
	// FallbackIndex is 0 for the primary and i for the i-th fallback.
	FallbackIndex int
	Elements      []browser.Element
}

// First returns the first matching element.
func (m Match) First() browser.Element {
	if len(m.Elements) == 0 {
		return browser.Element{}
	}
	return m.Elements[0]
}

// WaitOption adjusts the wait spec of a single call.
type WaitOption func(*poll.Spec)

// WithTimeout overrides the per-locator timeout. The poll interval is clamped
// so the spec stays valid.
func WithTimeout(d time.Duration) WaitOption {
	return func(s *poll.Spec) { *s = s.WithTimeout(d) }
}

// WithPollInterval overrides the poll interval.
func WithPollInterval(d time.Duration) WaitOption {
	return func(s *poll.Spec) { s.Interval = d }
}

// WithSpec replaces the spec entirely.
func WithSpec(spec poll.Spec) WaitOption {
	return func(s *poll.Spec) { *s = spec }
}

// Actions performs synchronized interactions against one document. It is not
// safe for concurrent use; a document is driven by one caller at a time.
type Actions struct {
	doc          browser.Document
	poller       *poll.Poller
	spec         poll.Spec
	scrollPixels int
	logger       *zap.Logger
}

// Option configures Actions.
type Option func(*Actions)

// WithScrollPixels sets the default ScrollDown delta.
func WithScrollPixels(px int) Option {
	return func(a *Actions) {
		if px > 0 {
			a.scrollPixels = px
		}
	}
}

// New binds Actions to doc. spec is the default wait applied to every call.
func New(doc browser.Document, poller *poll.Poller, spec poll.Spec, logger *zap.Logger, opts ...Option) *Actions {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poller == nil {
		poller = poll.New(logger)
	}
	a := &Actions{
		doc:          doc,
		poller:       poller,
		spec:         spec,
		scrollPixels: DefaultScrollPixels,
		logger:       logger.Named("actions"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Document returns the underlying document.
func (a *Actions) Document() browser.Document { return a.doc }

// Spec returns the default wait spec.
func (a *Actions) Spec() poll.Spec { return a.spec }

func (a *Actions) specFor(opts []WaitOption) poll.Spec {
	spec := a.spec
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// budget is the operation-wide deadline: one full window per chain link.
func (a *Actions) budget(spec poll.Spec, chain []locator.Locator) time.Time {
	return a.poller.Clock().Now().Add(spec.Timeout * time.Duration(len(chain)))
}

// resolve waits for kind on each link of loc's chain in order. A link that
// times out hands over to the next; a permanent error or cancellation ends the
// walk immediately.
func (a *Actions) resolve(ctx context.Context, op string, loc locator.Locator, kind PredicateKind, spec poll.Spec) (Match, error) {
	return a.resolveBefore(ctx, op, loc, kind, spec, time.Time{})
}

// resolveBefore is resolve with an absolute deadline. Each link's window is
// cut to what is left before deadline, and the walk stops once it has passed.
// A zero deadline leaves every link its full window.
func (a *Actions) resolveBefore(ctx context.Context, op string, loc locator.Locator, kind PredicateKind, spec poll.Spec, deadline time.Time) (Match, error) {
	chain := loc.Chain()
	if err := loc.Validate(); err != nil {
		return Match{}, &Error{Op: op, Locators: chain, Err: fmt.Errorf("%w: %v", ErrInvalidLocator, err)}
	}

	var lastErr error
	for i, link := range chain {
		linkSpec := spec
		if !deadline.IsZero() {
			remaining := deadline.Sub(a.poller.Clock().Now())
			if remaining <= 0 {
				break
			}
			if remaining < linkSpec.Timeout {
				linkSpec = spec.WithTimeout(remaining)
			}
		}

		out, err := poll.Until(ctx, a.poller, linkSpec, func(ctx context.Context) poll.Attempt[[]browser.Element] {
			els, err := a.doc.Query(ctx, link)
			if err != nil {
				return poll.Fail[[]browser.Element](err)
			}
			if matched := kind.filter(els); len(matched) > 0 {
				return poll.Success(matched)
			}
			return poll.NotYet[[]browser.Element]()
		})
		if err != nil {
			return Match{}, &Error{Op: op, Locators: chain[:i+1], Err: err}
		}

		switch out.Status {
		case poll.Satisfied:
			if i > 0 {
				a.logger.Info("Resolved element through fallback locator.",
					zap.String("op", op),
					zap.Stringer("primary", chain[0]),
					zap.Stringer("fallback", link),
					zap.Int("fallback_index", i))
			}
			return Match{Locator: link, FallbackIndex: i, Elements: out.Value}, nil
		case poll.Cancelled:
			return Match{}, &Error{Op: op, Locators: chain[:i+1], Err: fmt.Errorf("%w: %v", ErrInteractionAborted, out.LastErr)}
		}

		lastErr = out.LastErr
		a.logger.Debug("Locator timed out.",
			zap.String("op", op),
			zap.Stringer("locator", link),
			zap.Stringer("condition", kind),
			zap.Duration("timeout", linkSpec.Timeout),
			zap.Int("attempts", out.Attempts),
			zap.Bool("has_next", i < len(chain)-1))
	}

	err := ErrElementNotFound
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", ErrElementNotFound, lastErr)
	}
	return Match{}, &Error{Op: op, Locators: chain, Err: err}
}

// Find waits for any element matching loc (or one of its fallbacks) to be
// present and returns the matches of the first link that resolved.
func (a *Actions) Find(ctx context.Context, loc locator.Locator, opts ...WaitOption) (Match, error) {
	return a.resolve(ctx, "find", loc, Present, a.specFor(opts))
}

// FindAll is Find returning only the matched elements.
func (a *Actions) FindAll(ctx context.Context, loc locator.Locator, opts ...WaitOption) ([]browser.Element, error) {
	m, err := a.resolve(ctx, "find_all", loc, Present, a.specFor(opts))
	if err != nil {
		return nil, err
	}
	return m.Elements, nil
}

// WaitForVisible waits until an element matching loc is displayed.
func (a *Actions) WaitForVisible(ctx context.Context, loc locator.Locator, opts ...WaitOption) (Match, error) {
	return a.resolve(ctx, "wait_for_visible", loc, Visible, a.specFor(opts))
}

// WaitForClickable waits until an element matching loc is displayed and
// enabled.
func (a *Actions) WaitForClickable(ctx context.Context, loc locator.Locator, opts ...WaitOption) (Match, error) {
	return a.resolve(ctx, "wait_for_clickable", loc, Clickable, a.specFor(opts))
}

// Click waits for loc to be clickable and clicks the first match. If the
// element goes stale between the wait and the click, the wait is re-entered
// once, bounded by what is left of the operation's original budget.
func (a *Actions) Click(ctx context.Context, loc locator.Locator, opts ...WaitOption) error {
	return a.interact(ctx, "click", loc, a.specFor(opts), func(ctx context.Context, el browser.Element) error {
		return a.doc.Dispatch(ctx, el.ID, browser.Click())
	})
}

// Type waits for loc to be clickable, clears it, and sends text. Staleness is
// handled as in Click.
func (a *Actions) Type(ctx context.Context, loc locator.Locator, text string, opts ...WaitOption) error {
	return a.interact(ctx, "type", loc, a.specFor(opts), func(ctx context.Context, el browser.Element) error {
		if err := a.doc.Dispatch(ctx, el.ID, browser.Clear()); err != nil {
			return err
		}
		return a.doc.Dispatch(ctx, el.ID, browser.SendKeys(text))
	})
}

func (a *Actions) interact(ctx context.Context, op string, loc locator.Locator, spec poll.Spec, do func(context.Context, browser.Element) error) error {
	clock := a.poller.Clock()
	deadline := a.budget(spec, loc.Chain())

	// The first walk gives every link its full window. A re-entry walks the
	// chain again inside whatever is left of deadline.
	var within time.Time
	for reentered := false; ; reentered = true {
		m, err := a.resolveBefore(ctx, op, loc, Clickable, spec, within)
		if err != nil {
			return err
		}

		err = do(ctx, m.First())
		if err == nil {
			a.logger.Debug("Interaction dispatched.", zap.String("op", op), zap.Stringer("locator", m.Locator))
			return nil
		}
		if ctx.Err() != nil {
			return &Error{Op: op, Locators: []locator.Locator{m.Locator}, Err: fmt.Errorf("%w: %v", ErrInteractionAborted, ctx.Err())}
		}
		if !errors.Is(err, browser.ErrStaleElement) || reentered {
			return &Error{Op: op, Locators: []locator.Locator{m.Locator}, Err: err}
		}

		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return &Error{Op: op, Locators: loc.Chain(), Err: fmt.Errorf("%w: %w", ErrElementNotFound, err)}
		}
		within = deadline
		a.logger.Debug("Element went stale before dispatch; re-entering wait.",
			zap.String("op", op),
			zap.Stringer("locator", m.Locator),
			zap.Duration("remaining", remaining))
	}
}

// WaitForInvisible waits until no link of loc's chain has a visible match.
// Unlike the element waits, the links are checked together on every poll:
// fallbacks are other renderings of the same element, so it is only gone when
// none of them shows. Absent and detached elements count as invisible.
func (a *Actions) WaitForInvisible(ctx context.Context, loc locator.Locator, opts ...WaitOption) error {
	const op = "wait_for_invisible"
	chain := loc.Chain()
	if err := loc.Validate(); err != nil {
		return &Error{Op: op, Locators: chain, Err: fmt.Errorf("%w: %v", ErrInvalidLocator, err)}
	}

	out, err := poll.Until(ctx, a.poller, a.specFor(opts), func(ctx context.Context) poll.Attempt[struct{}] {
		for _, link := range chain {
			els, err := a.doc.Query(ctx, link)
			if errors.Is(err, browser.ErrStaleElement) {
				continue
			}
			if err != nil {
				return poll.Fail[struct{}](err)
			}
			if len(Visible.filter(els)) > 0 {
				return poll.NotYet[struct{}]()
			}
		}
		return poll.Success(struct{}{})
	})
	return a.conditionResult(op, chain, out.Status, out.LastErr, err)
}

// WaitForURLContains waits until the current URL contains substr.
func (a *Actions) WaitForURLContains(ctx context.Context, substr string, opts ...WaitOption) (string, error) {
	const op = "wait_for_url_contains"
	out, err := poll.Until(ctx, a.poller, a.specFor(opts), func(ctx context.Context) poll.Attempt[string] {
		u, err := a.doc.CurrentURL(ctx)
		if err != nil {
			return poll.Fail[string](err)
		}
		if strings.Contains(u, substr) {
			return poll.Success(u)
		}
		return poll.NotYet[string]()
	})
	if rerr := a.conditionResult(op, nil, out.Status, out.LastErr, err); rerr != nil {
		return "", fmt.Errorf("%w (want substring %q)", rerr, substr)
	}
	return out.Value, nil
}

// CustomPredicate is a caller-supplied condition evaluated once per poll.
// Errors marked with poll.MarkTransient are retried; others abort.
type CustomPredicate func(ctx context.Context, doc browser.Document) (bool, error)

// WaitFor polls a custom predicate.
func (a *Actions) WaitFor(ctx context.Context, pred CustomPredicate, opts ...WaitOption) error {
	const op = "wait_for"
	out, err := poll.Until(ctx, a.poller, a.specFor(opts), func(ctx context.Context) poll.Attempt[struct{}] {
		ok, err := pred(ctx, a.doc)
		switch {
		case err != nil:
			return poll.Fail[struct{}](err)
		case ok:
			return poll.Success(struct{}{})
		default:
			return poll.NotYet[struct{}]()
		}
	})
	return a.conditionResult(op, nil, out.Status, out.LastErr, err)
}

func (a *Actions) conditionResult(op string, chain []locator.Locator, status poll.Status, lastErr, err error) error {
	if err != nil {
		return &Error{Op: op, Locators: chain, Err: err}
	}
	switch status {
	case poll.Satisfied:
		return nil
	case poll.Cancelled:
		return &Error{Op: op, Locators: chain, Err: fmt.Errorf("%w: %v", ErrInteractionAborted, lastErr)}
	default:
		return &Error{Op: op, Locators: chain, Err: ErrConditionNotMet}
	}
}
