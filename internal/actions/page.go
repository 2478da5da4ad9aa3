// internal/actions/page.go
package actions

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

// ScrollDown scrolls the document times steps of px pixels. There is no pause
// between steps; the browser applies each scroll synchronously.
func (a *Actions) ScrollDown(ctx context.Context, times, px int) error {
	if px <= 0 {
		px = a.scrollPixels
	}
	for i := 0; i < times; i++ {
		if err := ctx.Err(); err != nil {
			return &Error{Op: "scroll_down", Err: fmt.Errorf("%w: %v", ErrInteractionAborted, err)}
		}
		if err := a.doc.Dispatch(ctx, "", browser.ScrollBy(px)); err != nil {
			return &Error{Op: "scroll_down", Err: fmt.Errorf("step %d of %d: %w", i+1, times, err)}
		}
	}
	a.logger.Debug("Scrolled document.", zap.Int("steps", times), zap.Int("pixels", px))
	return nil
}

// Text returns the text of the first element present for loc.
func (a *Actions) Text(ctx context.Context, loc locator.Locator, opts ...WaitOption) (string, error) {
	m, err := a.resolve(ctx, "text", loc, Present, a.specFor(opts))
	if err != nil {
		return "", err
	}
	return m.First().Text, nil
}

// IsVisible reports whether loc becomes visible within the wait. Running out
// of time is a false answer, not an error.
func (a *Actions) IsVisible(ctx context.Context, loc locator.Locator, opts ...WaitOption) (bool, error) {
	_, err := a.resolve(ctx, "is_visible", loc, Visible, a.specFor(opts))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrElementNotFound):
		return false, nil
	default:
		return false, err
	}
}

// IsPresent queries every link of loc's chain once, without waiting.
func (a *Actions) IsPresent(ctx context.Context, loc locator.Locator) (bool, error) {
	chain := loc.Chain()
	if err := loc.Validate(); err != nil {
		return false, &Error{Op: "is_present", Locators: chain, Err: fmt.Errorf("%w: %v", ErrInvalidLocator, err)}
	}
	for _, link := range chain {
		els, err := a.doc.Query(ctx, link)
		if errors.Is(err, browser.ErrStaleElement) {
			continue
		}
		if err != nil {
			return false, &Error{Op: "is_present", Locators: []locator.Locator{link}, Err: err}
		}
		if len(els) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ScrollIntoView waits for loc to be present and scrolls it into the viewport.
func (a *Actions) ScrollIntoView(ctx context.Context, loc locator.Locator, opts ...WaitOption) error {
	m, err := a.resolve(ctx, "scroll_into_view", loc, Present, a.specFor(opts))
	if err != nil {
		return err
	}
	if err := a.doc.Dispatch(ctx, m.First().ID, browser.ScrollIntoView()); err != nil {
		return &Error{Op: "scroll_into_view", Locators: []locator.Locator{m.Locator}, Err: err}
	}
	return nil
}

// PressKey sends a key to the document, e.g. browser.KeyEscape.
func (a *Actions) PressKey(ctx context.Context, key string) error {
	if err := a.doc.Dispatch(ctx, "", browser.PressKey(key)); err != nil {
		return &Error{Op: "press_key", Err: fmt.Errorf("key %q: %w", key, err)}
	}
	return nil
}

// CurrentURL returns the document's current URL.
func (a *Actions) CurrentURL(ctx context.Context) (string, error) {
	u, err := a.doc.CurrentURL(ctx)
	if err != nil {
		return "", &Error{Op: "current_url", Err: err}
	}
	return u, nil
}

// Title returns the text of the document's <title>, or "" when it has none.
// It does not wait.
func (a *Actions) Title(ctx context.Context) (string, error) {
	els, err := a.doc.Query(ctx, locator.ByTagName("title"))
	if err != nil {
		return "", &Error{Op: "title", Err: err}
	}
	if len(els) == 0 {
		return "", nil
	}
	return els[0].Text, nil
}
