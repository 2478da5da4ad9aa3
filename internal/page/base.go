// internal/page/base.go
// Package page is the composition point for page objects. A page type embeds
// *Base and declares its locators; the waiting, fallback and modal handling
// come from the embedded actions and dismisser.
package page

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/actions"
	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/modal"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

// Base binds actions and modal handling to one browser session.
type Base struct {
	*actions.Actions
	Modals *modal.Dismisser

	session browser.Session
	baseURL string
	logger  *zap.Logger
}

// NewBase composes a page base. modals may be nil to disable dismissal.
func NewBase(session browser.Session, acts *actions.Actions, modals *modal.Dismisser, baseURL string, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		Actions: acts,
		Modals:  modals,
		session: session,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("page"),
	}
}

// Session returns the underlying session.
func (b *Base) Session() browser.Session { return b.session }

// URL resolves target against the base URL. Absolute URLs pass through.
func (b *Base) URL(target string) string {
	if target == "" {
		return b.baseURL
	}
	if u, err := url.Parse(target); (err == nil && u.IsAbs()) || b.baseURL == "" {
		return target
	}
	return b.baseURL + "/" + strings.TrimLeft(target, "/")
}

// Open navigates to target, waits for ready to be visible (skipped when ready
// is the zero Locator) and then dismisses at most one modal. The dismissal is
// best-effort and reported, not returned as an error.
func (b *Base) Open(ctx context.Context, target string, ready locator.Locator) (modal.Result, error) {
	dest := b.URL(target)
	if err := b.session.Navigate(ctx, dest); err != nil {
		return modal.Result{}, fmt.Errorf("failed to open %s: %w", dest, err)
	}
	if !ready.IsZero() {
		if _, err := b.WaitForVisible(ctx, ready); err != nil {
			return modal.Result{}, fmt.Errorf("page %s never became ready: %w", dest, err)
		}
	}
	res := b.DismissModals(ctx)
	b.logger.Info("Page opened.", zap.String("url", dest), zap.Stringer("modal", res.Status))
	return res, nil
}

// DismissModals runs the configured dismisser once.
func (b *Base) DismissModals(ctx context.Context) modal.Result {
	if b.Modals == nil {
		return modal.Result{Status: modal.NoneFound}
	}
	return b.Modals.Dismiss(ctx)
}

// HandleModalIfPresent dismisses a specific modal by clicking closeButton if
// the modal becomes visible within timeout. It reports whether the modal was
// dismissed.
func (b *Base) HandleModalIfPresent(ctx context.Context, modalLoc, closeButton locator.Locator, spec poll.Spec) bool {
	rule := modal.Rule{Name: "inline", Locator: modalLoc, Action: modal.Click, DismissOverride: &closeButton}
	d := modal.New(b.Actions, []modal.Rule{rule}, modal.Specs{Scan: spec, Dismiss: spec, Verify: spec}, b.logger)
	return d.Dismiss(ctx).Status == modal.Dismissed
}

// Refresh reloads the current URL.
func (b *Base) Refresh(ctx context.Context) error {
	current, err := b.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if err := b.session.Navigate(ctx, current); err != nil {
		return fmt.Errorf("failed to refresh %s: %w", current, err)
	}
	return nil
}
