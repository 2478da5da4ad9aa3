// internal/page/base_test.go
package page_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageharness/internal/actions"
	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/browser/browsertest"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/modal"
	"github.com/xkilldash9x/pageharness/internal/page"
	"github.com/xkilldash9x/pageharness/internal/poll"
	"github.com/xkilldash9x/pageharness/internal/poll/polltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	consent   = locator.ByID("consent")
	accept    = locator.ByCSS("#consent .accept")
	searchBox = locator.ByName("q")
)

// searchPage is the shape page objects take: locators plus intent-level
// methods over the embedded base.
type searchPage struct {
	*page.Base
}

func (p searchPage) Search(ctx context.Context, query string) error {
	if err := p.Type(ctx, searchBox, query); err != nil {
		return err
	}
	return p.PressKey(ctx, browser.KeyEnter)
}

type fixture struct {
	clock *polltest.Clock
	doc   *browsertest.Document
	base  *page.Base
}

func setup(t *testing.T, withModals bool) *fixture {
	t.Helper()
	clock := polltest.NewClock()
	doc := browsertest.New(clock, "about:blank")
	logger := zaptest.NewLogger(t)
	acts := actions.New(doc, poll.New(logger, poll.WithClock(clock)),
		poll.Spec{Timeout: 2 * time.Second, Interval: 250 * time.Millisecond}, logger)

	var modals *modal.Dismisser
	if withModals {
		rules := []modal.Rule{{Name: "consent", Locator: consent, Action: modal.Click, DismissOverride: &accept}}
		modals = modal.New(acts, rules, modal.Specs{
			Scan:    poll.Spec{Timeout: 500 * time.Millisecond, Interval: 250 * time.Millisecond},
			Dismiss: poll.Spec{Timeout: time.Second, Interval: 250 * time.Millisecond},
			Verify:  poll.Spec{Timeout: time.Second, Interval: 250 * time.Millisecond},
		}, logger)
	}
	return &fixture{clock: clock, doc: doc, base: page.NewBase(doc, acts, modals, "https://shop.test/", logger)}
}

func TestBase_URL(t *testing.T) {
	f := setup(t, false)
	tests := []struct {
		target string
		want   string
	}{
		{"", "https://shop.test"},
		{"/cart", "https://shop.test/cart"},
		{"cart?step=2", "https://shop.test/cart?step=2"},
		{"https://other.test/login", "https://other.test/login"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, f.base.URL(tt.target))
		})
	}

	bare := page.NewBase(f.doc, f.base.Actions, nil, "", nil)
	assert.Equal(t, "/cart", bare.URL("/cart"))
}

func TestOpen_WaitsForReadyThenDismissesModal(t *testing.T) {
	f := setup(t, true)
	f.doc.Add(
		browsertest.Element{ID: "search", Matches: []locator.Locator{searchBox}, AppearAt: 400 * time.Millisecond},
		browsertest.Element{ID: "consent", Matches: []locator.Locator{consent}},
		browsertest.Element{ID: "accept", Matches: []locator.Locator{accept}, OnClick: func(d *browsertest.Document) {
			d.Hide("consent")
		}},
	)

	res, err := f.base.Open(context.Background(), "/cart", searchBox)
	require.NoError(t, err)
	assert.Equal(t, modal.Dismissed, res.Status)
	require.NotNil(t, res.Rule)
	assert.Equal(t, "consent", res.Rule.Name)

	u, err := f.base.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/cart", u)

	clicks := f.doc.Clicks("accept")
	require.Len(t, clicks, 1)
	assert.Equal(t, 500*time.Millisecond, clicks[0].At, "the modal is handled only after the page is ready")
}

func TestOpen_WithoutReadyLocator(t *testing.T) {
	f := setup(t, true)

	res, err := f.base.Open(context.Background(), "/", locator.Locator{})
	require.NoError(t, err)
	assert.Equal(t, modal.NoneFound, res.Status)
	assert.Equal(t, 500*time.Millisecond, f.clock.Elapsed(), "only the modal scan window is spent")
}

func TestOpen_NavigationFails(t *testing.T) {
	f := setup(t, true)
	boom := errors.New("net::ERR_NAME_NOT_RESOLVED")
	f.doc.NavigateErr = boom

	_, err := f.base.Open(context.Background(), "/", searchBox)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.doc.Queries())
}

func TestOpen_NeverReady(t *testing.T) {
	f := setup(t, true)
	f.doc.Add(browsertest.Element{ID: "consent", Matches: []locator.Locator{consent}})

	_, err := f.base.Open(context.Background(), "/", searchBox)
	assert.ErrorIs(t, err, actions.ErrElementNotFound)
	assert.Empty(t, f.doc.Dispatches(), "no dismissal on a page that never loaded")
}

func TestDismissModals_Disabled(t *testing.T) {
	f := setup(t, false)
	f.doc.Add(browsertest.Element{ID: "consent", Matches: []locator.Locator{consent}})

	assert.Equal(t, modal.NoneFound, f.base.DismissModals(context.Background()).Status)
	assert.Empty(t, f.doc.Queries())
}

func TestHandleModalIfPresent(t *testing.T) {
	spec := poll.Spec{Timeout: 500 * time.Millisecond, Interval: 100 * time.Millisecond}
	promo := locator.ByClassName("promo")
	closeBtn := locator.ByCSS(".promo button.close")

	t.Run("present", func(t *testing.T) {
		f := setup(t, false)
		f.doc.Add(
			browsertest.Element{ID: "promo", Matches: []locator.Locator{promo}, AppearAt: 200 * time.Millisecond},
			browsertest.Element{ID: "close", Matches: []locator.Locator{closeBtn}, OnClick: func(d *browsertest.Document) {
				d.Remove("promo")
			}},
		)
		assert.True(t, f.base.HandleModalIfPresent(context.Background(), promo, closeBtn, spec))
		assert.Len(t, f.doc.Clicks("close"), 1)
	})

	t.Run("absent", func(t *testing.T) {
		f := setup(t, false)
		assert.False(t, f.base.HandleModalIfPresent(context.Background(), promo, closeBtn, spec))
		assert.Equal(t, spec.Timeout, f.clock.Elapsed())
	})
}

func TestRefresh(t *testing.T) {
	f := setup(t, false)
	f.doc.SetURL("https://shop.test/cart")
	require.NoError(t, f.base.Refresh(context.Background()))

	boom := errors.New("reset by peer")
	f.doc.NavigateErr = boom
	err := f.base.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "https://shop.test/cart")
}

func TestPageObjectComposition(t *testing.T) {
	f := setup(t, false)
	f.doc.Add(browsertest.Element{ID: "q", Tag: "input", Matches: []locator.Locator{searchBox}, Value: "old"})
	var submitted bool
	f.doc.OnKey(browser.KeyEnter, func(*browsertest.Document) { submitted = true })

	p := searchPage{Base: f.base}
	require.NoError(t, p.Search(context.Background(), "trail shoes"))
	assert.Equal(t, "trail shoes", f.doc.Value("q"))
	assert.True(t, submitted)
	assert.Same(t, f.doc, p.Session())
}
