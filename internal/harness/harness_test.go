// internal/harness/harness_test.go
package harness_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageharness/internal/browser/browsertest"
	"github.com/xkilldash9x/pageharness/internal/browser/htmldoc"
	"github.com/xkilldash9x/pageharness/internal/capture"
	"github.com/xkilldash9x/pageharness/internal/config"
	"github.com/xkilldash9x/pageharness/internal/harness"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/modal"
	"github.com/xkilldash9x/pageharness/internal/poll/polltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingTB lets a test observe what harness.New registers without failing
// the real test.
type recordingTB struct {
	testing.TB
	failed   bool
	cleanups []func()
}

func (r *recordingTB) Failed() bool      { return r.failed }
func (r *recordingTB) Cleanup(fn func()) { r.cleanups = append(r.cleanups, fn) }

func (r *recordingTB) finish() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetCaptureDir(t.TempDir())
	cfg.WaitCfg.Timeout = time.Second
	cfg.WaitCfg.PollInterval = 50 * time.Millisecond
	cfg.ModalCfg.ScanTimeout = 200 * time.Millisecond
	cfg.ModalCfg.ScanInterval = 50 * time.Millisecond
	cfg.ModalCfg.VerifyTimeout = 500 * time.Millisecond
	return cfg
}

func TestOpen_BrowserOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SetBrowserHeadless(true)
	cfg.SetBrowserDevice("Pixel 5")
	doc := browsertest.New(polltest.NewClock(), "about:blank")
	provider := &browsertest.Provider{Doc: doc}

	env, err := harness.Open(context.Background(), provider, cfg, harness.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer env.Close()

	require.Len(t, provider.Opts, 1)
	opts := provider.Opts[0]
	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.PageLoadTimeout)
	assert.Contains(t, opts.Args, "--disable-popup-blocking")
	require.NotNil(t, opts.Device)
	assert.Equal(t, int64(393), opts.Device.Width)
	assert.Equal(t, 2.75, opts.Device.PixelRatio)

	assert.NotNil(t, env.Modals)
	assert.NotNil(t, env.Capturer)
	assert.Same(t, env.Actions, env.Page.Actions)
}

func TestOpen_ProviderError(t *testing.T) {
	boom := errors.New("chrome not found")
	_, err := harness.Open(context.Background(), &browsertest.Provider{Err: boom}, testConfig(t))
	assert.ErrorIs(t, err, boom)
}

func TestAssemble_DisabledComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModalCfg.Enabled = false
	cfg.CaptureCfg.Enabled = false
	cfg.SetBrowserDevice("")

	assert.Nil(t, harness.BrowserOptions(cfg).Device)

	env := harness.Assemble(browsertest.New(polltest.NewClock(), ""), cfg)
	assert.Nil(t, env.Modals)
	assert.Nil(t, env.Capturer)
	assert.Equal(t, modal.NoneFound, env.Page.DismissModals(context.Background()).Status)
}

func TestNew_CapturesOnFailure(t *testing.T) {
	cfg := testConfig(t)
	doc := browsertest.New(polltest.NewClock(), "https://shop.test/")
	rec := &recordingTB{TB: t, failed: true}

	env := harness.New(rec, &browsertest.Provider{Doc: doc}, cfg, harness.WithRegistry(capture.NewRegistry()))
	require.NotNil(t, env)
	rec.finish()

	assert.True(t, doc.Closed())
	payload, err := os.ReadFile(filepath.Join(cfg.Capture().Dir, t.Name()+".png"))
	require.NoError(t, err)
	assert.Equal(t, doc.Snapshot.Data, payload)
	assert.FileExists(t, filepath.Join(cfg.Capture().Dir, t.Name()+".json"))
}

func TestNew_NoCaptureOnSuccess(t *testing.T) {
	cfg := testConfig(t)
	doc := browsertest.New(polltest.NewClock(), "https://shop.test/")
	rec := &recordingTB{TB: t}

	harness.New(rec, &browsertest.Provider{Doc: doc}, cfg)
	rec.finish()

	assert.True(t, doc.Closed())
	entries, err := os.ReadDir(cfg.Capture().Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

const storefront = `<!DOCTYPE html>
<html><body>
  <div id="consent" class="consent-wrap">
    <p>We value your privacy</p>
    <button id="accept" data-dismiss="consent-wrap">Accept</button>
  </div>
  <form action="/search">
    <input id="search" name="q" type="search">
    <a id="go" href="/search?q=shoes">Go</a>
  </form>
</body></html>`

const results = `<!DOCTYPE html>
<html><body><h1>Results for shoes</h1><ul><li class="result">Trail runner</li></ul></body></html>`

func TestEndToEnd_StaticSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.BrowserCfg.BaseURL = "https://shop.test"
	cfg.ModalCfg.Rules = map[string][]config.ModalRuleConfig{
		"default": {
			{Name: "age-gate", Locator: "id=age-gate"},
			{Name: "consent", Locator: "id=consent", Dismiss: "css=#consent #accept"},
		},
	}
	provider := &htmldoc.Provider{
		Pages: map[string]string{
			"https://shop.test/":               storefront,
			"https://shop.test/search?q=shoes": results,
		},
		Logger: zaptest.NewLogger(t),
	}

	env := harness.New(t, provider, cfg)
	ctx := context.Background()

	res, err := env.Page.Open(ctx, "/", locator.ByID("search"))
	require.NoError(t, err)
	require.Equal(t, modal.Dismissed, res.Status, "err: %v", res.Err)
	assert.Equal(t, "consent", res.Rule.Name)

	require.NoError(t, env.Actions.Type(ctx, locator.ByName("q"), "shoes"))
	require.NoError(t, env.Actions.Click(ctx, locator.ByLinkText("Go")))

	u, err := env.Actions.WaitForURLContains(ctx, "q=shoes")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/search?q=shoes", u)

	text, err := env.Actions.Text(ctx, locator.ByCSS("li.result"))
	require.NoError(t, err)
	assert.Equal(t, "Trail runner", text)

	require.NoError(t, env.Page.Refresh(ctx))
	present, err := env.Actions.IsPresent(ctx, locator.ByPartialLinkText("Results"))
	require.NoError(t, err)
	assert.False(t, present, "the heading is not a link")
}
