// internal/browser/cdp/session_test.go
package cdp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubSession builds a Session whose chromedp actions are intercepted, so no
// browser is needed.
func stubSession(t *testing.T, run func(ctx context.Context, actions ...chromedp.Action) error) (*Session, *int) {
	t.Helper()
	calls := 0
	s := newSession("test-session", context.Background(), func() {}, zaptest.NewLogger(t), 0)
	s.runActionsFunc = func(ctx context.Context, actions ...chromedp.Action) error {
		calls++
		if run == nil {
			return nil
		}
		return run(ctx, actions...)
	}
	return s, &calls
}

func TestExecOptions(t *testing.T) {
	base := len(execOptions(browser.Options{}))

	withArgs := execOptions(browser.Options{
		Headless: true,
		Args:     []string{"--disable-notifications", "lang=en-US", "  ", "--window-size=375,812"},
	})
	// headless swaps one option for another; three usable args are appended.
	assert.Equal(t, base+3, len(withArgs))

	withDevice := execOptions(browser.Options{Device: &browser.DeviceProfile{Width: 390, Height: 844, UserAgent: "ua"}})
	assert.Equal(t, base+2, len(withDevice))
}

func TestEmulationTasks(t *testing.T) {
	assert.Nil(t, emulationTasks(nil))
	assert.Len(t, emulationTasks(&browser.DeviceProfile{Width: 393, Height: 851, PixelRatio: 2.75, UserAgent: "Pixel", Mobile: true}), 3)
	assert.Len(t, emulationTasks(&browser.DeviceProfile{UserAgent: "desktop"}), 1)
}

func TestCombineContext(t *testing.T) {
	t.Run("operation cancel propagates", func(t *testing.T) {
		sessionCtx := context.WithValue(context.Background(), struct{}{}, "target")
		opCtx, opCancel := context.WithCancel(context.Background())
		combined, cancel := combineContext(sessionCtx, opCtx)
		defer cancel()

		assert.Equal(t, "target", combined.Value(struct{}{}))
		opCancel()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not cancelled by the operation context")
		}
	})

	t.Run("session cancel propagates", func(t *testing.T) {
		sessionCtx, sessionCancel := context.WithCancel(context.Background())
		combined, cancel := combineContext(sessionCtx, context.Background())
		defer cancel()
		sessionCancel()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestSession_QueryRejectsInvalidLocatorWithoutDriver(t *testing.T) {
	s, calls := stubSession(t, nil)
	_, err := s.Query(context.Background(), locator.ByClassName("two classes"))
	assert.ErrorIs(t, err, browser.ErrInvalidLocator)
	assert.Zero(t, *calls)
}

func TestSession_QueryMapsSyntaxErrors(t *testing.T) {
	s, _ := stubSession(t, func(context.Context, ...chromedp.Action) error {
		return errors.New("DOMException: 'div[[' is not a valid selector")
	})
	_, err := s.Query(context.Background(), locator.ByCSS("div[["))
	assert.ErrorIs(t, err, browser.ErrInvalidLocator)
	assert.False(t, poll.IsTransient(err))
}

func TestSession_QueryNoMatches(t *testing.T) {
	s, calls := stubSession(t, nil)
	els, err := s.Query(context.Background(), locator.ByXPath("//button"))
	require.NoError(t, err)
	assert.Empty(t, els)
	assert.Equal(t, 1, *calls)
}

func TestSession_QueryKeepsTransientClassification(t *testing.T) {
	s, _ := stubSession(t, func(context.Context, ...chromedp.Action) error {
		return browser.ClassifyDriverError(errors.New("Execution context was destroyed."))
	})
	_, err := s.Query(context.Background(), locator.ByID("x"))
	require.Error(t, err)
	assert.True(t, poll.IsTransient(err))
}

func TestSession_DispatchUnknownHandleIsStale(t *testing.T) {
	s, calls := stubSession(t, nil)
	err := s.Dispatch(context.Background(), "12345", browser.Click())
	assert.ErrorIs(t, err, browser.ErrStaleElement)
	assert.True(t, poll.IsTransient(err))
	assert.Zero(t, *calls)
}

func TestSession_DispatchDocumentLevel(t *testing.T) {
	s, calls := stubSession(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, "", browser.PressKey(browser.KeyEscape)))
	require.NoError(t, s.Dispatch(ctx, "", browser.ScrollBy(800)))
	assert.Equal(t, 2, *calls)

	err := s.Dispatch(ctx, "", browser.Click())
	assert.ErrorIs(t, err, browser.ErrUnsupportedAction)
}

func TestSession_Navigate(t *testing.T) {
	t.Run("timeout is reported with duration", func(t *testing.T) {
		s, _ := stubSession(t, func(ctx context.Context, _ ...chromedp.Action) error {
			<-ctx.Done()
			return ctx.Err()
		})
		s.pageLoadTimeout = 20 * time.Millisecond
		err := s.Navigate(context.Background(), "https://example.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timed out after 20ms")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("failure is wrapped", func(t *testing.T) {
		s, _ := stubSession(t, func(context.Context, ...chromedp.Action) error {
			return errors.New("net::ERR_NAME_NOT_RESOLVED")
		})
		err := s.Navigate(context.Background(), "https://nowhere.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "navigation to https://nowhere.test failed")
	})
}

func TestSession_SnapshotAndURLErrors(t *testing.T) {
	boom := errors.New("target crashed")
	s, _ := stubSession(t, func(context.Context, ...chromedp.Action) error { return boom })
	ctx := context.Background()

	_, err := s.TakeSnapshot(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = s.CurrentURL(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = s.OuterHTML(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestSession_Close(t *testing.T) {
	cancelled := 0
	s := newSession("x", context.Background(), func() { cancelled++ }, zaptest.NewLogger(t), time.Second)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, cancelled)

	err := s.RunActions(context.Background())
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	_, err = s.Query(context.Background(), locator.ByID("x"))
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, kb.Escape, keyFor(browser.KeyEscape))
	assert.Equal(t, kb.Enter, keyFor(browser.KeyEnter))
	assert.Equal(t, "a", keyFor("a"))
}
