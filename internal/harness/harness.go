// internal/harness/harness.go
package harness

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/config"
)

// New opens a session for a test. When the test has failed by the time it
// finishes, an artifact named after the test is captured before the session
// is closed. Session start failures stop the test immediately.
func New(t testing.TB, provider browser.Provider, cfg config.Interface, opts ...Option) *Env {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)

	env, err := Open(context.Background(), provider, cfg, opts...)
	if err != nil {
		t.Fatalf("harness: %v", err)
	}

	t.Cleanup(func() {
		if t.Failed() && env.Capturer != nil {
			art := env.Capturer.Capture(context.Background(), t.Name())
			env.Logger.Info("Failure artifact captured.",
				zap.String("test", t.Name()),
				zap.String("artifact", art.Name),
				zap.String("path", art.Path))
			if art.Path != "" {
				t.Logf("failure artifact: %s", art.Path)
			}
		}
		if err := env.Close(); err != nil {
			t.Logf("harness: closing session: %v", err)
		}
	})
	return env
}
