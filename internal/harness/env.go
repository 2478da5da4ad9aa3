// internal/harness/env.go
// Package harness wires a browser session, the interaction engine, modal
// handling and failure capture together from configuration, and hooks them
// into the Go test lifecycle.
package harness

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/actions"
	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/capture"
	"github.com/xkilldash9x/pageharness/internal/config"
	"github.com/xkilldash9x/pageharness/internal/modal"
	"github.com/xkilldash9x/pageharness/internal/page"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

// runRegistry keeps artifact names unique across every test in the binary.
var runRegistry = capture.NewRegistry()

// Env is one assembled session.
type Env struct {
	Session  browser.Session
	Actions  *actions.Actions
	Modals   *modal.Dismisser
	Capturer *capture.Capturer
	Page     *page.Base
	Logger   *zap.Logger
}

type settings struct {
	logger       *zap.Logger
	clock        poll.Clock
	store        capture.Store
	registry     *capture.Registry
	modalContext string
}

// Option customizes assembly.
type Option func(*settings)

// WithLogger sets the logger every component derives from.
func WithLogger(l *zap.Logger) Option { return func(s *settings) { s.logger = l } }

// WithClock drives polling and artifact timestamps from c.
func WithClock(c poll.Clock) Option { return func(s *settings) { s.clock = c } }

// WithStore overrides the artifact store built from the capture config.
func WithStore(st capture.Store) Option { return func(s *settings) { s.store = st } }

// WithRegistry overrides the run-wide artifact name registry.
func WithRegistry(r *capture.Registry) Option { return func(s *settings) { s.registry = r } }

// WithModalContext selects which configured modal rule set applies.
func WithModalContext(name string) Option { return func(s *settings) { s.modalContext = name } }

func newSettings(opts []Option) settings {
	s := settings{registry: runRegistry, modalContext: config.DefaultModalContext}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = poll.RealClock()
	}
	return s
}

// WaitSpec converts the wait section into the default poll spec.
func WaitSpec(w config.WaitConfig) poll.Spec {
	return poll.Spec{Timeout: w.Timeout, Interval: w.PollInterval}
}

// ModalSpecs derives the dismisser's waits. The dismiss click and the
// invisibility check share the verify window at the scan cadence.
func ModalSpecs(m config.ModalConfig) modal.Specs {
	verify := poll.Spec{Timeout: m.VerifyTimeout, Interval: m.ScanInterval}.WithTimeout(m.VerifyTimeout)
	return modal.Specs{
		Scan:    poll.Spec{Timeout: m.ScanTimeout, Interval: m.ScanInterval},
		Dismiss: verify,
		Verify:  verify,
	}
}

// BrowserOptions converts the browser section into session options.
func BrowserOptions(cfg config.Interface) browser.Options {
	b := cfg.Browser()
	opts := browser.Options{
		Headless:        b.Headless,
		Args:            append([]string(nil), b.Args...),
		PageLoadTimeout: cfg.Wait().PageLoadTimeout,
		IgnoreTLSErrors: b.IgnoreTLSErrors,
	}
	if name, dev, ok := b.DeviceProfile(); ok {
		opts.Device = &browser.DeviceProfile{
			Name:       name,
			Width:      dev.Width,
			Height:     dev.Height,
			PixelRatio: dev.PixelRatio,
			UserAgent:  dev.UserAgent,
			Mobile:     dev.Mobile,
		}
	}
	return opts
}

// Assemble builds the engine around an existing session.
func Assemble(session browser.Session, cfg config.Interface, opts ...Option) *Env {
	s := newSettings(opts)
	logger := s.logger.With(zap.String("session_id", session.ID()))

	poller := poll.New(logger, poll.WithClock(s.clock))
	acts := actions.New(session, poller, WaitSpec(cfg.Wait()), logger, actions.WithScrollPixels(cfg.Wait().ScrollPixels))

	var modals *modal.Dismisser
	if mc := cfg.Modal(); mc.Enabled {
		rules, err := modal.RulesFromConfig(mc.RulesFor(s.modalContext))
		if err != nil {
			logger.Warn("Some modal rules were skipped.", zap.String("context", s.modalContext), zap.Error(err))
		}
		modals = modal.New(acts, rules, ModalSpecs(mc), logger)
	}

	env := &Env{
		Session: session,
		Actions: acts,
		Modals:  modals,
		Page:    page.NewBase(session, acts, modals, cfg.Browser().BaseURL, logger),
		Logger:  logger,
	}

	if cc := cfg.Capture(); cc.Enabled {
		store := s.store
		if store == nil {
			ds, err := capture.NewDirStore(cc.Dir, logger)
			if err != nil {
				logger.Warn("Artifacts will not be written to disk.", zap.Error(err))
			} else {
				store = ds
			}
		}
		copts := []capture.Option{capture.WithRegistry(s.registry), capture.WithClock(s.clock), capture.WithTimeout(cc.Timeout)}
		if store != nil {
			copts = append(copts, capture.WithStore(store))
		}
		env.Capturer = capture.New(session, logger, copts...)
	}
	return env
}

// Open starts a session from provider and assembles the engine around it.
func Open(ctx context.Context, provider browser.Provider, cfg config.Interface, opts ...Option) (*Env, error) {
	session, err := provider.NewSession(ctx, BrowserOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return Assemble(session, cfg, opts...), nil
}

// Close ends the session.
func (e *Env) Close() error {
	return e.Session.Close()
}
