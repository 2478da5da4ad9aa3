// internal/modal/modal.go
// Package modal dismisses overlays (consent banners, promos, age gates) that
// may or may not appear on a page. Dismissal is best-effort: the outcome is a
// status, never an error.
package modal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pageharness/internal/actions"
	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
	"github.com/xkilldash9x/pageharness/internal/poll"
)

// ErrBusy is recorded when Dismiss is invoked while a dismissal is already in
// flight, for example from a click handler the dismissal itself triggered.
var ErrBusy = errors.New("modal dismisser is busy")

// State is the dismisser's position in its cycle.
type State int32

const (
	Idle State = iota
	Scanning
	Dismissing
	Verifying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Dismissing:
		return "dismissing"
	case Verifying:
		return "verifying"
	default:
		return "unknown"
	}
}

// Action is how a matched modal is dismissed.
type Action int

const (
	Click Action = iota + 1
	EscapeKey
)

func (a Action) String() string {
	switch a {
	case Click:
		return "click"
	case EscapeKey:
		return "escape_key"
	default:
		return "unknown"
	}
}

// ParseAction parses "click" or "escape_key" (case-insensitive, "escape" is
// accepted too).
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click", "":
		return Click, nil
	case "escape_key", "escape", "esc":
		return EscapeKey, nil
	default:
		return 0, fmt.Errorf("unknown dismiss action %q", s)
	}
}

// Rule describes one kind of modal and how to get rid of it.
type Rule struct {
	Name    string
	Locator locator.Locator
	Action  Action
	// DismissOverride, when set, is clicked instead of Locator.
	DismissOverride *locator.Locator
}

func (r Rule) target() locator.Locator {
	if r.DismissOverride != nil {
		return *r.DismissOverride
	}
	return r.Locator
}

// clone returns a copy of r that shares no memory with it.
func (r Rule) clone() *Rule {
	if r.DismissOverride != nil {
		o := *r.DismissOverride
		r.DismissOverride = &o
	}
	return &r
}

func (r Rule) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Locator.String()
}

// Validate checks the rule's locators and action.
func (r Rule) Validate() error {
	if err := r.Locator.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.label(), err)
	}
	if r.DismissOverride != nil {
		if err := r.DismissOverride.Validate(); err != nil {
			return fmt.Errorf("rule %s dismiss locator: %w", r.label(), err)
		}
	}
	if r.Action != Click && r.Action != EscapeKey {
		return fmt.Errorf("rule %s: unknown action %d", r.label(), r.Action)
	}
	return nil
}

// Status is the outcome of one Dismiss call.
type Status int

const (
	NoneFound Status = iota
	Dismissed
	DismissFailed
)

func (s Status) String() string {
	switch s {
	case NoneFound:
		return "none_found"
	case Dismissed:
		return "dismissed"
	case DismissFailed:
		return "dismiss_failed"
	default:
		return "unknown"
	}
}

// Result reports what Dismiss did. Rule is a copy of the matched rule, set
// for Dismissed and DismissFailed. Err carries the reason for a failure, a
// cancellation, or a refused re-entry.
type Result struct {
	Status Status
	Rule   *Rule
	Err    error
}

// Specs bundles the waits a Dismisser uses.
type Specs struct {
	// Scan is the short visibility check per rule.
	Scan poll.Spec
	// Dismiss bounds the click on the dismiss target.
	Dismiss poll.Spec
	// Verify bounds the wait for the modal to disappear.
	Verify poll.Spec
}

// Dismisser runs rules in order against one page, first match wins.
type Dismisser struct {
	acts   *actions.Actions
	rules  []Rule
	specs  Specs
	state  atomic.Int32
	logger *zap.Logger
}

// New builds a Dismisser. Rules that fail validation are dropped with a
// warning; the rest keep their order.
func New(acts *actions.Actions, rules []Rule, specs Specs, logger *zap.Logger) *Dismisser {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("modal")
	valid := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			logger.Warn("Skipping invalid modal rule.", zap.Error(err))
			continue
		}
		valid = append(valid, r)
	}
	return &Dismisser{acts: acts, rules: valid, specs: specs, logger: logger}
}

// Rules returns a copy of the active rules.
func (d *Dismisser) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		out[i] = *r.clone()
	}
	return out
}

// State returns the current state.
func (d *Dismisser) State() State { return State(d.state.Load()) }

// Dismiss scans for the first displayed modal, dismisses it and verifies that
// it is gone. A modal that is in the document but hidden does not match. At
// most one modal is handled per call.
func (d *Dismisser) Dismiss(ctx context.Context) Result {
	if len(d.rules) == 0 {
		return Result{Status: NoneFound}
	}
	if !d.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		d.logger.Warn("Refusing re-entrant modal dismissal.", zap.Stringer("state", d.State()))
		return Result{Status: NoneFound, Err: ErrBusy}
	}
	defer d.state.Store(int32(Idle))

	for i := range d.rules {
		rule := &d.rules[i]
		_, err := d.acts.WaitForVisible(ctx, rule.Locator, actions.WithSpec(d.specs.Scan))
		if err == nil {
			return d.dismiss(ctx, rule)
		}
		if errors.Is(err, actions.ErrInteractionAborted) {
			return Result{Status: NoneFound, Err: err}
		}
		if !errors.Is(err, actions.ErrElementNotFound) {
			d.logger.Debug("Modal scan failed for rule.", zap.String("rule", rule.label()), zap.Error(err))
		}
	}
	return Result{Status: NoneFound}
}

func (d *Dismisser) dismiss(ctx context.Context, rule *Rule) Result {
	d.state.Store(int32(Dismissing))
	d.logger.Info("Modal detected, dismissing.", zap.String("rule", rule.label()), zap.Stringer("action", rule.Action))

	var err error
	switch rule.Action {
	case EscapeKey:
		err = d.acts.PressKey(ctx, browser.KeyEscape)
	default:
		err = d.acts.Click(ctx, rule.target(), actions.WithSpec(d.specs.Dismiss))
	}
	if err != nil {
		d.logger.Warn("Modal dismiss action failed.", zap.String("rule", rule.label()), zap.Error(err))
		return Result{Status: DismissFailed, Rule: rule.clone(), Err: err}
	}

	d.state.Store(int32(Verifying))
	if err := d.acts.WaitForInvisible(ctx, rule.Locator, actions.WithSpec(d.specs.Verify)); err != nil {
		d.logger.Warn("Modal still visible after dismissal.", zap.String("rule", rule.label()), zap.Error(err))
		return Result{Status: DismissFailed, Rule: rule.clone(), Err: err}
	}
	d.logger.Info("Modal dismissed.", zap.String("rule", rule.label()))
	return Result{Status: Dismissed, Rule: rule.clone()}
}
