// internal/browser/document.go
// Package browser defines the capability the interaction engine needs from a
// live page, independent of the driver behind it. The engine only ever queries
// elements, dispatches actions, reads the current URL, and takes a snapshot.
package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/pageharness/internal/locator"
)

// Element is a point-in-time view of a matched element. ID is an opaque
// handle that stays valid until the underlying node is detached or replaced.
type Element struct {
	ID      string
	Tag     string
	Text    string
	Visible bool
	Enabled bool
}

// ActionKind enumerates the interactions a Document can dispatch.
type ActionKind int

const (
	ActionClick ActionKind = iota + 1
	ActionClear
	ActionSendKeys
	ActionPressKey
	ActionScrollBy
	ActionScrollIntoView
)

func (k ActionKind) String() string {
	switch k {
	case ActionClick:
		return "click"
	case ActionClear:
		return "clear"
	case ActionSendKeys:
		return "send_keys"
	case ActionPressKey:
		return "press_key"
	case ActionScrollBy:
		return "scroll_by"
	case ActionScrollIntoView:
		return "scroll_into_view"
	default:
		return "unknown"
	}
}

// Common keys for ActionPressKey.
const (
	KeyEscape = "Escape"
	KeyEnter  = "Enter"
	KeyTab    = "Tab"
)

// Action is a single interaction. Which fields are read depends on Kind.
type Action struct {
	Kind   ActionKind
	Text   string
	Key    string
	DeltaY int
}

func Click() Action               { return Action{Kind: ActionClick} }
func Clear() Action               { return Action{Kind: ActionClear} }
func SendKeys(text string) Action { return Action{Kind: ActionSendKeys, Text: text} }
func PressKey(key string) Action  { return Action{Kind: ActionPressKey, Key: key} }
func ScrollBy(deltaY int) Action  { return Action{Kind: ActionScrollBy, DeltaY: deltaY} }
func ScrollIntoView() Action      { return Action{Kind: ActionScrollIntoView} }

// SnapshotKind identifies what a Snapshot holds.
type SnapshotKind string

const (
	SnapshotImage       SnapshotKind = "image"
	SnapshotHTML        SnapshotKind = "html"
	SnapshotPlaceholder SnapshotKind = "placeholder"
)

// Snapshot is a capture of the page's current state.
type Snapshot struct {
	Kind        SnapshotKind
	ContentType string
	Data        []byte
}

// Document is the minimal page capability. Implementations are used by one
// caller at a time.
type Document interface {
	// Query resolves a single locator (its fallbacks are ignored) against the
	// current page. No match is an empty slice, not an error. A locator the
	// driver cannot compile yields ErrInvalidLocator.
	Query(ctx context.Context, loc locator.Locator) ([]Element, error)
	// Dispatch performs an action on the element with the given ID, or on the
	// document itself when elementID is empty.
	Dispatch(ctx context.Context, elementID string, action Action) error
	CurrentURL(ctx context.Context) (string, error)
	TakeSnapshot(ctx context.Context) (Snapshot, error)
}

// HTMLSource is implemented by documents that can serialize their DOM. It is
// used as a fallback when a rendered snapshot is unavailable.
type HTMLSource interface {
	OuterHTML(ctx context.Context) (string, error)
}

// Session is a Document bound to a browser session that can navigate and must
// be closed.
type Session interface {
	Document
	ID() string
	Navigate(ctx context.Context, url string) error
	Close() error
}

// DeviceProfile describes mobile emulation settings.
type DeviceProfile struct {
	Name       string
	Width      int64
	Height     int64
	PixelRatio float64
	UserAgent  string
	Mobile     bool
}

// Options controls how a Provider starts a session.
type Options struct {
	Headless        bool
	Device          *DeviceProfile
	Args            []string
	PageLoadTimeout time.Duration
	IgnoreTLSErrors bool
}

// Provider produces sessions. Callers own the returned Session.
type Provider interface {
	NewSession(ctx context.Context, opts Options) (Session, error)
}
