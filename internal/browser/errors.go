// internal/browser/errors.go
package browser

import (
	"errors"
	"strings"

	"github.com/xkilldash9x/pageharness/internal/poll"
)

var (
	// ErrStaleElement means a previously resolved element is no longer attached
	// to the document. It is transient: re-querying may succeed.
	ErrStaleElement = poll.MarkTransient(errors.New("stale element reference"))
	// ErrNotInteractable means the element exists but cannot currently receive
	// the action. It is transient.
	ErrNotInteractable = poll.MarkTransient(errors.New("element not interactable"))
	// ErrInvalidLocator means the driver cannot compile the locator. It is
	// permanent.
	ErrInvalidLocator = errors.New("invalid locator")
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrUnsupportedAction is returned for an action a driver cannot perform.
	ErrUnsupportedAction = errors.New("unsupported action")
)

// transientMessages are driver error texts that describe a page mid-transition
// rather than a real failure.
var transientMessages = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
	"No node with given id found",
	"Could not find node with given id",
	"Node is detached from document",
	"Node does not have a layout object",
}

// ClassifyDriverError marks driver errors whose text matches a known
// transient condition. Node-level failures map onto ErrStaleElement.
func ClassifyDriverError(err error) error {
	if err == nil || poll.IsTransient(err) {
		return err
	}
	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			if strings.Contains(m, "node") || strings.Contains(m, "Node") {
				return &staleError{cause: err}
			}
			return poll.MarkTransient(err)
		}
	}
	return err
}

type staleError struct {
	cause error
}

func (e *staleError) Error() string { return ErrStaleElement.Error() + ": " + e.cause.Error() }

func (e *staleError) Unwrap() []error { return []error{ErrStaleElement, e.cause} }
