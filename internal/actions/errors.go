// internal/actions/errors.go
package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/pageharness/internal/browser"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

var (
	// ErrElementNotFound means every locator in the chain exhausted its window
	// without satisfying the condition.
	ErrElementNotFound = errors.New("element not found")
	// ErrInteractionAborted means the caller cancelled the operation.
	ErrInteractionAborted = errors.New("interaction aborted")
	// ErrInvalidLocator means a locator could not be compiled into a query.
	ErrInvalidLocator = browser.ErrInvalidLocator
	// ErrConditionNotMet means a non-element condition (invisibility, URL,
	// custom predicate) did not hold before the deadline.
	ErrConditionNotMet = errors.New("condition not met")
)

// Error reports a failed operation together with every locator it tried.
type Error struct {
	Op       string
	Locators []locator.Locator
	Err      error
}

func (e *Error) Error() string {
	if len(e.Locators) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	tried := make([]string, len(e.Locators))
	for i, l := range e.Locators {
		tried[i] = l.String()
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, strings.Join(tried, ", "), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
