// internal/locator/locator.go
// Package locator describes how to find an element on a page. A Locator pairs a
// strategy with a value and may carry an ordered list of fallback locators that
// are tried, one after another, when the primary cannot be resolved.
//
// Locators are immutable values. Fallbacks are flat: a fallback locator may not
// carry fallbacks of its own.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy is the closed set of ways an element can be located.
type Strategy int

const (
	// Unknown is the zero value and is never valid.
	Unknown Strategy = iota
	ID
	CSS
	XPath
	Text
	Name
	ClassName
	TagName
	LinkText
	PartialLinkText
)

var strategyNames = map[Strategy]string{
	ID:              "id",
	CSS:             "css",
	XPath:           "xpath",
	Text:            "text",
	Name:            "name",
	ClassName:       "class_name",
	TagName:         "tag_name",
	LinkText:        "link_text",
	PartialLinkText: "partial_link_text",
}

// Strategies returns every valid strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{ID, CSS, XPath, Text, Name, ClassName, TagName, LinkText, PartialLinkText}
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// ParseStrategy maps a textual strategy name (case-insensitive, "-" and " "
// treated as "_") onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for s, n := range strategyNames {
		if n == norm {
			return s, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

var (
	// ErrUnknownStrategy is returned for a strategy outside the closed set.
	ErrUnknownStrategy = errors.New("unknown locator strategy")
	// ErrEmptyValue is returned when a locator has no value to search for.
	ErrEmptyValue = errors.New("locator value is empty")
	// ErrNestedFallback is returned when a fallback itself declares fallbacks.
	ErrNestedFallback = errors.New("fallback locators cannot declare fallbacks")
)

// Locator identifies an element by strategy and value, with optional flat
// fallbacks. The zero Locator is invalid.
type Locator struct {
	strategy  Strategy
	value     string
	fallbacks []Locator
}

// New builds a validated Locator.
func New(strategy Strategy, value string, fallbacks ...Locator) (Locator, error) {
	l := Locator{strategy: strategy, value: value}
	if len(fallbacks) > 0 {
		l.fallbacks = append([]Locator(nil), fallbacks...)
	}
	if err := l.Validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// MustNew is like New but panics on an invalid locator. Intended for
// package-level page object declarations.
func MustNew(strategy Strategy, value string, fallbacks ...Locator) Locator {
	l, err := New(strategy, value, fallbacks...)
	if err != nil {
		panic(fmt.Sprintf("locator: %v", err))
	}
	return l
}

// Shorthand constructors. They do not validate; an empty value surfaces as an
// invalid-locator error the first time the locator is used.

func ByID(v string) Locator              { return Locator{strategy: ID, value: v} }
func ByCSS(v string) Locator             { return Locator{strategy: CSS, value: v} }
func ByXPath(v string) Locator           { return Locator{strategy: XPath, value: v} }
func ByText(v string) Locator            { return Locator{strategy: Text, value: v} }
func ByName(v string) Locator            { return Locator{strategy: Name, value: v} }
func ByClassName(v string) Locator       { return Locator{strategy: ClassName, value: v} }
func ByTagName(v string) Locator         { return Locator{strategy: TagName, value: v} }
func ByLinkText(v string) Locator        { return Locator{strategy: LinkText, value: v} }
func ByPartialLinkText(v string) Locator { return Locator{strategy: PartialLinkText, value: v} }

// Strategy returns the locator's strategy.
func (l Locator) Strategy() Strategy { return l.strategy }

// Value returns the raw value searched for.
func (l Locator) Value() string { return l.value }

// Fallbacks returns a copy of the fallback list.
func (l Locator) Fallbacks() []Locator {
	if len(l.fallbacks) == 0 {
		return nil
	}
	return append([]Locator(nil), l.fallbacks...)
}

// HasFallbacks reports whether any fallbacks are declared.
func (l Locator) HasFallbacks() bool { return len(l.fallbacks) > 0 }

// IsZero reports whether l is the zero Locator.
func (l Locator) IsZero() bool {
	return l.strategy == Unknown && l.value == "" && len(l.fallbacks) == 0
}

// Primary returns l stripped of its fallbacks.
func (l Locator) Primary() Locator {
	return Locator{strategy: l.strategy, value: l.value}
}

// WithFallbacks returns a copy of l whose fallbacks are replaced by fbs.
func (l Locator) WithFallbacks(fbs ...Locator) (Locator, error) {
	return New(l.strategy, l.value, fbs...)
}

// Chain returns the primary followed by each fallback, in the order they
// should be attempted. No entry in the chain carries fallbacks.
func (l Locator) Chain() []Locator {
	chain := make([]Locator, 0, 1+len(l.fallbacks))
	chain = append(chain, l.Primary())
	for _, fb := range l.fallbacks {
		chain = append(chain, fb.Primary())
	}
	return chain
}

// Validate checks the strategy, value, and the flatness of the fallbacks.
func (l Locator) Validate() error {
	if err := l.validateSingle(); err != nil {
		return err
	}
	for i, fb := range l.fallbacks {
		if len(fb.fallbacks) > 0 {
			return fmt.Errorf("fallback %d (%s): %w", i, fb.Primary(), ErrNestedFallback)
		}
		if err := fb.validateSingle(); err != nil {
			return fmt.Errorf("fallback %d: %w", i, err)
		}
	}
	return nil
}

func (l Locator) validateSingle() error {
	if !l.strategy.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, l.strategy)
	}
	if strings.TrimSpace(l.value) == "" {
		return fmt.Errorf("%w (strategy %s)", ErrEmptyValue, l.strategy)
	}
	return nil
}

// Equal reports whether two locators have the same strategy, value, and
// fallbacks.
func (l Locator) Equal(o Locator) bool {
	if l.strategy != o.strategy || l.value != o.value || len(l.fallbacks) != len(o.fallbacks) {
		return false
	}
	for i := range l.fallbacks {
		if !l.fallbacks[i].Equal(o.fallbacks[i]) {
			return false
		}
	}
	return true
}

// chainSeparator joins fallbacks in the textual form.
const chainSeparator = " | "

// String renders the primary as "strategy=value", appending fallbacks as
// " | strategy=value" segments.
func (l Locator) String() string {
	var b strings.Builder
	b.WriteString(l.strategy.String())
	b.WriteByte('=')
	b.WriteString(l.value)
	for _, fb := range l.fallbacks {
		b.WriteString(chainSeparator)
		b.WriteString(fb.Primary().String())
	}
	return b.String()
}
