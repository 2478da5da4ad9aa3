// internal/locator/parse.go
package locator

import (
	"fmt"
	"strings"
)

// Parse reads the textual form produced by Locator.String: a primary
// "strategy=value" optionally followed by " | strategy=value" fallbacks.
//
// A " | " only separates fallbacks when the text after it starts with a known
// strategy prefix, so an XPath union such as "xpath=//a | //b" stays one
// value. A value that itself contains " | " followed by "strategy=" cannot be
// written in this form; use ParseChain for it.
//
// A value without a recognised strategy prefix is rejected rather than guessed.
func Parse(s string) (Locator, error) {
	parts := splitChain(s)
	primary, err := parseSingle(parts[0])
	if err != nil {
		return Locator{}, err
	}
	if len(parts) == 1 {
		return primary, nil
	}
	fallbacks := make([]Locator, 0, len(parts)-1)
	for _, p := range parts[1:] {
		fb, err := parseSingle(p)
		if err != nil {
			return Locator{}, err
		}
		fallbacks = append(fallbacks, fb)
	}
	return New(primary.strategy, primary.value, fallbacks...)
}

// splitChain splits s on the fallback separator, keeping a separator that is
// not followed by "strategy=" inside the current value.
func splitChain(s string) []string {
	raw := strings.Split(s, chainSeparator)
	parts := raw[:1]
	for _, p := range raw[1:] {
		if hasStrategyPrefix(p) {
			parts = append(parts, p)
			continue
		}
		parts[len(parts)-1] += chainSeparator + p
	}
	return parts
}

func hasStrategyPrefix(s string) bool {
	name, _, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return false
	}
	_, err := ParseStrategy(name)
	return err == nil
}

// ParseChain builds a Locator from a primary string and a separate list of
// fallback strings, the shape used by configuration files.
func ParseChain(primary string, fallbacks []string) (Locator, error) {
	p, err := parseSingle(primary)
	if err != nil {
		return Locator{}, err
	}
	fbs := make([]Locator, 0, len(fallbacks))
	for i, raw := range fallbacks {
		fb, err := parseSingle(raw)
		if err != nil {
			return Locator{}, fmt.Errorf("fallback %d: %w", i, err)
		}
		fbs = append(fbs, fb)
	}
	return New(p.strategy, p.value, fbs...)
}

func parseSingle(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	idx := strings.IndexByte(s, '=')
	if idx <= 0 {
		return Locator{}, fmt.Errorf("%w: missing strategy prefix in %q", ErrUnknownStrategy, s)
	}
	strategy, err := ParseStrategy(s[:idx])
	if err != nil {
		return Locator{}, err
	}
	return New(strategy, s[idx+1:])
}
