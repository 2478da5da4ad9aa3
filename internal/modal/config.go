// internal/modal/config.go
package modal

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/pageharness/internal/config"
	"github.com/xkilldash9x/pageharness/internal/locator"
)

// RulesFromConfig compiles configured rules in order. Rules that do not
// compile are left out and reported together in the returned error, so one
// bad entry does not disable the rest.
func RulesFromConfig(cfgs []config.ModalRuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	var errs []error
	for i, c := range cfgs {
		r, err := ruleFromConfig(c)
		if err != nil {
			errs = append(errs, fmt.Errorf("modal rule %d (%s): %w", i, c.Name, err))
			continue
		}
		rules = append(rules, r)
	}
	return rules, errors.Join(errs...)
}

func ruleFromConfig(c config.ModalRuleConfig) (Rule, error) {
	loc, err := locator.ParseChain(c.Locator, c.Fallbacks)
	if err != nil {
		return Rule{}, err
	}
	action, err := ParseAction(c.Action)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{Name: c.Name, Locator: loc, Action: action}
	if c.Dismiss != "" {
		target, err := locator.Parse(c.Dismiss)
		if err != nil {
			return Rule{}, fmt.Errorf("dismiss locator: %w", err)
		}
		r.DismissOverride = &target
	}
	return r, nil
}
