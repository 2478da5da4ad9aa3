// internal/browser/query.go
package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/pageharness/internal/locator"
)

// QueryLanguage is the selector dialect a locator compiles to.
type QueryLanguage int

const (
	LangCSS QueryLanguage = iota + 1
	LangXPath
)

// CompiledQuery is a locator lowered to a CSS selector or an XPath expression.
type CompiledQuery struct {
	Lang       QueryLanguage
	Expression string
}

var tagNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

// CompileQuery lowers the primary of loc into a CSS selector or XPath
// expression that any driver can evaluate. Fallbacks are ignored.
func CompileQuery(loc locator.Locator) (CompiledQuery, error) {
	v := loc.Value()
	if err := loc.Primary().Validate(); err != nil {
		return CompiledQuery{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	switch loc.Strategy() {
	case locator.ID:
		return css(fmt.Sprintf(`[id=%s]`, cssString(v))), nil
	case locator.CSS:
		return css(v), nil
	case locator.XPath:
		return xpath(v), nil
	case locator.Name:
		return css(fmt.Sprintf(`[name=%s]`, cssString(v))), nil
	case locator.ClassName:
		if strings.ContainsAny(v, " \t\n") {
			return CompiledQuery{}, fmt.Errorf("%w: compound class names are not permitted: %q", ErrInvalidLocator, v)
		}
		return css(fmt.Sprintf(`[class~=%s]`, cssString(v))), nil
	case locator.TagName:
		if !tagNamePattern.MatchString(v) {
			return CompiledQuery{}, fmt.Errorf("%w: malformed tag name %q", ErrInvalidLocator, v)
		}
		return css(strings.ToLower(v)), nil
	case locator.Text:
		lit := XPathLiteral(strings.Join(strings.Fields(v), " "))
		// Deepest element whose normalized text equals the value.
		return xpath(fmt.Sprintf(`//*[normalize-space(.)=%[1]s][not(.//*[normalize-space(.)=%[1]s])]`, lit)), nil
	case locator.LinkText:
		return xpath(fmt.Sprintf(`//a[normalize-space(.)=%s]`, XPathLiteral(strings.Join(strings.Fields(v), " ")))), nil
	case locator.PartialLinkText:
		return xpath(fmt.Sprintf(`//a[contains(normalize-space(.),%s)]`, XPathLiteral(v))), nil
	default:
		return CompiledQuery{}, fmt.Errorf("%w: unsupported strategy %s", ErrInvalidLocator, loc.Strategy())
	}
}

func css(expr string) CompiledQuery   { return CompiledQuery{Lang: LangCSS, Expression: expr} }
func xpath(expr string) CompiledQuery { return CompiledQuery{Lang: LangXPath, Expression: expr} }

// cssString quotes s as a CSS string literal.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value containing both quote kinds is built with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
