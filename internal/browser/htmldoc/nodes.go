// internal/browser/htmldoc/nodes.go
package htmldoc

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// nonRendered tags never produce a visible box.
var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"title": true, "meta": true, "link": true, "noscript": true,
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	return htmlquery.SelectAttr(n, key)
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// styleProps parses an inline style attribute into lower-cased properties.
func styleProps(n *html.Node) map[string]string {
	props := make(map[string]string)
	for _, decl := range strings.Split(getAttr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		props[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return props
}

// isVisible walks up from n and reports false if n or any ancestor is hidden
// by markup.
func isVisible(n *html.Node) bool {
	if n.Type == html.ElementNode && n.Data == "input" && strings.EqualFold(getAttr(n, "type"), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if nonRendered[cur.Data] || hasAttr(cur, "hidden") {
			return false
		}
		if styleProps(cur)["display"] == "none" {
			return false
		}
	}
	return nearestVisibility(n) != "hidden"
}

// nearestVisibility resolves the inherited visibility property.
func nearestVisibility(n *html.Node) string {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if vis, ok := styleProps(cur)["visibility"]; ok {
			if vis == "collapse" {
				return "hidden"
			}
			return vis
		}
	}
	return "visible"
}

// hide sets display:none on n, keeping any other inline style.
func hide(n *html.Node) {
	style := strings.TrimSpace(getAttr(n, "style"))
	if style != "" && !strings.HasSuffix(style, ";") {
		style += ";"
	}
	setAttr(n, "style", style+"display:none")
}

// closestWithClass returns the nearest ancestor-or-self carrying class cls.
func closestWithClass(n *html.Node, cls string) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, c := range strings.Fields(getAttr(cur, "class")) {
			if c == cls {
				return cur
			}
		}
	}
	return nil
}

// value reads the form value of n: the value attribute for inputs, the text
// content for textareas.
func value(n *html.Node) string {
	if n.Data == "textarea" {
		return htmlquery.InnerText(n)
	}
	return getAttr(n, "value")
}

func setValue(n *html.Node, v string) {
	if n.Data == "textarea" {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		if v != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
		}
		return
	}
	setAttr(n, "value", v)
}

// Hide applies display:none to n. Intended for click and key handlers.
func Hide(n *html.Node) { hide(n) }

// Remove detaches n from the tree; handles to it become stale.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}
