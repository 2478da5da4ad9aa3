// internal/browser/cdp/scripts.go
package cdp

// probeScript is called with `this` bound to an element and reports the state
// the interaction engine predicates on.
const probeScript = `function() {
	const style = window.getComputedStyle(this);
	const rects = this.getClientRects();
	const visible = style.display !== 'none'
		&& style.visibility !== 'hidden'
		&& style.visibility !== 'collapse'
		&& parseFloat(style.opacity || '1') > 0
		&& rects.length > 0;
	const text = (this.innerText || this.textContent || '').replace(/\s+/g, ' ').trim();
	return { visible: visible, enabled: !this.disabled, text: text, tag: this.tagName.toLowerCase() };
}`

// clearScript empties a form control and fires the events reactive frameworks
// listen for. It returns false for disabled or read-only controls.
const clearScript = `function() {
	if (this.disabled || this.readOnly) {
		return false;
	}
	if ('value' in this) {
		this.value = '';
	} else if (this.isContentEditable) {
		this.textContent = '';
	} else {
		return false;
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

// nodeState mirrors the object returned by probeScript.
type nodeState struct {
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
	Tag     string `json:"tag"`
}
