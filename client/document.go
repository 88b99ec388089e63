// Package client is a headless liveregion client. It keeps an HTML document in
// sync with a server's live regions: it scans region markers, mirrors region
// sources, applies diff updates, morphs the affected nodes and sends user
// interactions back.
package client

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attributes that declare interactions on elements.
const (
	AttrClick   = "data-live-click"
	AttrChange  = "data-live-change"
	AttrKey     = "data-live-key"
	AttrPending = "data-live-pending"
)

// Document is a rendering surface: a parsed HTML tree plus the live state a
// browser keeps apart from attributes (user-entered values, checkedness, focus).
type Document struct {
	root    *html.Node
	values  map[*html.Node]string
	checked map[*html.Node]bool
	focused *html.Node
}

// ParseDocument parses a full HTML page
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return NewDocument(root), nil
}

// NewDocument wraps an already parsed tree
func NewDocument(root *html.Node) *Document {
	return &Document{
		root:    root,
		values:  make(map[*html.Node]string),
		checked: make(map[*html.Node]bool),
	}
}

// Root returns the document node
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, or the root when there is none
func (d *Document) Body() *html.Node {
	if body := d.Find(func(n *html.Node) bool { return n.DataAtom == atom.Body }); body != nil {
		return body
	}
	return d.root
}

// String renders the document
func (d *Document) String() string {
	var buf bytes.Buffer
	html.Render(&buf, d.root)
	return buf.String()
}

// Find returns the first element in document order matching pred
func (d *Document) Find(pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walkElements(d.root, func(n *html.Node) bool {
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindAll returns every element matching pred in document order
func (d *Document) FindAll(pred func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	walkElements(d.root, func(n *html.Node) bool {
		if pred(n) {
			found = append(found, n)
		}
		return true
	})
	return found
}

// ByID returns the element with the id attribute, or nil
func (d *Document) ByID(id string) *html.Node {
	return d.Find(func(n *html.Node) bool { return attr(n, "id") == id })
}

// Contains reports whether n is still attached to the document
func (d *Document) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Value returns the control's current value: what the user typed if anything,
// else its default from the markup.
func (d *Document) Value(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	switch n.DataAtom {
	case atom.Textarea:
		return textContent(n)
	case atom.Select:
		if opts := d.Selected(n); len(opts) > 0 {
			return optionValue(opts[0])
		}
		return ""
	case atom.Option:
		return optionValue(n)
	}
	return attr(n, "value")
}

// SetValue records a user-entered value, as typing into a control would
func (d *Document) SetValue(n *html.Node, value string) {
	d.values[n] = value
}

// Checked returns the live checkedness of a checkbox, radio or option
func (d *Document) Checked(n *html.Node) bool {
	if c, ok := d.checked[n]; ok {
		return c
	}
	if n.DataAtom == atom.Option {
		return hasAttr(n, "selected")
	}
	return hasAttr(n, "checked")
}

// SetChecked records a user toggle. Checking a radio unchecks the other radios
// of its group in the same form.
func (d *Document) SetChecked(n *html.Node, checked bool) {
	d.checked[n] = checked
	if !checked || attr(n, "type") != "radio" {
		return
	}
	name := attr(n, "name")
	scope := closest(n, atom.Form)
	if scope == nil {
		scope = d.root
	}
	walkElements(scope, func(o *html.Node) bool {
		if o != n && o.DataAtom == atom.Input && attr(o, "type") == "radio" && attr(o, "name") == name {
			d.checked[o] = false
		}
		return true
	})
}

// Focus moves input focus to n
func (d *Document) Focus(n *html.Node) { d.focused = n }

// Focused returns the focused element, nil when it was removed from the document
func (d *Document) Focused() *html.Node {
	if d.focused != nil && !d.Contains(d.focused) {
		d.focused = nil
	}
	return d.focused
}

// forget drops live state of detached nodes
func (d *Document) forget(n *html.Node) {
	walk(n, func(c *html.Node) bool {
		delete(d.values, c)
		delete(d.checked, c)
		if d.focused == c {
			d.focused = nil
		}
		return true
	})
}

// InnerHTML renders the children of n
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		html.Render(&buf, c)
	}
	return buf.String()
}

// TextContent returns the concatenated text below n
func TextContent(n *html.Node) string { return textContent(n) }

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// walk visits n and its descendants in document order until fn returns false
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func walkElements(n *html.Node, fn func(*html.Node) bool) {
	walk(n, func(c *html.Node) bool {
		if c.Type != html.ElementNode {
			return true
		}
		return fn(c)
	})
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func closest(n *html.Node, a atom.Atom) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

// Selected returns the selected options of a select. A single select without
// an explicit selection shows its first enabled option.
func (d *Document) Selected(sel *html.Node) []*html.Node {
	var opts, all []*html.Node
	walkElements(sel, func(n *html.Node) bool {
		if n.DataAtom == atom.Option {
			all = append(all, n)
			if d.Checked(n) {
				opts = append(opts, n)
			}
		}
		return true
	})
	if len(opts) == 0 && !hasAttr(sel, "multiple") {
		for _, o := range all {
			if !hasAttr(o, "disabled") {
				return []*html.Node{o}
			}
		}
	}
	return opts
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return strings.TrimSpace(textContent(opt))
}
