package client

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MorphStats counts what a reconcile touched
type MorphStats struct {
	Skipped  int // nodes equal to their replacement, left alone
	Updated  int // nodes kept and patched in place
	Added    int
	Removed  int
	Replaced int // nodes swapped for a node of another kind
}

// Changed reports whether the reconcile modified the document
func (s MorphStats) Changed() bool {
	return s.Updated+s.Added+s.Removed+s.Replaced > 0
}

// morpher reconciles one region of a document
type morpher struct {
	doc     *Document
	stats   MorphStats
	added   []*html.Node
	removed []*html.Node
}

// Reconcile morphs the nodes of r into the markup of source. Matching nodes are
// kept (so their live value, checkedness and focus survive), equal nodes are not
// touched, and the range ends up between the same markers. Added and removed
// subtrees are reported for binding.
func Reconcile(doc *Document, r *Region, source string) (MorphStats, []*html.Node, []*html.Node, error) {
	parent := r.Begin.Parent
	if parent == nil {
		return MorphStats{}, nil, nil, fmt.Errorf("region %s: markers are detached", r.ID)
	}

	next, err := html.ParseFragment(strings.NewReader(source), fragmentContext(parent))
	if err != nil {
		return MorphStats{}, nil, nil, fmt.Errorf("region %s: parse source: %w", r.ID, err)
	}

	focused := doc.Focused()

	// stage the current range in a detached container
	staging := &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom}
	for _, n := range r.Nodes() {
		parent.RemoveChild(n)
		staging.AppendChild(n)
	}

	m := &morpher{doc: doc}
	m.morphChildren(staging, next)

	for c := staging.FirstChild; c != nil; {
		following := c.NextSibling
		staging.RemoveChild(c)
		parent.InsertBefore(c, r.End)
		c = following
	}

	for _, n := range m.removed {
		doc.forget(n)
	}
	if focused != nil && doc.Contains(focused) {
		doc.Focus(focused)
	}
	return m.stats, m.added, m.removed, nil
}

func fragmentContext(parent *html.Node) *html.Node {
	if parent.Type == html.ElementNode {
		return parent
	}
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// nodeKey is the identity used to match old and new children: the declared
// key, else the id, else none (positional)
func nodeKey(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if k := attr(n, AttrKey); k != "" {
		return "k:" + k
	}
	if id := attr(n, "id"); id != "" {
		return "id:" + id
	}
	return ""
}

// sameKind matches elements by tag and other nodes by type
func sameKind(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == html.ElementNode {
		return a.Data == b.Data && a.Namespace == b.Namespace
	}
	return true
}

func (m *morpher) morphChildren(parent *html.Node, next []*html.Node) {
	var old []*html.Node
	keyed := make(map[string]*html.Node)
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		old = append(old, c)
		if k := nodeKey(c); k != "" {
			keyed[k] = c
		}
	}
	used := make(map[*html.Node]bool, len(old))
	cursor := 0

	result := make([]*html.Node, 0, len(next))
	for _, n := range next {
		var match *html.Node
		replaced := false
		if k := nodeKey(n); k != "" {
			if cand, ok := keyed[k]; ok && !used[cand] && sameKind(cand, n) {
				match = cand
			}
		} else {
			for cursor < len(old) && (used[old[cursor]] || nodeKey(old[cursor]) != "") {
				cursor++
			}
			if cursor < len(old) {
				cand := old[cursor]
				if sameKind(cand, n) {
					match = cand
					cursor++
				} else {
					// positional slot taken by a node of another kind
					m.stats.Replaced++
					replaced = true
					used[cand] = true
					m.removed = append(m.removed, cand)
					cursor++
				}
			}
		}

		if match == nil {
			if !replaced {
				m.stats.Added++
			}
			m.added = append(m.added, n)
			result = append(result, n)
			continue
		}
		used[match] = true
		m.morphNode(match, n)
		result = append(result, match)
	}

	for _, o := range old {
		if !used[o] {
			m.stats.Removed++
			m.removed = append(m.removed, o)
		}
	}

	for c := parent.FirstChild; c != nil; {
		following := c.NextSibling
		parent.RemoveChild(c)
		c = following
	}
	for _, n := range result {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		parent.AppendChild(n)
	}
}

func (m *morpher) morphNode(old, next *html.Node) {
	if isEqualNode(old, next) {
		m.stats.Skipped++
		return
	}
	m.stats.Updated++

	if old.Type != html.ElementNode {
		old.Data = next.Data
		return
	}

	old.Attr = append(old.Attr[:0:0], next.Attr...)

	var children []*html.Node
	for c := next.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		next.RemoveChild(c)
	}
	m.morphChildren(old, children)
}

// isEqualNode compares kind, attributes and children recursively
func isEqualNode(a, b *html.Node) bool {
	if !sameKind(a, b) {
		return false
	}
	if a.Type != html.ElementNode {
		return a.Data == b.Data
	}
	if len(a.Attr) != len(b.Attr) {
		return false
	}
	for i := range a.Attr {
		if a.Attr[i] != b.Attr[i] {
			return false
		}
	}
	ac, bc := a.FirstChild, b.FirstChild
	for ac != nil && bc != nil {
		if !isEqualNode(ac, bc) {
			return false
		}
		ac, bc = ac.NextSibling, bc.NextSibling
	}
	return ac == nil && bc == nil
}

func renderNode(n *html.Node) []byte {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.Bytes()
}
