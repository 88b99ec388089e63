package client

import (
	"strings"

	"golang.org/x/net/html"
)

type binding struct {
	click  string
	change string
}

// Binder tracks which elements declare interactions and which are waiting for
// the server to answer one.
type Binder struct {
	bound   map[*html.Node]binding
	pending map[string][]*html.Node // regionID → elements showing their pending class
}

// NewBinder creates an empty binder
func NewBinder() *Binder {
	return &Binder{
		bound:   make(map[*html.Node]binding),
		pending: make(map[string][]*html.Node),
	}
}

// Bind registers every interactive element in the subtree of n and returns how
// many were bound
func (b *Binder) Bind(n *html.Node) int {
	count := 0
	walkElements(n, func(el *html.Node) bool {
		bd := binding{click: attr(el, AttrClick), change: attr(el, AttrChange)}
		if bd.click == "" && bd.change == "" {
			return true
		}
		b.bound[el] = bd
		count++
		return true
	})
	return count
}

// Unbind forgets the elements in the subtree of n
func (b *Binder) Unbind(n *html.Node) {
	walk(n, func(el *html.Node) bool {
		delete(b.bound, el)
		return true
	})
}

// Rebind refreshes bindings of elements whose attributes may have changed
func (b *Binder) Rebind(n *html.Node) {
	b.Unbind(n)
	b.Bind(n)
}

// Click returns the click event declared on n
func (b *Binder) Click(n *html.Node) (string, bool) {
	bd, ok := b.bound[n]
	return bd.click, ok && bd.click != ""
}

// Change returns the change event declared on n or on its form
func (b *Binder) Change(n *html.Node) (*html.Node, string, bool) {
	for el := n; el != nil; el = el.Parent {
		if bd, ok := b.bound[el]; ok && bd.change != "" {
			return el, bd.change, true
		}
	}
	return nil, "", false
}

// Len returns the number of bound elements
func (b *Binder) Len() int { return len(b.bound) }

// markPending adds the element's declared pending class until the region updates
func (b *Binder) markPending(regionID string, n *html.Node) {
	class := attr(n, AttrPending)
	if class == "" {
		return
	}
	classes := strings.Fields(attr(n, "class"))
	for _, c := range classes {
		if c == class {
			b.pending[regionID] = append(b.pending[regionID], n)
			return
		}
	}
	setAttr(n, "class", strings.TrimSpace(strings.Join(append(classes, class), " ")))
	b.pending[regionID] = append(b.pending[regionID], n)
}

// clearPending removes pending classes set for the region's interactions
func (b *Binder) clearPending(regionID string) {
	for _, n := range b.pending[regionID] {
		class := attr(n, AttrPending)
		var kept []string
		for _, c := range strings.Fields(attr(n, "class")) {
			if c != class {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			removeAttr(n, "class")
			continue
		}
		setAttr(n, "class", strings.Join(kept, " "))
	}
	delete(b.pending, regionID)
}

// Pending reports whether the region has interactions in flight
func (b *Binder) Pending(regionID string) bool {
	return len(b.pending[regionID]) > 0
}
