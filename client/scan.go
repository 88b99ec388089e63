package client

import (
	"github.com/golang/glog"
	"golang.org/x/net/html"

	"github.com/livefir/liveregion/protocol"
)

// Region is the node range between a pair of sibling markers. Begin and End
// are the marker comments; the range excludes them.
type Region struct {
	ID    string
	Begin *html.Node
	End   *html.Node
}

// Nodes returns the nodes strictly between the markers
func (r *Region) Nodes() []*html.Node {
	var nodes []*html.Node
	for n := r.Begin.NextSibling; n != nil && n != r.End; n = n.NextSibling {
		nodes = append(nodes, n)
	}
	return nodes
}

// HTML renders the region's current markup
func (r *Region) HTML() string {
	var out []byte
	for _, n := range r.Nodes() {
		out = append(out, renderNode(n)...)
	}
	return string(out)
}

// Contains reports whether n lies inside the range
func (r *Region) Contains(n *html.Node) bool {
	parent := r.Begin.Parent
	for c := n; c != nil; c = c.Parent {
		if c.Parent != parent {
			continue
		}
		for s := r.Begin.NextSibling; s != nil && s != r.End; s = s.NextSibling {
			if s == c {
				return true
			}
		}
		return false
	}
	return false
}

// Scan collects the regions below root in document order. An END that does not
// close the open BEGIN with the same id under the same parent drops the region
// and is logged. A BEGIN while another region is open drops the open one: regions
// do not nest.
func Scan(root *html.Node) []*Region {
	var (
		regions []*Region
		open    *Region
	)
	walk(root, func(n *html.Node) bool {
		if n.Type != html.CommentNode {
			return true
		}
		b, ok := protocol.ParseBoundary(n.Data)
		if !ok {
			return true
		}

		switch b.Kind {
		case protocol.Begin:
			if open != nil {
				glog.Warningf("region %s: nested begin of %s, dropping %s", open.ID, b.ID, open.ID)
			}
			open = &Region{ID: b.ID, Begin: n}

		case protocol.End:
			switch {
			case open == nil:
				glog.Warningf("region %s: end without begin", b.ID)
			case open.ID != b.ID:
				glog.Warningf("region %s: closed by end of %s, dropping", open.ID, b.ID)
			case open.Begin.Parent != n.Parent:
				glog.Warningf("region %s: markers are not siblings, dropping", open.ID)
			default:
				open.End = n
				regions = append(regions, open)
			}
			open = nil
		}
		return true
	})
	if open != nil {
		glog.Warningf("region %s: begin without end", open.ID)
	}
	return regions
}

// Owner returns the region whose range contains n
func Owner(regions []*Region, n *html.Node) *Region {
	for _, r := range regions {
		if r.Contains(n) {
			return r
		}
	}
	return nil
}
