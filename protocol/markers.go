package protocol

import (
	"regexp"
	"strings"
)

// BoundaryKind tells whether a marker opens or closes a region.
type BoundaryKind int

const (
	Begin BoundaryKind = iota + 1
	End
)

func (k BoundaryKind) String() string {
	switch k {
	case Begin:
		return "begin"
	case End:
		return "end"
	}
	return "unknown"
}

// Boundary is one region marker in an ordered node stream.
type Boundary struct {
	Kind BoundaryKind
	ID   string
}

const (
	beginPrefix = "live-begin: "
	endPrefix   = "live-end: "
)

var (
	beginPattern = regexp.MustCompile(`^\s*live-begin: (\S+)\s*$`)
	endPattern   = regexp.MustCompile(`^\s*live-end: (\S+)\s*$`)
)

// BeginMarker returns the comment text that opens region id.
func BeginMarker(id string) string { return beginPrefix + id }

// EndMarker returns the comment text that closes region id.
func EndMarker(id string) string { return endPrefix + id }

// BeginComment and EndComment return the markers as HTML comments.
func BeginComment(id string) string { return "<!--" + BeginMarker(id) + "-->" }
func EndComment(id string) string   { return "<!--" + EndMarker(id) + "-->" }

// ParseBoundary recognizes marker text (the comment body, without <!-- -->).
func ParseBoundary(text string) (Boundary, bool) {
	if !strings.Contains(text, "live-") {
		return Boundary{}, false
	}
	if m := beginPattern.FindStringSubmatch(text); m != nil {
		return Boundary{Kind: Begin, ID: m[1]}, true
	}
	if m := endPattern.FindStringSubmatch(text); m != nil {
		return Boundary{Kind: End, ID: m[1]}, true
	}
	return Boundary{}, false
}
