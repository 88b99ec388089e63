// Package diff computes and replays compact edit scripts between two source strings.
//
// Scripts are produced from a longest-common-subsequence text diff and collapse equal
// and deleted spans into character counts, so only inserted text travels literally.
// Counts are in Unicode code points; sources are expected to be valid UTF-8, and
// invalid bytes come back from Apply as U+FFFD.
package diff

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrMalformedScript is returned when a script does not fit the text it is applied to.
var ErrMalformedScript = errors.New("malformed edit script")

// DefaultTimeout bounds the time spent searching for a minimal script. When it is hit
// the script is still correct, just not minimal.
const DefaultTimeout = time.Second

// Differ produces edit scripts.
type Differ struct {
	Timeout time.Duration
}

// NewDiffer creates a Differ with the default timeout
func NewDiffer() *Differ {
	return &Differ{Timeout: DefaultTimeout}
}

var defaultDiffer = NewDiffer()

// Diff computes the script turning oldText into newText using the default Differ.
func Diff(oldText, newText string) Script {
	return defaultDiffer.Diff(oldText, newText)
}

// Diff computes the script turning oldText into newText. Identical inputs yield an
// empty script.
func (d *Differ) Diff(oldText, newText string) Script {
	script := Script{}
	if oldText == newText {
		return script
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = d.Timeout
	for _, part := range dmp.DiffMain(oldText, newText, false) {
		var op Op
		switch part.Type {
		case diffmatchpatch.DiffInsert:
			if part.Text == "" {
				continue
			}
			op = InsertOp(part.Text)
		case diffmatchpatch.DiffEqual:
			n := utf8.RuneCountInString(part.Text)
			if n == 0 {
				continue
			}
			op = EqualOp(n)
		case diffmatchpatch.DiffDelete:
			n := utf8.RuneCountInString(part.Text)
			if n == 0 {
				continue
			}
			op = DeleteOp(n)
		}
		script = appendOp(script, op)
	}
	return script
}

// appendOp adds op to the script, merging it into the previous element when both
// have the same kind.
func appendOp(script Script, op Op) Script {
	if n := len(script); n > 0 && script[n-1].Kind == op.Kind {
		last := &script[n-1]
		if op.Kind == Insert {
			last.Text += op.Text
		} else {
			last.Count += op.Count
		}
		return script
	}
	return append(script, op)
}

// Apply replays script against oldText. An empty script leaves the text unchanged.
// A non-empty script must consume oldText exactly; running past its end or leaving
// an unconsumed tail returns ErrMalformedScript instead of a truncated result.
func Apply(oldText string, script Script) (string, error) {
	if len(script) == 0 {
		return oldText, nil
	}

	runes := []rune(oldText)
	cursor := 0
	var out strings.Builder
	out.Grow(len(oldText) + script.InsertedBytes())

	for i, op := range script {
		switch op.Kind {
		case Insert:
			out.WriteString(op.Text)
		case Equal, Delete:
			if op.Count < 0 || cursor+op.Count > len(runes) {
				return "", fmt.Errorf("%w: op %d (%s %d) runs past end of text at %d/%d",
					ErrMalformedScript, i, op.Kind, op.Count, cursor, len(runes))
			}
			if op.Kind == Equal {
				out.WriteString(string(runes[cursor : cursor+op.Count]))
			}
			cursor += op.Count
		default:
			return "", fmt.Errorf("%w: op %d has unknown kind %d", ErrMalformedScript, i, op.Kind)
		}
	}

	if cursor != len(runes) {
		return "", fmt.Errorf("%w: %d characters left unconsumed", ErrMalformedScript, len(runes)-cursor)
	}
	return out.String(), nil
}
