package diff

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind is the operation code of one edit-script element. The numeric values are
// part of the wire format.
type Kind int8

const (
	Delete Kind = -1
	Equal  Kind = 0
	Insert Kind = 1
)

func (k Kind) String() string {
	switch k {
	case Delete:
		return "delete"
	case Equal:
		return "equal"
	case Insert:
		return "insert"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// Op is a single edit-script element. Insert carries its literal Text, Equal and
// Delete carry a Count of characters (Unicode code points) so their size on the
// wire does not depend on the span they cover.
type Op struct {
	Kind  Kind
	Text  string
	Count int
}

// Script is an ordered edit script transforming one source string into another.
type Script []Op

// InsertOp, EqualOp and DeleteOp build script elements.
func InsertOp(text string) Op { return Op{Kind: Insert, Text: text} }
func EqualOp(n int) Op        { return Op{Kind: Equal, Count: n} }
func DeleteOp(n int) Op       { return Op{Kind: Delete, Count: n} }

// tuple returns the compact [kind, payload] form used by every codec.
func (o Op) tuple() []interface{} {
	if o.Kind == Insert {
		return []interface{}{int(o.Kind), o.Text}
	}
	return []interface{}{int(o.Kind), o.Count}
}

// MarshalJSON encodes the op as [1,"text"], [0,n] or [-1,n].
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.tuple())
}

// UnmarshalJSON decodes the compact tuple form.
func (o *Op) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("edit op: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("edit op: want 2 elements, got %d", len(parts))
	}
	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("edit op kind: %w", err)
	}
	o.Kind = Kind(kind)
	switch o.Kind {
	case Insert:
		return json.Unmarshal(parts[1], &o.Text)
	case Equal, Delete:
		return json.Unmarshal(parts[1], &o.Count)
	}
	return fmt.Errorf("edit op: unknown kind %d", kind)
}

// MarshalCBOR encodes the op with the same tuple layout as JSON.
func (o Op) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(o.tuple())
}

// UnmarshalCBOR decodes the compact tuple form.
func (o *Op) UnmarshalCBOR(data []byte) error {
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("edit op: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("edit op: want 2 elements, got %d", len(parts))
	}
	var kind int
	if err := cbor.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("edit op kind: %w", err)
	}
	o.Kind = Kind(kind)
	switch o.Kind {
	case Insert:
		return cbor.Unmarshal(parts[1], &o.Text)
	case Equal, Delete:
		return cbor.Unmarshal(parts[1], &o.Count)
	}
	return fmt.Errorf("edit op: unknown kind %d", kind)
}

// InsertedBytes is the size of the literal payload the script carries.
func (s Script) InsertedBytes() int {
	n := 0
	for _, op := range s {
		if op.Kind == Insert {
			n += len(op.Text)
		}
	}
	return n
}
