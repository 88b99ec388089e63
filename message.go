package liveregion

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/livefir/liveregion/protocol"
)

// Message is what a handler receives: the event, the element that triggered it
// and the region's template state at the time of dispatch.
type Message struct {
	Event    string
	RegionID string
	Sender   protocol.ElementInfo
	// Form is set for form change events
	Form *protocol.FormInfo

	State   json.RawMessage
	Version int64

	formBytes []byte // cached JSON of Form.Data for binding
}

// Bind unmarshals the region's template state into v
func (m *Message) Bind(v interface{}) error {
	if len(m.State) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.State, v); err != nil {
		return fmt.Errorf("failed to bind state of %s: %w", m.RegionID, err)
	}
	return nil
}

// BindForm unmarshals the submitted form fields into v. Repeated fields arrive
// as string slices.
func (m *Message) BindForm(v interface{}) error {
	if m.Form == nil {
		return fmt.Errorf("event %s carries no form data", m.Event)
	}
	if m.formBytes == nil {
		var err error
		m.formBytes, err = json.Marshal(m.Form.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal form data: %w", err)
		}
	}
	return json.Unmarshal(m.formBytes, v)
}

// BindAndValidate binds form data to struct and validates it in one step
func (m *Message) BindAndValidate(v interface{}, validate *validator.Validate) error {
	if err := m.BindForm(v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return ValidationToMultiError(err)
	}
	return nil
}

// GetString extracts a form field; for repeated fields the first value
func (m *Message) GetString(key string) string {
	switch v := m.field(key).(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case []interface{}:
		if len(v) > 0 {
			s, _ := v[0].(string)
			return s
		}
	}
	return ""
}

// GetStrings extracts all values of a form field
func (m *Message) GetStrings(key string) []string {
	switch v := m.field(key).(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// Has checks if a form field was submitted
func (m *Message) Has(key string) bool {
	if m.Form == nil {
		return false
	}
	_, exists := m.Form.Data[key]
	return exists
}

// Data returns a data attribute of the sender, keyed as in the DOM dataset
// ("itemId" for data-item-id)
func (m *Message) Data(key string) string {
	return m.Sender.Dataset[key]
}

func (m *Message) field(key string) interface{} {
	if m.Form == nil {
		return nil
	}
	return m.Form.Data[key]
}
