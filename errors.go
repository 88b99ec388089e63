package liveregion

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/livefir/liveregion/internal/memory"
	"github.com/livefir/liveregion/internal/region"
)

var (
	// ErrReservedEvent is the panic value of Gateway.On for lifecycle event names.
	ErrReservedEvent = errors.New("reserved event name")

	// ErrConflict is returned by Client.Push when another update of the region
	// committed after the handler observed its state.
	ErrConflict = region.ErrConflict

	// ErrUnknownRegion is returned for region ids the session does not hold.
	ErrUnknownRegion = region.ErrUnknownRegion

	// ErrRender is returned when a region template fails; nothing is pushed.
	ErrRender = region.ErrRender

	// ErrBudgetExceeded is returned when a session would hold more region source
	// than its budget allows.
	ErrBudgetExceeded = memory.ErrBudgetExceeded

	// ErrClosed is returned by Client operations after the connection closed.
	ErrClosed = errors.New("connection closed")
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewFieldError creates a field-specific error
func NewFieldError(field string, err error) FieldError {
	return FieldError{Field: field, Message: err.Error()}
}

// MultiError is a collection of field errors (implements error interface)
type MultiError []FieldError

func (m MultiError) Error() string {
	if len(m) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range m {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Map returns the messages keyed by field, ready to be pushed as template state
func (m MultiError) Map() map[string]string {
	result := make(map[string]string, len(m))
	for _, err := range m {
		if _, exists := result[err.Field]; !exists {
			result[err.Field] = err.Message
		}
	}
	return result
}

// Fields returns the failing field names in sorted order
func (m MultiError) Fields() []string {
	fields := make([]string, 0, len(m))
	for field := range m.Map() {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// ValidationToMultiError converts go-playground/validator errors to MultiError
func ValidationToMultiError(err error) MultiError {
	var fieldErrors MultiError

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fieldErrors
	}

	for _, e := range validationErrs {
		fieldName := strings.ToLower(e.Field())

		var message string
		switch e.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", e.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters", e.Field(), e.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
		case "email":
			message = fmt.Sprintf("%s must be a valid email", e.Field())
		case "e164":
			message = fmt.Sprintf("%s must be a phone number in international format", e.Field())
		default:
			message = fmt.Sprintf("%s is invalid", e.Field())
		}

		fieldErrors = append(fieldErrors, FieldError{
			Field:   fieldName,
			Message: message,
		})
	}

	return fieldErrors
}
