package main

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/livefir/liveregion"
)

type signup struct {
	Name  string `json:"name" validate:"max=64"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

type formState struct {
	Name             string            `json:"name"`
	Email            string            `json:"email"`
	Phone            string            `json:"phone"`
	ValidationErrors map[string]string `json:"validationErrors"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// registerForm validates the sign up form on every change. The listener is
// attached per connection once the region is mirrored.
func registerForm(s *liveregion.Server, validate *validator.Validate) {
	s.Gateway("form").OnLifecycle(liveregion.Ready, func(c *liveregion.Client, _ *liveregion.Message) error {
		c.On("formChange", func(c *liveregion.Client, m *liveregion.Message) error {
			return validateSignup(c, m, validate)
		})
		return nil
	})
}

func validateSignup(c *liveregion.Client, m *liveregion.Message, validate *validator.Validate) error {
	var in signup
	err := m.BindAndValidate(&in, validate)

	var fieldErrs liveregion.MultiError
	if err != nil && !errors.As(err, &fieldErrs) {
		return err
	}

	return c.Push(formState{
		Name:             in.Name,
		Email:            in.Email,
		Phone:            in.Phone,
		ValidationErrors: fieldErrs.Map(),
	})
}
