package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Wait budgets outside this range are rejected; zero selects the default.
const (
	minWaitSeconds = 5
	maxWaitSeconds = 60
)

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks req's validate tags and renders the first
// failure as a client-facing message.
func (s *Server) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("invalid request: %w", err)
	}
	return errors.New(fieldMessage(fieldErrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "http_url", "url":
		return fmt.Sprintf("%s: invalid url %q", field, fmt.Sprint(fe.Value()))
	case "min", "max":
		if field == "wait_time" {
			return fmt.Sprintf("wait_time must be between %d and %d seconds", minWaitSeconds, maxWaitSeconds)
		}
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	case "gte":
		return field + " must not be negative"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
