// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Chatgate Contributors

package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chatgate/chatgate/internal/facade"
)

// Validator adapts go-playground/validator to echo.Validator. Field names
// in errors are the JSON names of the request.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate implements echo.Validator. Failures are INVALID_REQUEST errors
// naming the first offending field.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	message := "Invalid request"
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			message = fe.Field() + " is required"
		} else {
			message = "Invalid " + fe.Field()
		}
	}
	return &facade.Error{Code: facade.CodeInvalidRequest, Message: message, Status: http.StatusBadRequest}
}
