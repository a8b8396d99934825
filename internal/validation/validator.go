// Osusume - MyAnimeList Hybrid Recommendation Service
// Copyright 2026 Yukari N. (yukarin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/yukarin/osusume

// Package validation provides struct validation using go-playground/validator
// v10 behind a thread-safe singleton, with custom tags for this service:
//
//   - itemtype: "anime" or "manga"
//   - recmode: "new" or "rewatch"
//   - sharecode: 8-character share code over the unambiguous alphabet
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// shareCodeAlphabet excludes visually ambiguous characters (0/O, 1/l/I).
const shareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

// ShareCodeLength is the fixed length of share codes.
const ShareCodeLength = 8

// ValidationError is a single field validation failure.
type ValidationError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string { return e.tag }

// Param returns the parameter of the failing tag (e.g. "10" for "max=10").
func (e *ValidationError) Param() string { return e.param }

// Error returns a human-readable message.
func (e *ValidationError) Error() string { return e.message }

// RequestValidationError aggregates field failures for one struct.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []ValidationError { return ve.errors }

// Error implements the error interface.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(ve.errors))
	for i, err := range ve.errors {
		messages[i] = err.Error()
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the singleton validator, registering custom tags
// on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration errors only occur for empty tag names; safe to ignore.
		_ = validate.RegisterValidation("itemtype", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return v == "anime" || v == "manga"
		})
		_ = validate.RegisterValidation("recmode", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return v == "new" || v == "rewatch"
		})
		_ = validate.RegisterValidation("sharecode", func(fl validator.FieldLevel) bool {
			return IsShareCode(fl.Field().String())
		})
	})
	return validate
}

// IsShareCode reports whether s is a well-formed share code.
func IsShareCode(s string) bool {
	if len(s) != ShareCodeLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(shareCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// ShareCodeAlphabet returns the share-code alphabet.
func ShareCodeAlphabet() string { return shareCodeAlphabet }

// ValidateStruct validates s with the singleton validator. Returns nil
// on success.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []ValidationError{{field: "unknown", tag: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fieldErr.Field(),
			tag:     fieldErr.Tag(),
			param:   fieldErr.Param(),
			message: fmt.Sprintf("%s failed validation on '%s'", fieldErr.Field(), fieldErr.Tag()),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}
