/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and carries a business code, a user-facing message, an HTTP status code for relay responses,
and an optional underlying cause.
*/
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sigchat/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the standard HTTP status code corresponding to this error.
	Status int

	// Cause is the wrapped lower-level error, if any.
	Cause error
}

// Error implements the standard Go error interface.
func (e CustomError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Error Code %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("Error Code %d: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e CustomError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a CustomError with the same code.
func (e CustomError) Is(target error) bool {
	var t *CustomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// NewError constructs and returns a new *CustomError instance based on a predefined error code.
// The optional details parameter supplies printf-style arguments for the message template.
// If an unknown code is provided, it defaults to returning ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &CustomError{
			Code:    unknownErr.Code,
			Message: unknownErr.Message,
			Status:  unknownErr.Status,
		}
	}

	customErr := templateErr

	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn(
				"Details provided for error, but message template has no formatting placeholders. Details ignored.",
				"code", code,
			)
		}
	}

	return &customErr
}

// Wrap builds the error for code and attaches cause as its underlying error.
func Wrap(code int, cause error, details ...any) *CustomError {
	customErr := NewError(code, details...)
	customErr.Cause = cause
	return customErr
}

// HasCode reports whether any error in err's chain is a CustomError with the given code.
func HasCode(err error, code int) bool {
	var customErr *CustomError
	for err != nil {
		if errors.As(err, &customErr) {
			if customErr.Code == code {
				return true
			}
			err = customErr.Cause
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the code of the first CustomError in err's chain, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}
