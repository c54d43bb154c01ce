package sdk

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies adapter failures into the engine's error taxonomy.
type Code string

const (
	CodeNotInitialized      Code = "NotInitialized"
	CodePermissionDenied    Code = "PermissionDenied"
	CodeLocationUnavailable Code = "LocationUnavailable"
	CodeTimeout             Code = "Timeout"
	CodeServiceUnavailable  Code = "ServiceUnavailable"
	CodeConfigurationError  Code = "ConfigurationError"
)

// Error is a classified adapter failure. The wrapped error preserves the
// raw driver diagnostic.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error with no underlying cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// IsCode reports whether err carries the given classification.
func IsCode(err error, code Code) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code == code
	}
	return false
}

// UserMessage renders a classified error as a human-readable message
// suitable for surfacing in the UI.
func UserMessage(err error) string {
	var classified *Error
	if !errors.As(err, &classified) {
		return "Location tracking failed. Please try again."
	}

	switch classified.Code {
	case CodeNotInitialized:
		return "Location services are not ready yet."
	case CodePermissionDenied:
		return "Location permission was denied. Enable it to track your journey."
	case CodeLocationUnavailable:
		return "Could not determine your location. Check your signal and try again."
	case CodeTimeout:
		return "Locating you took too long. Trying again shortly."
	case CodeServiceUnavailable:
		return "Location service is temporarily unavailable."
	case CodeConfigurationError:
		return "Location service is misconfigured. Contact support."
	default:
		return "Location tracking failed. Please try again."
	}
}

// Classify normalizes driver failures into the adapter's taxonomy. Errors
// already classified pass through unchanged.
func Classify(err error, fallback Code, message string) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: message, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeTimeout, Message: message, Err: err}
	}

	return &Error{Code: fallback, Message: message, Err: err}
}
