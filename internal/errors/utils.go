package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinels re-exported so callers need not import io/fs next to this package.
var (
	ErrNotExist   = fs.ErrNotExist
	ErrPermission = fs.ErrPermission
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Wrap wraps an error with additional context, creating a WatchError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *WatchError {
	if err == nil {
		return nil
	}

	var we *WatchError
	if errors.As(err, &we) {
		return &WatchError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       we,
			Context:     we.Context,
			Component:   we.Component,
			Path:        we.Path,
			Recoverable: we.Recoverable,
		}
	}

	return &WatchError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType != ErrorTypeConfig && errType != ErrorTypeInternal,
	}
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *WatchError {
	we := Wrap(err, ErrorTypeConfig, code, message)
	if we != nil {
		we.Recoverable = false
	}
	return we
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *WatchError {
	we := Wrap(err, ErrorTypeInternal, code, message)
	if we != nil {
		we.Recoverable = false
	}
	return we
}

// FormatErrorWithSuggestions formats an error with suggestions for ValidationError types
func FormatErrorWithSuggestions(err error) string {
	if err == nil {
		return ""
	}

	var ve ValidationError
	if errors.As(err, &ve) {
		result := ve.Error()
		suggestions := ve.Suggestions()
		if len(suggestions) > 0 {
			result += "\n\nSuggestions:"
			for _, suggestion := range suggestions {
				result += fmt.Sprintf("\n  • %s", suggestion)
			}
		}
		return result
	}

	return err.Error()
}

// GetErrorContext extracts context information from a WatchError
func GetErrorContext(err error) map[string]interface{} {
	var we *WatchError
	if errors.As(err, &we) {
		context := make(map[string]interface{})
		for k, v := range we.Context {
			context[k] = v
		}
		if we.Component != "" {
			context["component"] = we.Component
		}
		if we.Path != "" {
			context["path"] = we.Path
		}
		context["type"] = string(we.Type)
		context["code"] = we.Code
		context["recoverable"] = we.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// ExtractCause extracts the root cause from a wrapped error
func ExtractCause(err error) error {
	for err != nil {
		var we *WatchError
		if !errors.As(err, &we) {
			return err
		}
		if we.Cause == nil {
			return we
		}
		err = we.Cause
	}
	return nil
}

// CombineErrors joins the non-nil errors. It returns nil when there are none
// and the error itself when there is exactly one.
func CombineErrors(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	return errors.Join(nonNil...)
}
