package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeFileSystem ErrorType = "filesystem"
	ErrorTypeAnalysis   ErrorType = "analysis"
	ErrorTypeRegistry   ErrorType = "registry"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// WatchError is a structured error type with context.
type WatchError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *WatchError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *WatchError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *WatchError) Is(target error) bool {
	var t *WatchError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *WatchError) WithContext(key string, value interface{}) *WatchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath adds file location information.
func (e *WatchError) WithPath(path string) *WatchError {
	e.Path = path

	return e
}

// WithComponent adds component context.
func (e *WatchError) WithComponent(component string) *WatchError {
	e.Component = component

	return e
}

// Error creation functions

// NewConfigError creates a configuration error. Configuration errors are
// fatal at startup.
func NewConfigError(code, message string, cause error) *WatchError {
	return &WatchError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewFileSystemError creates an error for I/O or permission trouble on a
// single path. They never stop watching of other paths.
func NewFileSystemError(path string, cause error) *WatchError {
	code := ErrCodeFileSystem
	switch {
	case errors.Is(cause, ErrNotExist):
		code = ErrCodeFileNotFound
	case errors.Is(cause, ErrPermission):
		code = ErrCodePermissionDenied
	}

	return &WatchError{
		Type:        ErrorTypeFileSystem,
		Code:        code,
		Message:     "file access failed",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewAnalysisError creates a decode failure error.
func NewAnalysisError(code, message string, cause error) *WatchError {
	return &WatchError{
		Type:        ErrorTypeAnalysis,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRegistryError creates a registry error.
func NewRegistryError(code, message string) *WatchError {
	return &WatchError{
		Type:        ErrorTypeRegistry,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewTransportError creates an error raised by an outer surface.
func NewTransportError(code, message string, cause error) *WatchError {
	return &WatchError{
		Type:        ErrorTypeTransport,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *WatchError {
	return &WatchError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *WatchError {
	return &WatchError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var we *WatchError
	if errors.As(err, &we) {
		return we.Recoverable
	}

	return false
}

// IsType reports whether err is a WatchError of type t.
func IsType(err error, t ErrorType) bool {
	var we *WatchError
	if errors.As(err, &we) {
		return we.Type == t
	}

	return false
}

// IsNotFound reports whether err means a component or file is missing.
func IsNotFound(err error) bool {
	var we *WatchError
	if errors.As(err, &we) {
		return we.Code == ErrCodeComponentNotFound || we.Code == ErrCodeFileNotFound
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var we *WatchError
	if !errors.As(err, &we) {
		h.logger.Error(ctx, err, "Unhandled error occurred")

		return
	}

	switch {
	case IsRecoverable(err):
		h.logger.Warn(ctx, err, "Recoverable error occurred",
			"type", we.Type,
			"code", we.Code,
			"component", we.Component,
			"path", we.Path)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", we.Type,
			"code", we.Code,
			"component", we.Component)
	}
}

// Common error codes.
const (
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeConfigLoad         = "ERR_CONFIG_LOAD"
	ErrCodeWatchRoot          = "ERR_WATCH_ROOT"
	ErrCodeFileSystem         = "ERR_FILESYSTEM"
	ErrCodeFileNotFound       = "ERR_FILE_NOT_FOUND"
	ErrCodePermissionDenied   = "ERR_PERMISSION_DENIED"
	ErrCodeComponentNotFound  = "ERR_COMPONENT_NOT_FOUND"
	ErrCodeInvalidTransition  = "ERR_INVALID_TRANSITION"
	ErrCodeInvalidName        = "ERR_INVALID_NAME"
	ErrCodeWatcherClosed      = "ERR_WATCHER_CLOSED"
	ErrCodeListen             = "ERR_LISTEN"
	ErrCodeInvalidOrigin      = "ERR_INVALID_ORIGIN"
	ErrCodeInternalError      = "ERR_INTERNAL"
	ErrCodeValidationFailed   = "ERR_VALIDATION_FAILED"
	ErrCodeDecodeFailed       = "ERR_DECODE_FAILED"
	ErrCodePathOutsideRoot    = "ERR_PATH_OUTSIDE_ROOT"
)

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
	Suggestions() []string
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
	HelpText     []string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// Suggestions returns helpful suggestions for fixing the error.
func (fve *FieldValidationError) Suggestions() []string {
	return fve.HelpText
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
		HelpText:     suggestions,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// Add adds a validation error to the collection.
func (vec *ValidationErrorCollection) Add(err ValidationError) {
	vec.Errors = append(vec.Errors, err)
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) {
	vec.Add(NewFieldValidationError(field, value, message, suggestions...))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToWatchError converts the validation collection to a config WatchError.
func (vec *ValidationErrorCollection) ToWatchError() *WatchError {
	if !vec.HasErrors() {
		return nil
	}

	var messages []string
	context := make(map[string]interface{})

	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
		context[err.Field()] = map[string]interface{}{
			"value":       err.Value(),
			"suggestions": err.Suggestions(),
		}
	}

	return &WatchError{
		Type:        ErrorTypeConfig,
		Code:        ErrCodeConfigInvalid,
		Message:     strings.Join(messages, "; "),
		Context:     context,
		Recoverable: false,
	}
}

// Helper functions for common errors

// ErrComponentNotFound creates a component not found error.
func ErrComponentNotFound(name string) *WatchError {
	return NewRegistryError(
		ErrCodeComponentNotFound,
		"component not found: "+name,
	).WithComponent(name)
}

// ErrInvalidTransition reports a forbidden lifecycle state change.
func ErrInvalidTransition(name, from, to string) *WatchError {
	return NewRegistryError(
		ErrCodeInvalidTransition,
		fmt.Sprintf("invalid state transition %q -> %q", from, to),
	).WithComponent(name)
}

// ErrWatcherClosed is returned by operations on a closed watcher.
func ErrWatcherClosed() *WatchError {
	return NewInternalError(ErrCodeWatcherClosed, "watcher is closed", nil)
}

// ErrInvalidOrigin creates an invalid origin error for the stream endpoint.
func ErrInvalidOrigin(origin string) *WatchError {
	return NewTransportError(ErrCodeInvalidOrigin, "invalid origin: "+origin, nil)
}
