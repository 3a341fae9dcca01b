package analyzer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a binary could not be decoded.
type ErrorKind string

const (
	KindInvalidMagic       ErrorKind = "invalid_magic"
	KindUnsupportedVersion ErrorKind = "unsupported_version"
	KindTruncatedSection   ErrorKind = "truncated_section"
	KindUnresolvedImport   ErrorKind = "unresolved_import"
	KindMalformedSection   ErrorKind = "malformed_section"
	KindOversized          ErrorKind = "oversized"
	KindTimeout            ErrorKind = "timeout"
)

// DecodeError is returned for every analysis failure. Offset is the byte
// position in the outermost binary where the problem was detected, or -1
// when it does not apply.
type DecodeError struct {
	Kind    ErrorKind
	Offset  int
	Message string
	Cause   error
}

func (e *DecodeError) Error() string {
	msg := string(e.Kind)
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// KindOf returns the ErrorKind carried by err, or "" if err is not a DecodeError.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func newError(kind ErrorKind, offset int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Message: fmt.Sprintf(format, args...)}
}
