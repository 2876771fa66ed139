// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types shared by the protocol engine, the shard dispatcher
// and the completion substrate.

package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrNotSupported    = fmt.Errorf("operation not supported")
	ErrRingClosed      = fmt.Errorf("completion ring is closed")
)

// ErrorCode classifies connection-local protocol failures.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidMethod
	ErrCodeInvalidPath
	ErrCodeInvalidVersion
	ErrCodeInvalidValue
	ErrCodeMissingHeader
	ErrCodeParse
	ErrCodeReservedBitsNotZero
	ErrCodeInvalidOpcode
	ErrCodeUnmaskedFrame
	ErrCodeMessageTooBig
	ErrCodeNotReadable
	ErrCodeUnknown
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                  "ok",
	ErrCodeInvalidMethod:       "invalid_method",
	ErrCodeInvalidPath:         "invalid_path",
	ErrCodeInvalidVersion:      "invalid_version",
	ErrCodeInvalidValue:        "invalid_value",
	ErrCodeMissingHeader:       "missing_header",
	ErrCodeParse:               "parse_error",
	ErrCodeReservedBitsNotZero: "reserved_bits_not_zero",
	ErrCodeInvalidOpcode:       "invalid_opcode",
	ErrCodeUnmaskedFrame:       "unmasked_frame",
	ErrCodeMessageTooBig:       "message_too_big",
	ErrCodeNotReadable:         "not_readable",
	ErrCodeUnknown:             "unknown",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return codeNames[ErrCodeUnknown]
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error carrying the same code.
// Sentinel errors are compared by code only, so context never defeats errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithContext returns a copy of e with the key/value added.
// The receiver is left untouched so package-level sentinels stay immutable.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// CodeOf extracts the ErrorCode of err, or ErrCodeUnknown when err is not an *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeUnknown
}
