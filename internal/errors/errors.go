// Package errors defines the memorybank error taxonomy.
//
// Every error that crosses a layer boundary carries a Kind. The tool surface
// serializes kinds verbatim into its error envelope, so the set below is part
// of the public API and must stay stable.
package errors

import (
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Kind classifies an error for retry policy and for the tool-call envelope.
type Kind string

const (
	KindValidation         Kind = "Validation"
	KindNotFound           Kind = "NotFound"
	KindDuplicate          Kind = "Duplicate"
	KindCycleDetected      Kind = "CycleDetected"
	KindSchemaConflict     Kind = "SchemaConflict"
	KindUnknownType        Kind = "UnknownType"
	KindNamespaceMissing   Kind = "NamespaceMissing"
	KindProtectedBranch    Kind = "ProtectedBranch"
	KindBranchContextLost  Kind = "BranchContextLost"
	KindConnectionError    Kind = "ConnectionError"
	KindOptimisticConflict Kind = "OptimisticConflict"
	KindNoInverseRelation  Kind = "NoInverseRelation"
	KindIndexSyncFailed    Kind = "IndexSyncFailed"
	KindCommitFailed       Kind = "CommitFailed"
	KindInvalidCursor      Kind = "InvalidCursor"
	KindFatal              Kind = "Fatal"
)

// Error is a classified error with structured details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use errors.Is with a bare kinded error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value pair for the tool-call error envelope.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil when err is nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf classifies an existing error with formatting. Returns nil when err is nil.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf walks the unwrap chain and returns the first Kind found.
// Unclassified errors report KindFatal: an error that reached a boundary
// without classification is a bug, and Fatal is the conservative answer.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if IsConnectionError(err) {
		return KindConnectionError
	}
	return KindFatal
}

// HasKind reports whether err (or any wrapped cause) carries the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// DetailsOf returns the details map of the first classified error in the
// chain, or nil.
func DetailsOf(err error) map[string]any {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsRetryable reports whether the coordinator may retry the operation once.
// Only connection failures qualify; everything else is terminal for the call.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConnectionError
}

// connectionPatterns are the well-known substrings of driver and server
// messages that indicate a dead or dying connection. The MySQL driver's
// ErrInvalidConn ("invalid connection") and the server's 2006/2013 texts
// ("gone away", "lost connection") are matched here so the package stays
// free of driver imports.
var connectionPatterns = []string{
	"invalid connection",
	"bad connection",
	"connection refused",
	"connection reset",
	"broken pipe",
	"server has gone away",
	"lost connection",
	"connection closed",
	"use of closed network connection",
	"i/o timeout",
	"unexpected eof",
}

// IsConnectionError reports whether err looks like a broken backend
// connection: a net.Error, driver.ErrBadConn, io.EOF, an already-classified
// KindConnectionError, or any of the well-known message patterns.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) && e.Kind == KindConnectionError {
		return true
	}
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connectionPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
