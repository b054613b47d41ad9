package memorybank

import (
	stderrors "errors"

	"github.com/rohankatakam/memorybank/internal/errors"
)

// Result is the uniform envelope every tool call returns. Errors never cross
// the tool boundary raw; they are flattened here to kind, message, details.
type Result struct {
	OK           bool         `json:"ok"`
	Data         any          `json:"data,omitempty"`
	Error        *ResultError `json:"error,omitempty"`
	ActiveBranch string       `json:"active_branch"`
}

// ResultError is the serialized form of a classified error.
type ResultError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope wraps an operation outcome. Exactly one of Data and Error is set;
// ActiveBranch is always reported so agents can tell which branch the call
// landed on.
func (b *Bank) Envelope(data any, err error) Result {
	res := Result{ActiveBranch: b.backend.ActiveBranch()}
	if err != nil {
		res.Error = Describe(err)
		return res
	}
	res.OK = true
	res.Data = data
	return res
}

// Describe flattens any error into the envelope form. Unclassified errors
// surface as Fatal with their full message.
func Describe(err error) *ResultError {
	msg := err.Error()
	var e *errors.Error
	if stderrors.As(err, &e) {
		msg = e.Message
	}
	return &ResultError{
		Kind:    string(errors.KindOf(err)),
		Message: msg,
		Details: errors.DetailsOf(err),
	}
}
