package errors

import (
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(KindNotFound, "block missing"), KindNotFound},
		{"wrapped once", fmt.Errorf("outer: %w", New(KindProtectedBranch, "main is protected")), KindProtectedBranch},
		{"wrapped twice", fmt.Errorf("a: %w", fmt.Errorf("b: %w", New(KindCycleDetected, "cycle"))), KindCycleDetected},
		{"bad conn classifies as connection", driver.ErrBadConn, KindConnectionError},
		{"plain error is fatal", stderrors.New("boom"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMatchesOnKind(t *testing.T) {
	err := Wrapf(stderrors.New("1062"), KindDuplicate, "link already exists")
	if !stderrors.Is(err, New(KindDuplicate, "")) {
		t.Error("expected errors.Is to match on kind")
	}
	if stderrors.Is(err, New(KindNotFound, "")) {
		t.Error("kinds should not cross-match")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindProtectedBranch, "cannot write to protected branch").
		WithDetail("branch", "main")
	details := DetailsOf(err)
	if details["branch"] != "main" {
		t.Errorf("expected branch detail, got %v", details)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, KindFatal, "nope") != nil {
		t.Error("Wrap(nil) must return nil")
	}
	if Wrapf(nil, KindFatal, "nope %d", 1) != nil {
		t.Error("Wrapf(nil) must return nil")
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial tcp: no route" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"driver bad conn", driver.ErrBadConn, true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"net error", fakeNetErr{}, true},
		{"invalid connection text", stderrors.New("invalid connection"), true},
		{"gone away text", stderrors.New("Error 2006: MySQL server has gone away"), true},
		{"lost connection text", stderrors.New("Lost connection to MySQL server during query"), true},
		{"broken pipe wrapped", fmt.Errorf("exec: %w", stderrors.New("write: broken pipe")), true},
		{"classified kind", New(KindConnectionError, "pool saturated"), true},
		{"ordinary error", stderrors.New("syntax error near SELECT"), false},
		{"duplicate is not connection", New(KindDuplicate, "dup"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(KindConnectionError, "reset")) {
		t.Error("connection errors are retryable")
	}
	for _, kind := range []Kind{KindValidation, KindProtectedBranch, KindOptimisticConflict, KindFatal} {
		if IsRetryable(New(kind, "x")) {
			t.Errorf("%s must not be retryable", kind)
		}
	}
}
