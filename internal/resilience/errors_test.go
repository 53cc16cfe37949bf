package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("pool exhausted"))
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("pool exhausted"))
	wrapped := fmt.Errorf("merge: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("column \"identity_id\" does not exist")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ContextErrors(t *testing.T) {
	if IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded must wait for the next run")
	}
	if IsTransient(eris.Wrap(context.Canceled, "merge: tx")) {
		t.Error("cancellation must not be retried")
	}
}

func TestIsTransient_PgErrorCodes(t *testing.T) {
	cases := map[string]bool{
		"40001": true,  // serialization_failure
		"40P01": true,  // deadlock_detected
		"08006": true,  // connection_failure
		"08003": true,  // connection_does_not_exist
		"57P01": true,  // admin_shutdown
		"23505": false, // unique_violation
		"42703": false, // undefined_column
		"57014": false, // query_canceled
	}
	for code, want := range cases {
		err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
		if got := IsTransient(err); got != want {
			t.Errorf("code %s: IsTransient = %v, want %v", code, got, want)
		}
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsTransient(err) {
		t.Error("ECONNRESET should be transient")
	}
}

func TestIsTransient_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("ECONNREFUSED should be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, msg := range []string{
		"read: connection reset by peer",
		"write: broken pipe",
		"server closed the connection unexpectedly",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(eris.Wrap(&pgconn.PgError{Code: "23505"}, "update")) {
		t.Error("23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}) {
		t.Error("40001 is not a unique violation")
	}
	if IsUniqueViolation(errors.New("duplicate")) {
		t.Error("plain error is not a unique violation")
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner)
	if !errors.Is(te, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
