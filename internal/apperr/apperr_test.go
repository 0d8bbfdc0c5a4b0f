package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructorsCarryStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   string
		status int
	}{
		{name: "validation", err: Validation("bad"), code: CodeValidation, status: http.StatusBadRequest},
		{name: "conflict", err: Conflict("dup"), code: CodeConflict, status: http.StatusConflict},
		{name: "forbidden", err: Forbidden("no"), code: CodeForbidden, status: http.StatusForbidden},
		{name: "not found", err: NotFound("gone"), code: CodeNotFound, status: http.StatusNotFound},
		{name: "unauthenticated", err: Unauthenticated("who"), code: CodeUnauthenticated, status: http.StatusUnauthorized},
		{name: "rate limited", err: RateLimited("slow"), code: CodeRateLimited, status: http.StatusTooManyRequests},
		{name: "internal", err: Internal(errors.New("boom")), code: CodeInternal, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.Status != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, tt.err.Status)
			}
		})
	}
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)

	if err.Message != "internal server error" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to remain in the chain")
	}
}

func TestFromClassifiesWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("send request: %w", Conflict("already friends"))

	got := From(wrapped)
	if got.Code != CodeConflict {
		t.Fatalf("expected conflict, got %s", got.Code)
	}
	if !HasCode(wrapped, CodeConflict) {
		t.Fatal("expected HasCode to see through wrapping")
	}

	if From(errors.New("plain")).Status != http.StatusInternalServerError {
		t.Fatal("expected unclassified errors to map to 500")
	}
	if From(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
