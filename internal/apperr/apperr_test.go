package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{AuthFailure, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Validation, http.StatusBadRequest},
		{Conflict, http.StatusConflict},
		{ModelError, http.StatusInternalServerError},
		{StoreError, http.StatusInternalServerError},
		{Cancelled, 499},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := HTTPStatus(New(tt.kind, "boom"))
			if got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(ToolTransientError, "connection reset")
	wrapped := fmt.Errorf("invoke get_weather: %w", base)

	if KindOf(wrapped) != ToolTransientError {
		t.Errorf("KindOf(wrapped) = %q, want %q", KindOf(wrapped), ToolTransientError)
	}
	if !IsKind(wrapped, ToolTransientError) {
		t.Error("IsKind(wrapped, ToolTransientError) = false, want true")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(ToolTransientError, "call tool", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != "" {
		t.Errorf("KindOf(plain) = %q, want empty", k)
	}
}
