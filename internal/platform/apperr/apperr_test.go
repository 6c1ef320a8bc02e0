package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   error
		status int
	}{
		{"validation", Validation("value %d out of range", 7), ErrValidation, http.StatusBadRequest},
		{"not found", NotFound("questionnaire", "q-1"), ErrNotFound, http.StatusNotFound},
		{"conflict", Conflict("already requested"), ErrConflict, http.StatusConflict},
		{"internal", Internal("load patient", errors.New("boom")), ErrInternal, http.StatusInternalServerError},
		{"plain", errors.New("raw"), nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kind != nil && !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if got := Status(tt.err); got != tt.status {
				t.Errorf("Status() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("accept alert: %w", Conflict("alert already accepted"))
	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected wrapped conflict to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("conflict must not match ErrNotFound")
	}
}

func TestInternalUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("claim alert", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if err.Error() != "claim alert: connection reset" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestHTTPHidesInternalCause(t *testing.T) {
	he := HTTP(Internal("claim alert", errors.New("password=secret")))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("message leaked: %v", he.Message)
	}

	he = HTTP(Conflict("questionnaire already reviewed"))
	if he.Code != http.StatusConflict || he.Message != "questionnaire already reviewed" {
		t.Errorf("unexpected %d %v", he.Code, he.Message)
	}
}
