package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("dt_list", "dt_list must not be empty")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "dt_list must not be empty" {
		t.Errorf("expected message 'dt_list must not be empty', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "dt_list" {
		t.Errorf("expected field 'dt_list', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("deployable", "svc-a")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "deployable svc-a not found" {
		t.Errorf("expected message 'deployable svc-a not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "deployable" {
		t.Errorf("expected resource 'deployable', got %q", appErr.Resource)
	}
}

func TestInvalidTarget(t *testing.T) {
	t.Parallel()
	err := InvalidTarget("svc-a", "eu-north-1-prod-nonexistent")

	if !errors.Is(err, ErrInvalidTarget) {
		t.Error("expected error to match ErrInvalidTarget")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("invalid target must not classify as not found")
	}
	want := "target eu-north-1-prod-nonexistent is not registered for deployable svc-a"
	if err.Error() != want {
		t.Errorf("expected message %q, got %q", want, err.Error())
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	err := Unavailable("worker pool", "closed")

	if !errors.Is(err, ErrUnavailable) {
		t.Error("expected error to match ErrUnavailable")
	}
	if err.Error() != "worker pool unavailable: closed" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("permission denied")
	err := Internal("catalog.listTargets", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "catalog.listTargets: permission denied" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "catalog.listTargets" {
		t.Errorf("expected op 'catalog.listTargets', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("dt_list", "required"), http.StatusBadRequest},
		{"not found", NotFound("deployable", "x"), http.StatusNotFound},
		{"invalid target", InvalidTarget("x", "a-b-c"), http.StatusUnprocessableEntity},
		{"unavailable", Unavailable("pool", "closed"), http.StatusServiceUnavailable},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"sentinel validation", ErrValidation, http.StatusBadRequest},
		{"sentinel not found", ErrNotFound, http.StatusNotFound},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), http.StatusBadRequest},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := NotFound("deployable", "svc-a")
	wrapped := fmt.Errorf("resolve: %w", original)
	doubleWrapped := fmt.Errorf("expand: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrNotFound) {
		t.Error("expected errors.Is to find ErrNotFound through multiple wraps")
	}
}
