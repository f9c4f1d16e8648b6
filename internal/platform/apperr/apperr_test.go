package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestStatusCode_PerKind(t *testing.T) {
	cases := map[*Error]int{
		Validation("m", "d"):            http.StatusBadRequest,
		Conflict("m", "d"):              http.StatusConflict,
		NotFound("m", "d"):              http.StatusNotFound,
		Repository(errors.New("boom")):  http.StatusInternalServerError,
		Publish(errors.New("no route")): http.StatusInternalServerError,
	}
	for e, want := range cases {
		if got := StatusCode(e); got != want {
			t.Errorf("StatusCode(%s) = %d, want %d", e.Kind, got, want)
		}
	}
}

func TestStatusCode_UnknownError(t *testing.T) {
	if got := StatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}
}

func TestRepository_NoRowsIsNotFound(t *testing.T) {
	err := Repository(fmt.Errorf("get measurement: %w", pgx.ErrNoRows))
	if err.Kind != KindNotFound {
		t.Errorf("expected not_found, got %s", err.Kind)
	}
}

func TestRepository_KeepsAppError(t *testing.T) {
	orig := Conflict("dup", "already there")
	if got := Repository(fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Error("expected the wrapped *Error to be returned unchanged")
	}
}

func TestRepository_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Repository(cause)
	if !errors.Is(err, cause) {
		t.Error("expected repository error to unwrap to its cause")
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("ctx: %w", Validation("bad", ""))
	if !Is(err, KindValidation) {
		t.Error("expected wrapped validation error to match")
	}
	if Is(err, KindConflict) {
		t.Error("did not expect conflict match")
	}
}

func TestBody(t *testing.T) {
	b := Body(NotFound("Measurement not found!", "nothing here"))
	if b.Code != http.StatusNotFound || b.Message != "Measurement not found!" || b.Description != "nothing here" {
		t.Errorf("unexpected body %+v", b)
	}
	b = Body(errors.New("kaput"))
	if b.Code != http.StatusInternalServerError || b.Description != "kaput" {
		t.Errorf("unexpected body for plain error %+v", b)
	}
}
