package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNoActiveSession, http.StatusUnauthorized},
		{fmt.Errorf("load: %w", ErrCorruptSession), http.StatusUnauthorized},
		{Invalid("title is required"), http.StatusBadRequest},
		{ErrNoChallengeFound, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyVoted, http.StatusConflict},
		{fmt.Errorf("%w: connection refused", ErrStore), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesInternalDetail(t *testing.T) {
	err := fmt.Errorf("%w: pq: relation \"polls\" does not exist", ErrStore)
	if got := Message(err); got != "internal error" {
		t.Errorf("Message = %q, want generic text", got)
	}
}

func TestMessageValidationReason(t *testing.T) {
	err := fmt.Errorf("create poll: %w", Invalid("at least two options are required"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatal("validation error should match ErrInvalidInput")
	}
	if got := Message(err); got != "at least two options are required" {
		t.Errorf("Message = %q", got)
	}
}
