// Package apperr defines the error taxonomy shared by the HTTP handlers and
// maps it onto status codes and public messages.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrCorruptSession means a session exists but cannot be read or lacks an expected field.
	ErrCorruptSession = errors.New("corrupt session")
	// ErrNoActiveSession means the operation needs an authenticated session and none is present.
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidInput covers validation failures (empty title, too few options, malformed id).
	ErrInvalidInput = errors.New("invalid input")
	// ErrCeremonyVerificationFailed means the credential verifier rejected the ceremony response.
	ErrCeremonyVerificationFailed = errors.New("ceremony verification failed")
	// ErrNoChallengeFound means the ceremony id is unknown, expired, already used or of the wrong kind.
	ErrNoChallengeFound = errors.New("no challenge found")
	// ErrNotFound means the resource does not exist or the caller does not own it.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyVoted means the session already voted on the poll.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrConflict means a uniqueness constraint was hit (e.g. username taken).
	ErrConflict = errors.New("conflict")
	// ErrVoteRejected means the conditional increment matched nothing.
	ErrVoteRejected = errors.New("vote rejected")
	// ErrStore wraps any durable or session store failure.
	ErrStore = errors.New("store error")
	// ErrVerifier wraps credential verifier configuration failures.
	ErrVerifier = errors.New("verifier error")
)

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrCorruptSession), errors.Is(err, ErrNoActiveSession):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrCeremonyVerificationFailed),
		errors.Is(err, ErrNoChallengeFound),
		errors.Is(err, ErrVoteRejected):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyVoted), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show an untrusted caller. Store and
// verifier failures collapse to a generic message.
func Message(err error) string {
	for _, known := range []error{
		ErrCorruptSession,
		ErrNoActiveSession,
		ErrCeremonyVerificationFailed,
		ErrNoChallengeFound,
		ErrNotFound,
		ErrAlreadyVoted,
		ErrConflict,
		ErrVoteRejected,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if errors.Is(err, ErrInvalidInput) {
		var v *ValidationError
		if errors.As(err, &v) {
			return v.Reason
		}
		return ErrInvalidInput.Error()
	}
	return "internal error"
}

// ValidationError carries a caller-facing reason for an ErrInvalidInput.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Reason }

// Unwrap makes errors.Is(err, ErrInvalidInput) hold.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Invalid returns an ErrInvalidInput with reason.
func Invalid(reason string) error {
	return &ValidationError{Reason: reason}
}
