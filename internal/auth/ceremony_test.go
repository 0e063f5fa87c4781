package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pollcast/backend/internal/apperr"
)

func newTestManager(t *testing.T) (*Manager, *fakeUserStore, *fakeVerifier) {
	t.Helper()
	users := newFakeUserStore()
	verifier := &fakeVerifier{}
	m := NewManager(verifier, fakeParser{}, users, NewChallengeStore(time.Minute), nil)
	return m, users, verifier
}

func register(t *testing.T, m *Manager, username string) {
	t.Helper()
	ctx := context.Background()
	id, _, err := m.StartRegistration(ctx, username)
	if err != nil {
		t.Fatalf("StartRegistration(%s): %v", username, err)
	}
	if _, err := m.FinishRegistration(ctx, id, []byte(`{}`)); err != nil {
		t.Fatalf("FinishRegistration(%s): %v", username, err)
	}
}

func TestFinishRegistrationSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	m, users, _ := newTestManager(t)

	id, creation, err := m.StartRegistration(ctx, "  alice ")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	if creation == nil || id == "" {
		t.Fatal("expected a challenge and ceremony id")
	}

	u, err := m.FinishRegistration(ctx, id, []byte(`{}`))
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("username = %q, want trimmed alice", u.Username)
	}
	if _, err := m.FinishRegistration(ctx, id, []byte(`{}`)); !errors.Is(err, apperr.ErrNoChallengeFound) {
		t.Errorf("second finish err = %v, want ErrNoChallengeFound", err)
	}
	if users.count() != 1 {
		t.Errorf("users = %d, want 1", users.count())
	}
}

func TestConcurrentDuplicateFinishSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	id, _, err := m.StartRegistration(ctx, "carol")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.FinishRegistration(ctx, id, []byte(`{}`)); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("successful finishes = %d, want 1", ok.Load())
	}
}

func TestFinishRegistrationVerificationFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	m, users, verifier := newTestManager(t)
	verifier.createErr = errors.New("bad attestation")

	id, _, err := m.StartRegistration(ctx, "mallory")
	if err != nil {
		t.Fatalf("StartRegistration: %v", err)
	}
	if _, err := m.FinishRegistration(ctx, id, []byte(`{}`)); !errors.Is(err, apperr.ErrCeremonyVerificationFailed) {
		t.Fatalf("err = %v, want ErrCeremonyVerificationFailed", err)
	}
	if users.count() != 0 {
		t.Errorf("users = %d, want 0", users.count())
	}
	verifier.createErr = nil
	if _, err := m.FinishRegistration(ctx, id, []byte(`{}`)); !errors.Is(err, apperr.ErrNoChallengeFound) {
		t.Errorf("retry after failure err = %v, want ErrNoChallengeFound", err)
	}
}

func TestFinishRegistrationUnparseableResponse(t *testing.T) {
	ctx := context.Background()
	users := newFakeUserStore()
	m := NewManager(&fakeVerifier{}, fakeParser{err: errors.New("bad json")}, users, NewChallengeStore(time.Minute), nil)

	id, _, _ := m.StartRegistration(ctx, "dave")
	if _, err := m.FinishRegistration(ctx, id, []byte(`nope`)); !errors.Is(err, apperr.ErrCeremonyVerificationFailed) {
		t.Fatalf("err = %v, want ErrCeremonyVerificationFailed", err)
	}
	if users.count() != 0 {
		t.Error("user persisted after parse failure")
	}
}

func TestStartRegistrationValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	register(t, m, "erin")

	if _, _, err := m.StartRegistration(ctx, "   "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank username err = %v", err)
	}
	if _, _, err := m.StartRegistration(ctx, "erin"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("taken username err = %v", err)
	}
}

func TestAuthenticationUsesTheCeremonysOwnEntry(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	register(t, m, "alice")
	register(t, m, "bob")

	aliceID, _, err := m.StartAuthentication(ctx, "alice")
	if err != nil {
		t.Fatalf("StartAuthentication(alice): %v", err)
	}
	bobID, _, err := m.StartAuthentication(ctx, "bob")
	if err != nil {
		t.Fatalf("StartAuthentication(bob): %v", err)
	}

	u, err := m.FinishAuthentication(ctx, bobID, []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishAuthentication(bob): %v", err)
	}
	if u.Username != "bob" {
		t.Errorf("authenticated %q, want bob", u.Username)
	}
	u, err = m.FinishAuthentication(ctx, aliceID, []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishAuthentication(alice): %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("authenticated %q, want alice", u.Username)
	}
	if _, err := m.FinishAuthentication(ctx, aliceID, []byte(`{}`)); !errors.Is(err, apperr.ErrNoChallengeFound) {
		t.Errorf("replayed finish err = %v, want ErrNoChallengeFound", err)
	}
}

func TestAuthenticationRejectsRegistrationCeremony(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	id, _, _ := m.StartRegistration(ctx, "frank")
	if _, err := m.FinishAuthentication(ctx, id, []byte(`{}`)); !errors.Is(err, apperr.ErrNoChallengeFound) {
		t.Errorf("err = %v, want ErrNoChallengeFound", err)
	}
}

func TestStartAuthenticationUnknownUser(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, _, err := m.StartAuthentication(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFinishAuthenticationUpdatesSignCount(t *testing.T) {
	ctx := context.Background()
	m, users, _ := newTestManager(t)
	register(t, m, "gina")

	id, _, _ := m.StartAuthentication(ctx, "gina")
	u, err := m.FinishAuthentication(ctx, id, []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishAuthentication: %v", err)
	}
	creds, _ := users.ListCredentials(ctx, u.ID)
	if len(creds) != 1 || creds[0].Authenticator.SignCount != 1 {
		t.Errorf("credentials after login = %+v", creds)
	}
}
