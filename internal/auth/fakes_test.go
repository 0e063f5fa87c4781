package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

type fakeUserStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]models.User
	credentials map[uuid.UUID][]webauthn.Credential
	createErr   error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:       make(map[uuid.UUID]models.User),
		credentials: make(map[uuid.UUID][]webauthn.Credential),
	}
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &u, nil
}

func (f *fakeUserStore) GetByUsername(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeUserStore) ListCredentials(_ context.Context, userID uuid.UUID) ([]webauthn.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webauthn.Credential(nil), f.credentials[userID]...), nil
}

func (f *fakeUserStore) CreateWithCredential(_ context.Context, u *models.User, cred webauthn.Credential) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return apperr.ErrConflict
		}
	}
	f.users[u.ID] = *u
	f.credentials[u.ID] = append(f.credentials[u.ID], cred)
	return nil
}

func (f *fakeUserStore) UpdateCredential(_ context.Context, userID uuid.UUID, cred webauthn.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.credentials[userID]
	for i := range list {
		if string(list[i].ID) == string(cred.ID) {
			list[i] = cred
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (f *fakeUserStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeVerifier binds each challenge to the user it was issued for, so a
// response validated against the wrong pending entry fails.
type fakeVerifier struct {
	createErr error
}

func challengeFor(user webauthn.User) string { return "chal-" + user.WebAuthnName() }

func (f *fakeVerifier) BeginRegistration(user webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: challengeFor(user), UserID: user.WebAuthnID()}, nil
}

func (f *fakeVerifier) CreateCredential(user webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if session.Challenge != challengeFor(user) {
		return nil, errors.New("challenge mismatch")
	}
	return &webauthn.Credential{ID: []byte("cred-" + user.WebAuthnName())}, nil
}

func (f *fakeVerifier) BeginLogin(user webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if len(user.WebAuthnCredentials()) == 0 {
		return nil, nil, errors.New("no credentials")
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: challengeFor(user), UserID: user.WebAuthnID()}, nil
}

func (f *fakeVerifier) ValidateLogin(user webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	if session.Challenge != challengeFor(user) {
		return nil, errors.New("challenge mismatch")
	}
	creds := user.WebAuthnCredentials()
	if len(creds) == 0 {
		return nil, errors.New("no credentials")
	}
	cred := creds[0]
	cred.Authenticator.SignCount++
	return &cred, nil
}

type fakeParser struct {
	err error
}

func (f fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}
