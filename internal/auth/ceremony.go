package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

const maxUsernameLen = 64

// Manager runs the two-phase registration and authentication ceremonies.
// Each finish step removes its pending entry before verification is attempted,
// so a replayed or concurrent duplicate finish can succeed at most once.
type Manager struct {
	verifier   Verifier
	parser     ResponseParser
	users      UserStore
	challenges *ChallengeStore
	logger     *zap.Logger
}

// NewManager creates a ceremony manager.
func NewManager(verifier Verifier, parser ResponseParser, users UserStore, challenges *ChallengeStore, logger *zap.Logger) *Manager {
	if parser == nil {
		parser = DefaultParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{verifier: verifier, parser: parser, users: users, challenges: challenges, logger: logger}
}

func normalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperr.Invalid("username is required")
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		return "", apperr.Invalid("username is too long")
	}
	return name, nil
}

// StartRegistration issues a creation challenge for a not-yet-existing user.
// It returns the ceremony id the finish step must present.
func (m *Manager) StartRegistration(ctx context.Context, username string) (string, *protocol.CredentialCreation, error) {
	name, err := normalizeUsername(username)
	if err != nil {
		return "", nil, err
	}
	if _, err := m.users.GetByUsername(ctx, name); err == nil {
		return "", nil, fmt.Errorf("%w: username %q taken", apperr.ErrConflict, name)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return "", nil, err
	}

	candidate := &passkeyUser{user: models.User{ID: uuid.New(), Username: name}}
	creation, data, err := m.verifier.BeginRegistration(candidate,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: begin registration: %v", apperr.ErrVerifier, err)
	}

	ceremonyID := uuid.NewString()
	m.challenges.Put(ceremonyID, Pending{
		Kind:     KindRegistration,
		UserID:   candidate.user.ID,
		Username: name,
		Data:     *data,
	})
	m.logger.Debug("registration started", zap.String("ceremony_id", ceremonyID), zap.String("username", name))
	return ceremonyID, creation, nil
}

// FinishRegistration verifies the browser's creation response and persists
// the user with its credential. A failed verification persists nothing.
func (m *Manager) FinishRegistration(ctx context.Context, ceremonyID string, response []byte) (*models.User, error) {
	pending, err := m.challenges.Take(ceremonyID, KindRegistration)
	if err != nil {
		return nil, err
	}
	candidate := &passkeyUser{user: models.User{ID: pending.UserID, Username: pending.Username}}

	parsed, err := m.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse creation response: %v", apperr.ErrCeremonyVerificationFailed, err)
	}
	cred, err := m.verifier.CreateCredential(candidate, pending.Data, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCeremonyVerificationFailed, err)
	}

	user := candidate.user
	if err := m.users.CreateWithCredential(ctx, &user, *cred); err != nil {
		return nil, err
	}
	m.logger.Info("user registered", zap.String("user_id", user.ID.String()), zap.String("username", user.Username))
	return &user, nil
}

// StartAuthentication issues an assertion challenge for an existing user.
func (m *Manager) StartAuthentication(ctx context.Context, username string) (string, *protocol.CredentialAssertion, error) {
	name, err := normalizeUsername(username)
	if err != nil {
		return "", nil, err
	}
	u, err := m.users.GetByUsername(ctx, name)
	if err != nil {
		return "", nil, err
	}
	creds, err := m.users.ListCredentials(ctx, u.ID)
	if err != nil {
		return "", nil, err
	}
	if len(creds) == 0 {
		return "", nil, apperr.Invalid("user has no credentials")
	}

	assertion, data, err := m.verifier.BeginLogin(&passkeyUser{user: *u, credentials: creds})
	if err != nil {
		return "", nil, fmt.Errorf("%w: begin login: %v", apperr.ErrVerifier, err)
	}

	ceremonyID := uuid.NewString()
	m.challenges.Put(ceremonyID, Pending{
		Kind:     KindLogin,
		UserID:   u.ID,
		Username: u.Username,
		Data:     *data,
	})
	m.logger.Debug("authentication started", zap.String("ceremony_id", ceremonyID), zap.String("user_id", u.ID.String()))
	return ceremonyID, assertion, nil
}

// FinishAuthentication verifies the assertion against the user the ceremony
// was started for and returns that user.
func (m *Manager) FinishAuthentication(ctx context.Context, ceremonyID string, response []byte) (*models.User, error) {
	pending, err := m.challenges.Take(ceremonyID, KindLogin)
	if err != nil {
		return nil, err
	}
	u, err := m.users.GetByUsername(ctx, pending.Username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %q vanished", apperr.ErrCeremonyVerificationFailed, pending.Username)
		}
		return nil, err
	}
	if u.ID != pending.UserID {
		return nil, fmt.Errorf("%w: user id mismatch", apperr.ErrCeremonyVerificationFailed)
	}
	creds, err := m.users.ListCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	parsed, err := m.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, fmt.Errorf("%w: parse assertion: %v", apperr.ErrCeremonyVerificationFailed, err)
	}
	cred, err := m.verifier.ValidateLogin(&passkeyUser{user: *u, credentials: creds}, pending.Data, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCeremonyVerificationFailed, err)
	}
	if cred.Authenticator.CloneWarning {
		m.logger.Warn("authenticator sign counter went backwards", zap.String("user_id", u.ID.String()))
	}
	if err := m.users.UpdateCredential(ctx, u.ID, *cred); err != nil {
		m.logger.Warn("update credential after login", zap.String("user_id", u.ID.String()), zap.Error(err))
	}
	return u, nil
}
