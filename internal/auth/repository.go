package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

// UserStore is the durable store for users and their passkey credentials.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ListCredentials(ctx context.Context, userID uuid.UUID) ([]webauthn.Credential, error)
	// CreateWithCredential inserts the user and its first credential atomically.
	CreateWithCredential(ctx context.Context, u *models.User, cred webauthn.Credential) error
	UpdateCredential(ctx context.Context, userID uuid.UUID, cred webauthn.Credential) error
}

const pgUniqueViolation = "23505"

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, q, id))
}

// GetByUsername returns a user by username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE username = $1`
	return r.scanUser(r.pool.QueryRow(ctx, q, username))
}

func (r *Repository) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan user: %v", apperr.ErrStore, err)
	}
	return &u, nil
}

// ListCredentials returns the stored passkeys of a user.
func (r *Repository) ListCredentials(ctx context.Context, userID uuid.UUID) ([]webauthn.Credential, error) {
	rows, err := r.pool.Query(ctx, `SELECT credential FROM credentials WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list credentials: %v", apperr.ErrStore, err)
	}
	defer rows.Close()
	var list []webauthn.Credential
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: scan credential: %v", apperr.ErrStore, err)
		}
		var cred webauthn.Credential
		if err := json.Unmarshal(raw, &cred); err != nil {
			return nil, fmt.Errorf("%w: decode credential: %v", apperr.ErrStore, err)
		}
		list = append(list, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list credentials: %v", apperr.ErrStore, err)
	}
	return list, nil
}

// CreateWithCredential inserts a new user and its credential in one transaction.
// A taken username yields apperr.ErrConflict.
func (r *Repository) CreateWithCredential(ctx context.Context, u *models.User, cred webauthn.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertUser = `INSERT INTO users (id, username) VALUES ($1, $2) RETURNING created_at`
		if err := tx.QueryRow(ctx, insertUser, u.ID, u.Username).Scan(&u.CreatedAt); err != nil {
			return err
		}
		const insertCred = `INSERT INTO credentials (id, user_id, credential) VALUES ($1, $2, $3)`
		_, err := tx.Exec(ctx, insertCred, encodeCredentialID(cred.ID), u.ID, payload)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: username %q taken", apperr.ErrConflict, u.Username)
		}
		return fmt.Errorf("%w: create user: %v", apperr.ErrStore, err)
	}
	return nil
}

// UpdateCredential stores the credential after a login (sign counter, flags).
func (r *Repository) UpdateCredential(ctx context.Context, userID uuid.UUID, cred webauthn.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	const q = `UPDATE credentials SET credential = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, encodeCredentialID(cred.ID), userID, payload)
	if err != nil {
		return fmt.Errorf("%w: update credential: %v", apperr.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
