package polls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

// Store is the durable poll store. Ownership-scoped writes report false when
// the poll does not exist or is not owned by creatorID.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	// Vote increments optionID on pollID only if the poll is open and the
	// option exists, in one atomic statement. It reports whether a row matched.
	Vote(ctx context.Context, pollID uuid.UUID, optionID int) (bool, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.Poll, error)
	ListAll(ctx context.Context) ([]models.Poll, error)
	Close(ctx context.Context, id, creatorID uuid.UUID) (bool, error)
	Reset(ctx context.Context, id, creatorID uuid.UUID) (bool, error)
	Edit(ctx context.Context, id, creatorID uuid.UUID, title string, options []string) (bool, error)
	Delete(ctx context.Context, id, creatorID uuid.UUID) (bool, error)
}

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectPoll = `SELECT p.id, p.creator_id, p.title, p.is_closed, p.created_at,
	COALESCE(json_agg(json_build_object('id', o.option_id, 'text', o.text, 'votes', o.vote_count)
		ORDER BY o.option_id) FILTER (WHERE o.option_id IS NOT NULL), '[]'::json)
	FROM polls p LEFT JOIN poll_options o ON o.poll_id = p.id`

const insertOptions = `INSERT INTO poll_options (poll_id, option_id, text)
	SELECT $1, t.ord::int, t.txt FROM unnest($2::text[]) WITH ORDINALITY AS t(txt, ord)`

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	if err := row.Scan(&p.ID, &p.CreatorID, &p.Title, &p.IsClosed, &p.CreatedAt, &p.Options); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts the poll and its options in one transaction. Option ids are
// assigned 1..N in order and p is updated with the stored state.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	texts := make([]string, len(p.Options))
	for i, o := range p.Options {
		texts[i] = o.Text
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertPoll = `INSERT INTO polls (id, creator_id, title, is_closed)
			VALUES (gen_random_uuid(), $1, $2, FALSE) RETURNING id, created_at`
		if err := tx.QueryRow(ctx, insertPoll, p.CreatorID, p.Title).Scan(&p.ID, &p.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertOptions, p.ID, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: create poll: %v", apperr.ErrStore, err)
	}
	p.IsClosed = false
	p.Options = models.NewOptions(texts)
	return nil
}

// GetByID returns a poll with its options.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, selectPoll+` WHERE p.id = $1 GROUP BY p.id`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get poll %s: %v", apperr.ErrStore, id, err)
	}
	return p, nil
}

// Vote is the conditional increment. Postgres re-evaluates the is_closed
// filter under the row lock, so concurrent votes never lose updates.
func (r *Repository) Vote(ctx context.Context, pollID uuid.UUID, optionID int) (bool, error) {
	const q = `UPDATE poll_options o SET vote_count = o.vote_count + 1
		FROM polls p
		WHERE p.id = o.poll_id AND o.poll_id = $1 AND o.option_id = $2 AND p.is_closed = FALSE`
	tag, err := r.pool.Exec(ctx, q, pollID, optionID)
	if err != nil {
		return false, fmt.Errorf("%w: vote poll %s option %d: %v", apperr.ErrStore, pollID, optionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByCreator returns the creator's polls, newest first.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.Poll, error) {
	return r.list(ctx, selectPoll+` WHERE p.creator_id = $1 GROUP BY p.id ORDER BY p.created_at DESC`, creatorID)
}

// ListAll returns every poll, newest first.
func (r *Repository) ListAll(ctx context.Context) ([]models.Poll, error) {
	return r.list(ctx, selectPoll+` GROUP BY p.id ORDER BY p.created_at DESC`)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.Poll, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list polls: %v", apperr.ErrStore, err)
	}
	defer rows.Close()
	list := []models.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan poll: %v", apperr.ErrStore, err)
		}
		list = append(list, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list polls: %v", apperr.ErrStore, err)
	}
	return list, nil
}

// Close marks the poll closed.
func (r *Repository) Close(ctx context.Context, id, creatorID uuid.UUID) (bool, error) {
	const q = `UPDATE polls SET is_closed = TRUE WHERE id = $1 AND creator_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, creatorID)
	if err != nil {
		return false, fmt.Errorf("%w: close poll %s: %v", apperr.ErrStore, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reset zeroes every option's count.
func (r *Repository) Reset(ctx context.Context, id, creatorID uuid.UUID) (bool, error) {
	const q = `UPDATE poll_options o SET vote_count = 0
		FROM polls p
		WHERE p.id = o.poll_id AND p.id = $1 AND p.creator_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, creatorID)
	if err != nil {
		return false, fmt.Errorf("%w: reset poll %s: %v", apperr.ErrStore, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Edit replaces the title and options in one transaction. Options restart at
// id 1 with zero votes; is_closed is kept.
func (r *Repository) Edit(ctx context.Context, id, creatorID uuid.UUID, title string, options []string) (bool, error) {
	owned := false
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE polls SET title = $3 WHERE id = $1 AND creator_id = $2`, id, creatorID, title)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		owned = true
		if _, err := tx.Exec(ctx, `DELETE FROM poll_options WHERE poll_id = $1`, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertOptions, id, options)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: edit poll %s: %v", apperr.ErrStore, id, err)
	}
	return owned, nil
}

// Delete removes the poll; options go with it through ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id, creatorID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1 AND creator_id = $2`, id, creatorID)
	if err != nil {
		return false, fmt.Errorf("%w: delete poll %s: %v", apperr.ErrStore, id, err)
	}
	return tag.RowsAffected() == 1, nil
}
