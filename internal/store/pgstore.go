package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/formengine/model"
)

// Schema creates the tables used by PgSubmissionStore.
const Schema = `
CREATE TABLE IF NOT EXISTS form_submissions (
	id              TEXT PRIMARY KEY,
	form_id         TEXT NOT NULL,
	answers         JSONB NOT NULL DEFAULT '{}'::jsonb,
	submission_hash TEXT NOT NULL DEFAULT '',
	partial         BOOLEAN NOT NULL DEFAULT FALSE,
	completion_time INTEGER NOT NULL DEFAULT 0,
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS form_submissions_hash_idx
	ON form_submissions (form_id, submission_hash) WHERE submission_hash <> '';
CREATE INDEX IF NOT EXISTS form_submissions_form_idx
	ON form_submissions (form_id, created_at DESC);
`

const submissionColumns = `id, form_id, answers, submission_hash, partial,
	completion_time, version, created_at, updated_at`

// PgSubmissionStore is a PostgreSQL-backed SubmissionStore using pgx/v5.
type PgSubmissionStore struct {
	pool *pgxpool.Pool
}

// NewPgSubmissionStore creates a new PostgreSQL submission store.
func NewPgSubmissionStore(pool *pgxpool.Pool) *PgSubmissionStore {
	return &PgSubmissionStore{pool: pool}
}

// Migrate applies Schema.
func (s *PgSubmissionStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply submission schema: %w", err)
	}
	return nil
}

// HealthCheck pings the pool.
func (s *PgSubmissionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Submit stores a final submission. An id updates that submission under an
// optimistic version check; a hash completes the matching partial one.
func (s *PgSubmissionStore) Submit(ctx context.Context, sub model.Submission) (model.SubmissionResult, error) {
	answersJSON, err := json.Marshal(sub.Answers)
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("marshal answers: %w", err)
	}
	now := time.Now().UTC()

	if sub.SubmissionID != "" {
		existing, err := s.Get(ctx, sub.FormID, sub.SubmissionID)
		if err != nil {
			return model.SubmissionResult{}, err
		}
		tag, err := s.pool.Exec(ctx, `
			UPDATE form_submissions SET
				answers = $1,
				partial = $2,
				completion_time = $3,
				version = version + 1,
				updated_at = $4
			WHERE id = $5 AND version = $6`,
			answersJSON, sub.IsPartial, sub.CompletionTime, now,
			existing.ID, existing.Version,
		)
		if err != nil {
			return model.SubmissionResult{}, fmt.Errorf("update submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.SubmissionResult{}, model.NewConflictError(
				fmt.Sprintf("submission %q version conflict (expected %d)", existing.ID, existing.Version),
			)
		}
		return model.SubmissionResult{SubmissionID: existing.ID}, nil
	}

	// New submissions, or completion of a partial one sharing the hash.
	var id string
	if sub.SubmissionHash == "" {
		id = uuid.NewString()
		_, err = s.pool.Exec(ctx, `
			INSERT INTO form_submissions (`+submissionColumns+`)
			VALUES ($1, $2, $3, '', $4, $5, 1, $6, $6)`,
			id, sub.FormID, answersJSON, sub.IsPartial, sub.CompletionTime, now,
		)
	} else {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO form_submissions (`+submissionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
			ON CONFLICT (form_id, submission_hash) WHERE submission_hash <> ''
			DO UPDATE SET
				answers = EXCLUDED.answers,
				partial = EXCLUDED.partial,
				completion_time = EXCLUDED.completion_time,
				version = form_submissions.version + 1,
				updated_at = EXCLUDED.updated_at
			RETURNING id`,
			uuid.NewString(), sub.FormID, answersJSON, sub.SubmissionHash,
			sub.IsPartial, sub.CompletionTime, now,
		).Scan(&id)
	}
	if err != nil {
		return model.SubmissionResult{}, fmt.Errorf("insert submission: %w", err)
	}
	return model.SubmissionResult{SubmissionID: id}, nil
}

// SavePartial upserts the partial submission identified by hash. Saving
// over a completed submission is a conflict.
func (s *PgSubmissionStore) SavePartial(ctx context.Context, formID, hash string, answers model.Answers) error {
	if hash == "" {
		return model.NewBadRequestError("submission hash is required for partial saves")
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO form_submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, TRUE, 0, 1, $5, $5)
		ON CONFLICT (form_id, submission_hash) WHERE submission_hash <> ''
		DO UPDATE SET
			answers = EXCLUDED.answers,
			version = form_submissions.version + 1,
			updated_at = EXCLUDED.updated_at
		WHERE form_submissions.partial`,
		uuid.NewString(), formID, answersJSON, hash, now,
	)
	if err != nil {
		return fmt.Errorf("save partial submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("submission with hash %q is already complete", hash),
		)
	}
	return nil
}

// Get retrieves a submission by id, scoped to a form.
func (s *PgSubmissionStore) Get(ctx context.Context, formID, submissionID string) (model.StoredSubmission, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM form_submissions
		WHERE id = $1 AND form_id = $2`,
		submissionID, formID,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StoredSubmission{}, model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", submissionID),
		)
	}
	if err != nil {
		return model.StoredSubmission{}, fmt.Errorf("query submission: %w", err)
	}
	return sub, nil
}

// FetchSubmission returns the answers of an existing submission.
func (s *PgSubmissionStore) FetchSubmission(ctx context.Context, formID, submissionID string) (model.Answers, error) {
	sub, err := s.Get(ctx, formID, submissionID)
	if err != nil {
		return nil, err
	}
	return sub.Answers, nil
}

// Exists reports whether a completed submission of formID answered fieldID
// with a value sharing an element with value. Scalars compare by their text
// form, arrays by string-element intersection.
func (s *PgSubmissionStore) Exists(ctx context.Context, formID, fieldID string, value any) (bool, error) {
	want := candidates(value)
	if len(want) == 0 {
		return false, nil
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM form_submissions
			WHERE form_id = $1 AND NOT partial AND (
				answers->>$2 = ANY($3::text[])
				OR (jsonb_typeof(answers->$2) = 'array' AND answers->$2 ?| $3::text[])
			)
		)`,
		formID, fieldID, want,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query submission existence: %w", err)
	}
	return exists, nil
}

// List returns submissions of a form, newest first.
func (s *PgSubmissionStore) List(ctx context.Context, formID string, filters Filters) ([]model.StoredSubmission, error) {
	query := `SELECT ` + submissionColumns + `
	          FROM form_submissions
	          WHERE form_id = $1`
	args := []any{formID}
	argIdx := 2

	if !filters.IncludePartial {
		query += " AND NOT partial"
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var result []model.StoredSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func scanSubmission(row pgx.Row) (model.StoredSubmission, error) {
	var (
		sub         model.StoredSubmission
		answersJSON []byte
	)
	if err := row.Scan(
		&sub.ID, &sub.FormID, &answersJSON, &sub.SubmissionHash, &sub.Partial,
		&sub.CompletionTime, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return model.StoredSubmission{}, err
	}
	if answersJSON != nil {
		if err := json.Unmarshal(answersJSON, &sub.Answers); err != nil {
			return model.StoredSubmission{}, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return sub, nil
}
