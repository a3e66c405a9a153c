package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

// ErrAttemptNotWritable is returned by Save when the attempt is terminal or past its deadline.
var ErrAttemptNotWritable = errors.New("attempt is not accepting answers")

// AnswerRepository owns the attempt_answers table.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Save upserts one answer. The attempt row is share-locked for the duration of
// the write so a concurrent submit cannot commit in between the check and the upsert.
func (r *AnswerRepository) Save(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, savedAt time.Time) (*model.Answer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		status   model.AttemptStatus
		deadline time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT status, deadline FROM exam_attempts WHERE id = $1 FOR SHARE`, attemptID,
	).Scan(&status, &deadline)
	if err != nil {
		return nil, err
	}
	if status != model.AttemptStatusInProgress || !savedAt.Before(deadline) {
		return nil, ErrAttemptNotWritable
	}

	ans := &model.Answer{AttemptID: attemptID, QuestionID: questionID}
	err = tx.QueryRow(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, payload, saved_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at
		 RETURNING payload, saved_at`,
		attemptID, questionID, payload, savedAt,
	).Scan(&ans.Payload, &ans.SavedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ans, nil
}

// ListByAttempt returns the saved answers in question order, whatever the attempt state.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.attempt_id, a.question_id, a.payload, a.saved_at
		 FROM attempt_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.attempt_id = $1
		 ORDER BY q.order_num, q.id`, attemptID,
	)
	if err != nil {
		return nil, err
	}

	answers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Answer, error) {
		var a model.Answer
		err := row.Scan(&a.AttemptID, &a.QuestionID, &a.Payload, &a.SavedAt)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	return answers, nil
}
