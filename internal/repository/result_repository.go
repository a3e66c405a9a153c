package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

// ResultRepository persists result projections in attempt_results.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Upsert writes the projection. Re-running the pipeline overwrites it with identical values.
func (r *ResultRepository) Upsert(ctx context.Context, res *model.Result) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_results
		     (attempt_id, exam_name, subject_name, submitted_at, answered_count, total_questions,
		      score, max_score, pending_manual, score_status, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (attempt_id) DO UPDATE SET
		     exam_name       = EXCLUDED.exam_name,
		     subject_name    = EXCLUDED.subject_name,
		     submitted_at    = EXCLUDED.submitted_at,
		     answered_count  = EXCLUDED.answered_count,
		     total_questions = EXCLUDED.total_questions,
		     score           = EXCLUDED.score,
		     max_score       = EXCLUDED.max_score,
		     pending_manual  = EXCLUDED.pending_manual,
		     score_status    = EXCLUDED.score_status,
		     computed_at     = EXCLUDED.computed_at`,
		res.AttemptID, res.ExamName, res.SubjectName, res.SubmittedAt, res.AnsweredCount, res.TotalQuestions,
		res.Score, res.MaxScore, res.PendingManual, res.ScoreStatus, res.ComputedAt,
	)
	return err
}

// GetByAttempt returns pgx.ErrNoRows when no projection was stored yet.
// Status, exam and student come from the attempt row so a later grading is reflected.
func (r *ResultRepository) GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT r.attempt_id, a.exam_id, a.student_id, r.exam_name, r.subject_name, r.submitted_at,
		        r.answered_count, r.total_questions, a.status, r.score, r.max_score,
		        r.pending_manual, r.score_status, r.computed_at
		 FROM attempt_results r
		 JOIN exam_attempts a ON a.id = r.attempt_id
		 WHERE r.attempt_id = $1`, attemptID,
	).Scan(&res.AttemptID, &res.ExamID, &res.StudentID, &res.ExamName, &res.SubjectName, &res.SubmittedAt,
		&res.AnsweredCount, &res.TotalQuestions, &res.Status, &res.Score, &res.MaxScore,
		&res.PendingManual, &res.ScoreStatus, &res.ComputedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
