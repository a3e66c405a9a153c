package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exam-engine/internal/model"
)

var (
	// ErrDuplicateActive is returned when the live-attempt unique index rejects an insert.
	ErrDuplicateActive = errors.New("live attempt already exists")
	// ErrStatusConflict is returned when a conditional status update matched no row.
	ErrStatusConflict = errors.New("attempt status changed concurrently")
)

const uniqueViolation = "23505"

const attemptColumns = `id, exam_id, student_id, started_at, deadline, status,
	submitted_at, answered_count, total_questions, finalized_at`

// AttemptRepository owns the exam_attempts table.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	if err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.Deadline, &a.Status,
		&a.SubmittedAt, &a.AnsweredCount, &a.TotalQuestions, &a.FinalizedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func collectAttempts(rows pgx.Rows) ([]model.Attempt, error) {
	defer rows.Close()
	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Create inserts a new in_progress attempt.
// A concurrent live attempt for the same (student, exam) yields ErrDuplicateActive.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, started_at, deadline, status, total_questions)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		a.ExamID, a.StudentID, a.StartedAt, a.Deadline, model.AttemptStatusInProgress, a.TotalQuestions,
	).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateActive
		}
		return err
	}
	a.Status = model.AttemptStatusInProgress
	return nil
}

// GetByID returns pgx.ErrNoRows when the attempt does not exist.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// GetActive returns the live attempt of a student for an exam, or pgx.ErrNoRows.
func (r *AttemptRepository) GetActive(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE student_id = $1 AND exam_id = $2 AND status = $3`,
		studentID, examID, model.AttemptStatusInProgress))
}

// LatestByStudentExam returns the most recently started attempt, or pgx.ErrNoRows.
func (r *AttemptRepository) LatestByStudentExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE student_id = $1 AND exam_id = $2
		 ORDER BY started_at DESC
		 LIMIT 1`, studentID, examID))
}

// CountByStudentExam counts every attempt a student ever started for an exam.
func (r *AttemptRepository) CountByStudentExam(ctx context.Context, studentID int, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE student_id = $1 AND exam_id = $2`,
		studentID, examID).Scan(&n)
	return n, err
}

// CompareAndSetStatus moves an attempt from `from` to `to` in one conditional update.
// Returns ErrStatusConflict when the row was not in `from`.
func (r *AttemptRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to model.AttemptStatus, at time.Time) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $3,
		     submitted_at = COALESCE(submitted_at, $4)
		 WHERE id = $1 AND status = $2
		 RETURNING `+attemptColumns,
		id, from, to, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusConflict
	}
	return a, err
}

// MarkFinalized records the pipeline output on the attempt row.
func (r *AttemptRepository) MarkFinalized(ctx context.Context, id uuid.UUID, answeredCount int, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET answered_count = $2, finalized_at = $3
		 WHERE id = $1 AND status <> $4`,
		id, answeredCount, at, model.AttemptStatusInProgress)
	return err
}

// ListInProgress returns every live attempt ordered by deadline.
func (r *AttemptRepository) ListInProgress(ctx context.Context) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE status = $1
		 ORDER BY deadline`, model.AttemptStatusInProgress)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// ListUnfinalized returns terminal attempts the pipeline has not completed.
func (r *AttemptRepository) ListUnfinalized(ctx context.Context, limit int) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE status <> $1 AND finalized_at IS NULL
		 ORDER BY submitted_at
		 LIMIT $2`, model.AttemptStatusInProgress, limit)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// ListTerminalByExam pages through the attempts of an exam that left in_progress.
func (r *AttemptRepository) ListTerminalByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.Attempt, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND status <> $2`,
		examID, model.AttemptStatusInProgress).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = $1 AND status <> $2
		 ORDER BY submitted_at DESC
		 LIMIT $3 OFFSET $4`,
		examID, model.AttemptStatusInProgress, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	attempts, err := collectAttempts(rows)
	return attempts, total, err
}

// MarkGraded advances a terminal attempt to graded. Returns ErrStatusConflict
// unless the attempt is submitted or expired_submitted.
func (r *AttemptRepository) MarkGraded(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $2
		 WHERE id = $1 AND status IN ($3, $4)
		 RETURNING `+attemptColumns,
		id, model.AttemptStatusGraded, model.AttemptStatusSubmitted, model.AttemptStatusExpiredSubmitted))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStatusConflict
	}
	return a, err
}
