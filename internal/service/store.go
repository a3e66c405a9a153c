package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

// Persistence ports. Implementations live in internal/repository and report
// pgx.ErrNoRows, repository.ErrDuplicateActive, repository.ErrStatusConflict
// and repository.ErrAttemptNotWritable.

type ExamCatalog interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetActive(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error)
	LatestByStudentExam(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error)
	CountByStudentExam(ctx context.Context, studentID int, examID uuid.UUID) (int, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to model.AttemptStatus, at time.Time) (*model.Attempt, error)
	MarkFinalized(ctx context.Context, id uuid.UUID, answeredCount int, at time.Time) error
	MarkGraded(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	ListInProgress(ctx context.Context) ([]model.Attempt, error)
	ListUnfinalized(ctx context.Context, limit int) ([]model.Attempt, error)
	ListTerminalByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.Attempt, int, error)
}

type AnswerStore interface {
	Save(ctx context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, savedAt time.Time) (*model.Answer, error)
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error)
}

type ResultStore interface {
	Upsert(ctx context.Context, res *model.Result) error
	GetByAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Result, error)
}

// ResultCache returns (nil, nil) on a miss.
type ResultCache interface {
	Get(ctx context.Context, attemptID uuid.UUID) (*model.Result, error)
	Set(ctx context.Context, res *model.Result) error
	Delete(ctx context.Context, attemptID uuid.UUID) error
}

// Side-effect ports used after a winning transition.

type DeadlineScheduler interface {
	Arm(ctx context.Context, attemptID uuid.UUID, deadline time.Time) error
	Disarm(ctx context.Context, attemptID uuid.UUID) error
}

type SubmissionDispatcher interface {
	Dispatch(ctx context.Context, attemptID uuid.UUID) error
}

type AttemptNotifier interface {
	Notify(ctx context.Context, ev model.AttemptEvent) error
}

type ResultPublisher interface {
	PublishFinalized(ctx context.Context, res *model.Result) error
}
