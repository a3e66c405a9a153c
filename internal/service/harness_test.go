package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// storeCatalog maps missing rows to NotFoundError like CatalogService does,
// without the Redis layer.
type storeCatalog struct {
	exams ExamReader
}

func (c storeCatalog) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e, err := c.exams.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "exam", ID: id.String()}
	}
	return e, err
}

func (c storeCatalog) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	active, err := c.exams.IsActive(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, &NotFoundError{Resource: "exam", ID: id.String()}
	}
	return active, err
}

type harness struct {
	t        *testing.T
	store    *memory.Store
	sched    *memory.Scheduler
	disp     *memory.Dispatcher
	notifier *memory.Notifier
	pub      *memory.Publisher
	cache    *memory.ResultCache
	clock    *fakeClock

	attempts *AttemptService
	pipeline *SubmissionPipeline
	results  *ResultService
	review   *ReviewService
}

// newHarness wires the services over the in-memory store. When inline is
// true every dispatched attempt is finalized synchronously.
func newHarness(t *testing.T, inline bool) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		store:    memory.New(),
		sched:    memory.NewScheduler(),
		disp:     &memory.Dispatcher{},
		notifier: &memory.Notifier{},
		pub:      &memory.Publisher{},
		cache:    memory.NewResultCache(),
		clock:    newFakeClock(),
	}

	log := zerolog.Nop()
	retry := NewRetrier(3, time.Millisecond)
	catalog := storeCatalog{exams: h.store.Exams()}

	h.attempts = NewAttemptService(catalog, h.store.Attempts(), h.store.Answers(), h.sched, h.disp, h.notifier, retry, log)
	h.attempts.now = h.clock.Now
	h.pipeline = NewSubmissionPipeline(h.store.Attempts(), catalog, h.store.Answers(), h.store.Results(), h.cache, h.pub, h.notifier, retry, log)
	h.pipeline.now = h.clock.Now
	h.results = NewResultService(h.store.Attempts(), h.store.Results(), h.cache, h.pipeline, log)
	h.review = NewReviewService(catalog, h.store.Attempts(), h.store.Answers(), h.cache, h.notifier, log)

	if inline {
		h.disp.Sink = func(ctx context.Context, id uuid.UUID) {
			if _, err := h.pipeline.Run(ctx, id); err != nil {
				t.Errorf("pipeline run %s: %v", id, err)
			}
		}
	}
	return h
}

// seedExam stores an active exam of n auto-graded single choice questions
// whose key is "A".
func (h *harness) seedExam(n, minutes, maxAttempts int) model.Exam {
	h.t.Helper()
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Algebra Midterm",
		SubjectID:       1,
		SubjectName:     "Mathematics",
		DurationMinutes: minutes,
		QuestionCount:   n,
		MaxAttempts:     maxAttempts,
		IsActive:        true,
		CreatedAt:       h.clock.Now(),
	}
	for i := 0; i < n; i++ {
		exam.Questions = append(exam.Questions, model.Question{
			ID:             uuid.New(),
			QuestionText:   fmt.Sprintf("Question %d", i+1),
			QuestionType:   model.QuestionTypeMultipleChoice,
			Options:        []byte(`["A","B","C","D"]`),
			CorrectOptions: []string{"A"},
			ScoreValue:     1,
			OrderNum:       i + 1,
		})
	}
	h.store.PutExam(exam)
	return exam
}

func (h *harness) start(studentID int, examID uuid.UUID) *model.Attempt {
	h.t.Helper()
	a, err := h.attempts.StartAttempt(context.Background(), studentID, examID)
	if err != nil {
		h.t.Fatalf("StartAttempt: %v", err)
	}
	return a
}

func (h *harness) answer(studentID int, attemptID, questionID uuid.UUID, payload string) {
	h.t.Helper()
	if _, err := h.attempts.RecordAnswer(context.Background(), studentID, attemptID, questionID, []byte(payload)); err != nil {
		h.t.Fatalf("RecordAnswer: %v", err)
	}
}

func (h *harness) attempt(id uuid.UUID) *model.Attempt {
	h.t.Helper()
	a, err := h.store.Attempts().GetByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get attempt: %v", err)
	}
	return a
}
