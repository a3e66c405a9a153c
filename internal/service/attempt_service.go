package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// AttemptService is the attempt state machine:
// in_progress -> submitted | expired_submitted, decided by one conditional update.
type AttemptService struct {
	catalog    ExamCatalog
	attempts   AttemptStore
	answers    AnswerStore
	registry   *SessionRegistry
	deadlines  DeadlineScheduler
	dispatcher SubmissionDispatcher
	notifier   AttemptNotifier
	retry      *Retrier
	log        zerolog.Logger
	now        func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	catalog ExamCatalog,
	attempts AttemptStore,
	answers AnswerStore,
	deadlines DeadlineScheduler,
	dispatcher SubmissionDispatcher,
	notifier AttemptNotifier,
	retry *Retrier,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		catalog:    catalog,
		attempts:   attempts,
		answers:    answers,
		registry:   NewSessionRegistry(attempts),
		deadlines:  deadlines,
		dispatcher: dispatcher,
		notifier:   notifier,
		retry:      retry,
		log:        log.With().Str("component", "attempt_service").Logger(),
		now:        time.Now,
	}
}

// clock returns the current time at the precision PostgreSQL stores.
func (s *AttemptService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// StartAttempt opens a new attempt and arms its deadline.
//
// A live attempt blocks with a ConflictError carrying it, unless its deadline
// already elapsed, in which case it is expired first. An exhausted attempt
// limit also yields a ConflictError.
func (s *AttemptService) StartAttempt(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	// The cached definition may predate a close; availability is read fresh.
	active, err := s.catalog.IsActive(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive || !active {
		return nil, &NotFoundError{Resource: "exam", ID: examID.String()}
	}

	live, err := s.registry.LookupActive(ctx, studentID, examID)
	if err != nil {
		return nil, err
	}
	if live != nil {
		if !live.Expired(s.clock()) {
			return nil, &ConflictError{Existing: live, Reason: "a live attempt already exists"}
		}
		if _, err := s.Submit(ctx, live.ID, model.SubmitTriggerExpiry); err != nil && !errors.Is(err, ErrInvalidState) {
			return nil, fmt.Errorf("expire overdue attempt: %w", err)
		}
	}

	if exam.MaxAttempts > 0 {
		used, err := s.attempts.CountByStudentExam(ctx, studentID, examID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if used >= exam.MaxAttempts {
			latest, err := s.attempts.LatestByStudentExam(ctx, studentID, examID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("get latest attempt: %w", err)
			}
			return nil, &ConflictError{Existing: latest, LimitReached: true, Reason: "attempt limit reached"}
		}
	}

	startedAt := s.clock()
	attempt := &model.Attempt{
		ExamID:         examID,
		StudentID:      studentID,
		StartedAt:      startedAt,
		Deadline:       startedAt.Add(exam.Duration()),
		Status:         model.AttemptStatusInProgress,
		TotalQuestions: exam.TotalQuestions(),
	}
	if err := s.registry.Register(ctx, attempt); err != nil {
		return nil, err
	}

	s.arm(ctx, attempt)

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("deadline", attempt.Deadline).
		Msg("Attempt started")

	return attempt, nil
}

// StartOrResume is start-exam as the student UI sees it: a reload lands back
// in the live attempt with its original deadline.
func (s *AttemptService) StartOrResume(ctx context.Context, studentID int, examID uuid.UUID) (*model.Attempt, bool, error) {
	attempt, err := s.StartAttempt(ctx, studentID, examID)
	if err == nil {
		return attempt, false, nil
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) && conflict.Existing == nil && !conflict.LimitReached {
		// The concurrent winner closed before we could see it; the slot is free again.
		attempt, err = s.StartAttempt(ctx, studentID, examID)
		if err == nil {
			return attempt, false, nil
		}
	}
	if errors.As(err, &conflict) && conflict.Resumable() {
		// Arm is idempotent; this heals a deadline lost with the scheduler.
		s.arm(ctx, conflict.Existing)
		return conflict.Existing, true, nil
	}
	return nil, false, err
}

// arm schedules the expiry. A failure is logged and healed by the reconcile job,
// which re-arms every live attempt from the database.
func (s *AttemptService) arm(ctx context.Context, a *model.Attempt) {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.deadlines.Arm(ctx, a.ID, a.Deadline)
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", a.ID.String()).
			Msg("Failed to arm deadline")
	}
}

// loadOwned fetches an attempt and hides attempts of other students.
func (s *AttemptService) loadOwned(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, attemptNotFound(attemptID)
	}
	return attempt, nil
}

// RecordAnswer autosaves one answer. Saving the same question again overwrites
// the payload and bumps saved_at. The status check is repeated inside the
// store's transaction.
func (s *AttemptService) RecordAnswer(ctx context.Context, studentID int, attemptID, questionID uuid.UUID, payload json.RawMessage) (*model.Answer, error) {
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "record answer"}
	}
	if attempt.Expired(now) {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "record answer", Reason: "deadline passed"}
	}

	exam, err := s.catalog.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	if exam.Question(questionID) == nil {
		return nil, &NotFoundError{Resource: "question", ID: questionID.String()}
	}

	var saved *model.Answer
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var saveErr error
		saved, saveErr = s.answers.Save(ctx, attemptID, questionID, payload, now)
		return saveErr
	})
	if errors.Is(err, repository.ErrAttemptNotWritable) {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "record answer", Reason: "attempt closed"}
	}
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	return saved, nil
}

// Submit closes an in_progress attempt. Exactly one caller wins the
// transition; every other caller gets an InvalidStateError and triggers no
// side effects.
//
// An expiry that fires before the persisted deadline is rejected and re-armed.
// A manual submit that arrives after the deadline is recorded as
// expired_submitted.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, trigger model.SubmitTrigger) (*model.Attempt, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("unknown submit trigger %q", trigger)
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, attemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "submit", Reason: "already submitted"}
	}

	now := s.clock()
	if trigger == model.SubmitTriggerExpiry && !attempt.Expired(now) {
		s.arm(ctx, attempt)
		return nil, &InvalidStateError{AttemptID: attemptID, Status: attempt.Status, Op: "expire", Reason: "deadline not reached"}
	}

	target := trigger.TerminalStatus()
	if attempt.Expired(now) {
		target = model.AttemptStatusExpiredSubmitted
	}

	var (
		closed  *model.Attempt
		retried bool
	)
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var casErr error
		closed, casErr = s.attempts.CompareAndSetStatus(ctx, attemptID, model.AttemptStatusInProgress, target, now)
		if casErr != nil && !errors.Is(casErr, repository.ErrStatusConflict) {
			retried = true
		}
		return casErr
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		current, getErr := s.attempts.GetByID(ctx, attemptID)
		if getErr == nil && retried && wroteTransition(current, target, now) {
			// An earlier try committed before its error reached us.
			closed, err = current, nil
		} else {
			status := model.AttemptStatus("unknown")
			if getErr == nil {
				status = current.Status
			}
			return nil, &InvalidStateError{AttemptID: attemptID, Status: status, Op: "submit", Reason: "lost submission race"}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("close attempt: %w", err)
	}

	s.afterSubmit(ctx, closed, trigger)
	return closed, nil
}

// wroteTransition reports whether a carries the transition this call attempted.
func wroteTransition(a *model.Attempt, target model.AttemptStatus, at time.Time) bool {
	return a.Status == target && a.SubmittedAt != nil && a.SubmittedAt.Equal(at)
}

// afterSubmit runs only for the winner of the transition.
func (s *AttemptService) afterSubmit(ctx context.Context, a *model.Attempt, trigger model.SubmitTrigger) {
	log := s.log.With().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", a.ExamID.String()).
		Int("student_id", a.StudentID).
		Str("trigger", string(trigger)).
		Str("status", string(a.Status)).
		Logger()

	if err := s.deadlines.Disarm(ctx, a.ID); err != nil {
		// A stale fire is rejected by the status check.
		log.Warn().Err(err).Msg("Failed to disarm deadline")
	}

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.dispatcher.Dispatch(ctx, a.ID)
	})
	if err != nil {
		// finalized_at stays NULL, so the reconcile job re-enqueues it.
		log.Error().Err(err).Msg("Failed to dispatch submission, left for reconcile")
	}

	evType := model.AttemptEventSubmitted
	if a.Status == model.AttemptStatusExpiredSubmitted {
		evType = model.AttemptEventExpired
	}
	ev := model.AttemptEvent{
		Type:       evType,
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		StudentID:  a.StudentID,
		Status:     a.Status,
		OccurredAt: s.clock(),
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("Failed to notify attempt event")
	}

	log.Info().Msg("Attempt submitted")
}

// SubmitManual is the student's submit button.
func (s *AttemptService) SubmitManual(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	if _, err := s.loadOwned(ctx, studentID, attemptID); err != nil {
		return nil, err
	}
	return s.Submit(ctx, attemptID, model.SubmitTriggerManual)
}

// Expire is the deadline callback.
func (s *AttemptService) Expire(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.Submit(ctx, attemptID, model.SubmitTriggerExpiry)
	return err
}

// GetState returns what a reloading client needs: remaining time, questions
// without keys and the saved answers.
func (s *AttemptService) GetState(ctx context.Context, studentID int, attemptID uuid.UUID) (*model.AttemptState, error) {
	attempt, err := s.loadOwned(ctx, studentID, attemptID)
	if err != nil {
		return nil, err
	}

	exam, err := s.catalog.GetExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}

	answers, err := s.answers.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	byQuestion := make(map[string]json.RawMessage, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID.String()] = a.Payload
	}

	now := s.clock()
	return &model.AttemptState{
		Attempt:          attempt,
		RemainingSeconds: int64(attempt.Remaining(now) / time.Second),
		ReadOnly:         attempt.Status != model.AttemptStatusInProgress || attempt.Expired(now),
		Questions:        exam.ForStudent(),
		Answers:          byQuestion,
	}, nil
}

// ReconcileReport summarizes one recovery sweep.
type ReconcileReport struct {
	Armed      int
	Expired    int
	Dispatched int
}

// Reconcile restores the scheduler and pipeline from persisted state: live
// attempts are re-armed, overdue ones are expired, and terminal attempts the
// pipeline never finished are enqueued again. Safe to run concurrently with
// normal traffic and on many processes at once.
func (s *AttemptService) Reconcile(ctx context.Context, unfinalizedLimit int) (ReconcileReport, error) {
	var report ReconcileReport

	live, err := s.registry.ListActive(ctx)
	if err != nil {
		return report, err
	}

	now := s.clock()
	for i := range live {
		a := &live[i]
		if !a.Expired(now) {
			if err := s.deadlines.Arm(ctx, a.ID, a.Deadline); err != nil {
				return report, fmt.Errorf("re-arm attempt %s: %w", a.ID, err)
			}
			report.Armed++
			continue
		}

		_, err := s.Submit(ctx, a.ID, model.SubmitTriggerExpiry)
		switch {
		case err == nil:
			report.Expired++
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound):
			// Closed by someone else since the listing.
		default:
			return report, fmt.Errorf("expire attempt %s: %w", a.ID, err)
		}
	}

	pending, err := s.attempts.ListUnfinalized(ctx, unfinalizedLimit)
	if err != nil {
		return report, fmt.Errorf("list unfinalized attempts: %w", err)
	}
	for _, a := range pending {
		if a.SubmittedAt != nil && now.Sub(*a.SubmittedAt) < unfinalizedGrace {
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, a.ID); err != nil {
			return report, fmt.Errorf("dispatch attempt %s: %w", a.ID, err)
		}
		report.Dispatched++
	}

	if report.Expired > 0 || report.Dispatched > 0 {
		s.log.Info().
			Int("armed", report.Armed).
			Int("expired", report.Expired).
			Int("dispatched", report.Dispatched).
			Msg("Reconcile sweep")
	}
	return report, nil
}

// unfinalizedGrace keeps the sweep off attempts whose pipeline job is most likely still queued.
const unfinalizedGrace = 30 * time.Second
