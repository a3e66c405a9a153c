// Package memory is an in-process implementation of the engine's persistence
// ports. It reports the same sentinel errors as the PostgreSQL repositories
// and is used by tests and local tooling.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// Store holds every table behind one mutex, which gives each call the
// atomicity of a single SQL statement.
type Store struct {
	mu       sync.Mutex
	exams    map[uuid.UUID]model.Exam
	attempts map[uuid.UUID]model.Attempt
	answers  map[uuid.UUID]map[uuid.UUID]model.Answer
	results  map[uuid.UUID]model.Result

	// FailOp, when set, is consulted before every operation; a non-nil
	// return aborts it. op is "<table>.<method>", e.g. "attempts.Create".
	FailOp func(op string) error
}

func New() *Store {
	return &Store{
		exams:    make(map[uuid.UUID]model.Exam),
		attempts: make(map[uuid.UUID]model.Attempt),
		answers:  make(map[uuid.UUID]map[uuid.UUID]model.Answer),
		results:  make(map[uuid.UUID]model.Result),
	}
}

func (s *Store) check(op string) error {
	if s.FailOp == nil {
		return nil
	}
	return s.FailOp(op)
}

// PutExam seeds the catalog. Questions get the exam's ID.
func (s *Store) PutExam(e model.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := make([]model.Question, len(e.Questions))
	copy(qs, e.Questions)
	for i := range qs {
		qs[i].ExamID = e.ID
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].OrderNum < qs[j].OrderNum })
	e.Questions = qs
	s.exams[e.ID] = e
}

// SetExamActive toggles is_active, the one catalog edit allowed on a used exam.
func (s *Store) SetExamActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.exams[id]; ok {
		e.IsActive = active
		s.exams[id] = e
	}
}

// PutAttempt inserts or replaces an attempt row as is, bypassing the live-attempt index.
func (s *Store) PutAttempt(a model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = cloneAttempt(a)
}

func (s *Store) Exams() *ExamStore       { return &ExamStore{s: s} }
func (s *Store) Attempts() *AttemptStore { return &AttemptStore{s: s} }
func (s *Store) Answers() *AnswerStore   { return &AnswerStore{s: s} }
func (s *Store) Results() *ResultStore   { return &ResultStore{s: s} }

func cloneAttempt(a model.Attempt) model.Attempt {
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		a.SubmittedAt = &t
	}
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		a.FinalizedAt = &t
	}
	return a
}

func ptr(a model.Attempt) *model.Attempt {
	c := cloneAttempt(a)
	return &c
}

// ─── Exams ─────────────────────────────────────────────────────────────

type ExamStore struct{ s *Store }

func (r *ExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if err := r.s.check("exams.GetByID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	qs := make([]model.Question, len(e.Questions))
	copy(qs, e.Questions)
	e.Questions = qs
	return &e, nil
}

func (r *ExamStore) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	if err := r.s.check("exams.IsActive"); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.exams[id]
	if !ok {
		return false, pgx.ErrNoRows
	}
	return e.IsActive, nil
}

// ─── Attempts ──────────────────────────────────────────────────────────

type AttemptStore struct{ s *Store }

func (r *AttemptStore) Create(_ context.Context, a *model.Attempt) error {
	if err := r.s.check("attempts.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.attempts {
		if cur.StudentID == a.StudentID && cur.ExamID == a.ExamID && cur.Status == model.AttemptStatusInProgress {
			return repository.ErrDuplicateActive
		}
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	r.s.attempts[a.ID] = cloneAttempt(*a)
	return nil
}

func (r *AttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	if err := r.s.check("attempts.GetByID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ptr(a), nil
}

func (r *AttemptStore) GetActive(_ context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	if err := r.s.check("attempts.GetActive"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.attempts {
		if a.StudentID == studentID && a.ExamID == examID && a.Status == model.AttemptStatusInProgress {
			return ptr(a), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *AttemptStore) LatestByStudentExam(_ context.Context, studentID int, examID uuid.UUID) (*model.Attempt, error) {
	if err := r.s.check("attempts.LatestByStudentExam"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.Attempt
	for _, a := range r.s.attempts {
		if a.StudentID != studentID || a.ExamID != examID {
			continue
		}
		if latest == nil || a.StartedAt.After(latest.StartedAt) {
			latest = ptr(a)
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return latest, nil
}

func (r *AttemptStore) CountByStudentExam(_ context.Context, studentID int, examID uuid.UUID) (int, error) {
	if err := r.s.check("attempts.CountByStudentExam"); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.attempts {
		if a.StudentID == studentID && a.ExamID == examID {
			n++
		}
	}
	return n, nil
}

func (r *AttemptStore) CompareAndSetStatus(_ context.Context, id uuid.UUID, from, to model.AttemptStatus, at time.Time) (*model.Attempt, error) {
	if err := r.s.check("attempts.CompareAndSetStatus"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok || a.Status != from {
		return nil, repository.ErrStatusConflict
	}
	a.Status = to
	if a.SubmittedAt == nil {
		t := at
		a.SubmittedAt = &t
	}
	r.s.attempts[id] = a
	return ptr(a), nil
}

func (r *AttemptStore) MarkFinalized(_ context.Context, id uuid.UUID, answeredCount int, at time.Time) error {
	if err := r.s.check("attempts.MarkFinalized"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok || a.Status == model.AttemptStatusInProgress {
		return nil
	}
	a.AnsweredCount = answeredCount
	t := at
	a.FinalizedAt = &t
	r.s.attempts[id] = a
	return nil
}

func (r *AttemptStore) MarkGraded(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	if err := r.s.check("attempts.MarkGraded"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok || (a.Status != model.AttemptStatusSubmitted && a.Status != model.AttemptStatusExpiredSubmitted) {
		return nil, repository.ErrStatusConflict
	}
	a.Status = model.AttemptStatusGraded
	r.s.attempts[id] = a
	return ptr(a), nil
}

func (r *AttemptStore) filter(keep func(a *model.Attempt) bool, less func(a, b *model.Attempt) bool) []model.Attempt {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Attempt
	for _, a := range r.s.attempts {
		if keep(&a) {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

func submittedAt(a *model.Attempt) time.Time {
	if a.SubmittedAt == nil {
		return time.Time{}
	}
	return *a.SubmittedAt
}

func (r *AttemptStore) ListInProgress(_ context.Context) ([]model.Attempt, error) {
	if err := r.s.check("attempts.ListInProgress"); err != nil {
		return nil, err
	}
	return r.filter(
		func(a *model.Attempt) bool { return a.Status == model.AttemptStatusInProgress },
		func(a, b *model.Attempt) bool { return a.Deadline.Before(b.Deadline) },
	), nil
}

func (r *AttemptStore) ListUnfinalized(_ context.Context, limit int) ([]model.Attempt, error) {
	if err := r.s.check("attempts.ListUnfinalized"); err != nil {
		return nil, err
	}
	out := r.filter(
		func(a *model.Attempt) bool { return a.Status != model.AttemptStatusInProgress && a.FinalizedAt == nil },
		func(a, b *model.Attempt) bool { return submittedAt(a).Before(submittedAt(b)) },
	)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AttemptStore) ListTerminalByExam(_ context.Context, examID uuid.UUID, limit, offset int) ([]model.Attempt, int, error) {
	if err := r.s.check("attempts.ListTerminalByExam"); err != nil {
		return nil, 0, err
	}
	out := r.filter(
		func(a *model.Attempt) bool { return a.ExamID == examID && a.Status != model.AttemptStatusInProgress },
		func(a, b *model.Attempt) bool { return submittedAt(a).After(submittedAt(b)) },
	)
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// ─── Answers ───────────────────────────────────────────────────────────

type AnswerStore struct{ s *Store }

func (r *AnswerStore) Save(_ context.Context, attemptID, questionID uuid.UUID, payload json.RawMessage, savedAt time.Time) (*model.Answer, error) {
	if err := r.s.check("answers.Save"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[attemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if a.Status != model.AttemptStatusInProgress || !savedAt.Before(a.Deadline) {
		return nil, repository.ErrAttemptNotWritable
	}

	ans := model.Answer{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Payload:    append(json.RawMessage(nil), payload...),
		SavedAt:    savedAt,
	}
	if r.s.answers[attemptID] == nil {
		r.s.answers[attemptID] = make(map[uuid.UUID]model.Answer)
	}
	r.s.answers[attemptID][questionID] = ans
	return &ans, nil
}

func (r *AnswerStore) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	if err := r.s.check("answers.ListByAttempt"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	order := map[uuid.UUID]int{}
	if a, ok := r.s.attempts[attemptID]; ok {
		for _, q := range r.s.exams[a.ExamID].Questions {
			order[q.ID] = q.OrderNum
		}
	}

	out := make([]model.Answer, 0, len(r.s.answers[attemptID]))
	for _, ans := range r.s.answers[attemptID] {
		out = append(out, ans)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := order[out[i].QuestionID], order[out[j].QuestionID]
		if oi != oj {
			return oi < oj
		}
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out, nil
}

// ─── Results ───────────────────────────────────────────────────────────

type ResultStore struct{ s *Store }

func (r *ResultStore) Upsert(_ context.Context, res *model.Result) error {
	if err := r.s.check("results.Upsert"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.results[res.AttemptID] = *res
	return nil
}

// GetByAttempt reads status from the attempt row, as the SQL join does.
func (r *ResultStore) GetByAttempt(_ context.Context, attemptID uuid.UUID) (*model.Result, error) {
	if err := r.s.check("results.GetByAttempt"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.results[attemptID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if a, ok := r.s.attempts[attemptID]; ok {
		res.Status = a.Status
		res.ExamID = a.ExamID
		res.StudentID = a.StudentID
	}
	return &res, nil
}
