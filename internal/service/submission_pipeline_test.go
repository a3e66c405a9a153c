package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

func TestSubmissionPipeline_RunIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	exam := h.seedExam(4, 10, 1)
	a := h.start(student, exam.ID)
	h.answer(student, a.ID, exam.Questions[0].ID, `"A"`)
	h.answer(student, a.ID, exam.Questions[1].ID, `"B"`)
	if _, err := h.attempts.SubmitManual(context.Background(), student, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	first, err := h.pipeline.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := h.pipeline.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if *first != *second {
		t.Fatalf("reruns diverged:\n%+v\n%+v", first, second)
	}

	stored, err := h.store.Results().GetByAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("stored result: %v", err)
	}
	if stored.AnsweredCount != 2 || stored.Score != 1 {
		t.Fatalf("stored = %+v, want 2 answered and score 1", stored)
	}
	if got := h.attempt(a.ID).AnsweredCount; got != stored.AnsweredCount {
		t.Fatalf("attempt answered %d differs from result %d", got, stored.AnsweredCount)
	}
}

func TestSubmissionPipeline_RejectsLiveAttempt(t *testing.T) {
	h := newHarness(t, false)
	exam := h.seedExam(2, 10, 1)
	a := h.start(student, exam.ID)

	if _, err := h.pipeline.Run(context.Background(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if _, err := h.pipeline.Run(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmissionPipeline_PublishFailureLeavesUnfinalized(t *testing.T) {
	h := newHarness(t, false)
	exam := h.seedExam(2, 10, 1)
	a := h.start(student, exam.ID)
	if _, err := h.attempts.SubmitManual(context.Background(), student, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.pub.Err = errors.New("kafka: broker not available")
	if _, err := h.pipeline.Run(context.Background(), a.ID); err == nil {
		t.Fatal("expected publish failure")
	}
	if h.attempt(a.ID).FinalizedAt != nil {
		t.Fatal("attempt must stay unfinalized until the event is out")
	}

	h.pub.Err = nil
	if _, err := h.pipeline.Run(context.Background(), a.ID); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if h.attempt(a.ID).FinalizedAt == nil {
		t.Fatal("rerun should finalize")
	}
}

func TestResultService(t *testing.T) {
	ctx := context.Background()

	t.Run("in progress", func(t *testing.T) {
		h := newHarness(t, false)
		exam := h.seedExam(2, 10, 1)
		a := h.start(student, exam.ID)

		if _, err := h.results.ByAttempt(ctx, student, a.ID); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("computed before the pipeline ran", func(t *testing.T) {
		h := newHarness(t, false)
		exam := h.seedExam(3, 10, 1)
		a := h.start(student, exam.ID)
		h.answer(student, a.ID, exam.Questions[2].ID, `"a"`)
		if _, err := h.attempts.SubmitManual(ctx, student, a.ID); err != nil {
			t.Fatalf("submit: %v", err)
		}

		res, err := h.results.ByExam(ctx, student, exam.ID)
		if err != nil {
			t.Fatalf("ByExam: %v", err)
		}
		if res.AnsweredCount != 1 || res.Score != 1 || res.ScoreStatus != model.ScoreStatusProvisional {
			t.Fatalf("result = %+v", res)
		}
		if _, err := h.store.Results().GetByAttempt(ctx, a.ID); err == nil {
			t.Fatal("a read must not persist the projection")
		}
	})

	t.Run("other student", func(t *testing.T) {
		h := newHarness(t, true)
		exam := h.seedExam(2, 10, 1)
		a := h.start(student, exam.ID)
		if _, err := h.attempts.SubmitManual(ctx, student, a.ID); err != nil {
			t.Fatalf("submit: %v", err)
		}

		if _, err := h.results.ByAttempt(ctx, student+1, a.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if _, err := h.results.ByExam(ctx, student+1, exam.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestReviewService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	exam := h.seedExam(3, 10, 1)

	a := h.start(student, exam.ID)
	h.answer(student, a.ID, exam.Questions[0].ID, `"A"`)
	h.answer(student, a.ID, exam.Questions[1].ID, `"D"`)

	if _, err := h.review.FrozenAnswers(ctx, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("live attempt err = %v, want ErrInvalidState", err)
	}
	if _, err := h.review.MarkGraded(ctx, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("grading a live attempt err = %v, want ErrInvalidState", err)
	}

	h.clock.Advance(11 * time.Minute)
	if err := h.attempts.Expire(ctx, a.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	answers, err := h.review.FrozenAnswers(ctx, a.ID)
	if err != nil {
		t.Fatalf("FrozenAnswers: %v", err)
	}
	if len(answers) != 2 || answers[0].QuestionID != exam.Questions[0].ID {
		t.Fatalf("answers = %+v, want 2 in question order", answers)
	}

	list, total, err := h.review.ListTerminal(ctx, exam.ID, 1, 20)
	if err != nil {
		t.Fatalf("ListTerminal: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("list = %+v total %d", list, total)
	}

	graded, err := h.review.MarkGraded(ctx, a.ID)
	if err != nil {
		t.Fatalf("MarkGraded: %v", err)
	}
	if graded.Status != model.AttemptStatusGraded {
		t.Fatalf("status = %s, want graded", graded.Status)
	}
	if cached, _ := h.cache.Get(ctx, a.ID); cached != nil {
		t.Fatal("grading should drop the cached result")
	}

	res, err := h.results.ByAttempt(ctx, student, a.ID)
	if err != nil {
		t.Fatalf("ByAttempt: %v", err)
	}
	if res.Status != model.AttemptStatusGraded || res.ScoreStatus != model.ScoreStatusFinal {
		t.Fatalf("result status = %s/%s, want graded/final", res.Status, res.ScoreStatus)
	}

	if _, err := h.review.MarkGraded(ctx, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second grade err = %v, want ErrInvalidState", err)
	}
	if _, err := h.review.MarkGraded(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown attempt err = %v, want ErrNotFound", err)
	}
	if _, _, err := h.review.ListTerminal(ctx, uuid.New(), 1, 20); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown exam err = %v, want ErrNotFound", err)
	}
	if h.notifier.Count(a.ID, model.AttemptEventGraded) != 1 {
		t.Fatal("expected one graded event")
	}
}
