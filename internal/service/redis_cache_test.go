package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository/memory"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

type countingReader struct {
	ExamReader
	calls atomic.Int32
}

func (r *countingReader) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	r.calls.Add(1)
	return r.ExamReader.GetByID(ctx, id)
}

func TestCatalogService_CachesDefinition(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := memory.New()
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Chemistry Quiz",
		DurationMinutes: 15,
		IsActive:        true,
		Questions: []model.Question{
			{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectOptions: []string{"B"}, ScoreValue: 1, OrderNum: 1},
		},
	}
	store.PutExam(exam)

	reader := &countingReader{ExamReader: store.Exams()}
	catalog := NewCatalogService(reader, rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := catalog.GetExam(ctx, exam.ID)
		if err != nil {
			t.Fatalf("GetExam: %v", err)
		}
		if got.Title != exam.Title || len(got.Questions) != 1 || got.Questions[0].CorrectOptions[0] != "B" {
			t.Fatalf("exam = %+v", got)
		}
	}
	if n := reader.calls.Load(); n != 1 {
		t.Fatalf("database reads = %d, want 1", n)
	}

	key := config.CacheKey.ExamDefinitionKey(exam.ID.String())
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	if err := catalog.Invalidate(ctx, exam.ID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("definition should be evicted")
	}

	mr.Set(key, "{not json")
	if _, err := catalog.GetExam(ctx, exam.ID); err != nil {
		t.Fatalf("corrupt entry should fall back to the database: %v", err)
	}
	if n := reader.calls.Load(); n != 2 {
		t.Fatalf("database reads = %d, want 2", n)
	}
}

func TestStartAttempt_ClosedExamRejectedDespiteCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := memory.New()
	exam := model.Exam{
		ID:              uuid.New(),
		Title:           "Physics Final",
		DurationMinutes: 30,
		IsActive:        true,
		Questions: []model.Question{
			{ID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectOptions: []string{"A"}, ScoreValue: 1, OrderNum: 1},
		},
	}
	store.PutExam(exam)

	catalog := NewCatalogService(store.Exams(), rdb, time.Hour, zerolog.Nop())
	attempts := NewAttemptService(catalog, store.Attempts(), store.Answers(), memory.NewScheduler(), &memory.Dispatcher{},
		&memory.Notifier{}, NewRetrier(1, time.Millisecond), zerolog.Nop())
	ctx := context.Background()

	if _, err := catalog.GetExam(ctx, exam.ID); err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	key := config.CacheKey.ExamDefinitionKey(exam.ID.String())
	if !mr.Exists(key) {
		t.Fatal("definition should be cached")
	}

	store.SetExamActive(exam.ID, false)

	_, err := attempts.StartAttempt(ctx, 7, exam.ID)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "exam" {
		t.Fatalf("err = %v, want exam NotFoundError", err)
	}
	if mr.Exists(key) {
		t.Fatal("closed exam should be dropped from the cache")
	}

	store.SetExamActive(exam.ID, true)
	if _, err := attempts.StartAttempt(ctx, 7, exam.ID); err != nil {
		t.Fatalf("reopened exam: %v", err)
	}
}

func TestCatalogService_UnknownExam(t *testing.T) {
	_, rdb := newTestRedis(t)
	catalog := NewCatalogService(memory.New().Exams(), rdb, time.Minute, zerolog.Nop())

	_, err := catalog.GetExam(context.Background(), uuid.New())
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Resource != "exam" {
		t.Fatalf("err = %v, want exam NotFoundError", err)
	}
}

func TestRedisResultCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := NewRedisResultCache(rdb, 10*time.Minute)
	ctx := context.Background()
	id := uuid.New()

	if res, err := cache.Get(ctx, id); res != nil || err != nil {
		t.Fatalf("miss = %v, %v; want nil, nil", res, err)
	}

	want := &model.Result{AttemptID: id, AnsweredCount: 7, TotalQuestions: 10, Score: 6, ScoreStatus: model.ScoreStatusProvisional}
	if err := cache.Set(ctx, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := cache.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.AnsweredCount != 7 || got.TotalQuestions != 10 || got.Score != 6 {
		t.Fatalf("cached = %+v", got)
	}
	if ttl := mr.TTL(config.CacheKey.AttemptResultKey(id.String())); ttl != 10*time.Minute {
		t.Fatalf("ttl = %v, want 10m", ttl)
	}

	if err := cache.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if res, _ := cache.Get(ctx, id); res != nil {
		t.Fatal("entry should be gone")
	}
}

func TestRedisNotifier_PublishesToAttemptChannel(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()
	id := uuid.New()

	sub := rdb.Subscribe(ctx, config.CacheKey.AttemptEventsChannel(id.String()))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := model.AttemptEvent{Type: model.AttemptEventExpired, AttemptID: id, Status: model.AttemptStatusExpiredSubmitted}
	if err := NewRedisNotifier(rdb).Notify(ctx, ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload == "" {
			t.Fatal("empty payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
