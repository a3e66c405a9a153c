package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exam-engine/internal/repository"
)

func TestInfraClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retrier.Action
	}{
		{"nil", nil, retrier.Succeed},
		{"network", errors.New("dial tcp: connection refused"), retrier.Retry},
		{"not found", &NotFoundError{Resource: "exam", ID: "x"}, retrier.Fail},
		{"invalid state", fmt.Errorf("wrap: %w", &InvalidStateError{AttemptID: uuid.New()}), retrier.Fail},
		{"no rows", pgx.ErrNoRows, retrier.Fail},
		{"duplicate", repository.ErrDuplicateActive, retrier.Fail},
		{"cas lost", repository.ErrStatusConflict, retrier.Fail},
		{"closed attempt", repository.ErrAttemptNotWritable, retrier.Fail},
		{"canceled", context.Canceled, retrier.Fail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (infraClassifier{}).Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetrier_Do(t *testing.T) {
	r := NewRetrier(3, time.Millisecond)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("i/o timeout")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v calls = %d, want success on the third call", err, calls)
	}

	calls = 0
	err = r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})
	if err == nil || calls != 3 {
		t.Fatalf("err = %v calls = %d, want failure after 3 calls", err, calls)
	}

	calls = 0
	err = r.Do(context.Background(), func(context.Context) error {
		calls++
		return repository.ErrStatusConflict
	})
	if !errors.Is(err, repository.ErrStatusConflict) || calls != 1 {
		t.Fatalf("err = %v calls = %d, want one call", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	if err := r.Do(ctx, func(context.Context) error { calls++; return nil }); !errors.Is(err, context.Canceled) || calls != 0 {
		t.Fatalf("err = %v calls = %d, want canceled before any call", err, calls)
	}
}

func TestSessionRegistry(t *testing.T) {
	h := newHarness(t, false)
	exam := h.seedExam(1, 5, 3)
	reg := NewSessionRegistry(h.store.Attempts())
	ctx := context.Background()

	live, err := reg.LookupActive(ctx, student, exam.ID)
	if err != nil || live != nil {
		t.Fatalf("LookupActive on empty = %v, %v", live, err)
	}

	a := h.start(student, exam.ID)

	dup := *a
	err = reg.Register(ctx, &dup)
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.Existing == nil || conflict.Existing.ID != a.ID {
		t.Fatalf("Register duplicate err = %v, want conflict carrying %s", err, a.ID)
	}

	active, err := reg.ListActive(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActive = %v, %v", active, err)
	}
}
