package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exam-engine/internal/model"
)

// Scheduler records armed deadlines.
type Scheduler struct {
	mu    sync.Mutex
	armed map[uuid.UUID]time.Time
	Arms  int
	Err   error
}

func NewScheduler() *Scheduler {
	return &Scheduler{armed: make(map[uuid.UUID]time.Time)}
}

func (s *Scheduler) Arm(_ context.Context, id uuid.UUID, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Arms++
	s.armed[id] = deadline
	return nil
}

func (s *Scheduler) Disarm(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, id)
	return nil
}

// Deadline returns the armed deadline of an attempt.
func (s *Scheduler) Deadline(id uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.armed[id]
	return t, ok
}

// Dispatcher records dispatched attempts. Sink, when set, is called inline.
type Dispatcher struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	Err  error
	Sink func(ctx context.Context, id uuid.UUID)
}

func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	d.mu.Lock()
	if d.Err != nil {
		d.mu.Unlock()
		return d.Err
	}
	d.ids = append(d.ids, id)
	sink := d.Sink
	d.mu.Unlock()
	if sink != nil {
		sink(ctx, id)
	}
	return nil
}

func (d *Dispatcher) Dispatched() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.ids...)
}

// Notifier records attempt events.
type Notifier struct {
	mu     sync.Mutex
	events []model.AttemptEvent
}

func (n *Notifier) Notify(_ context.Context, ev model.AttemptEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *Notifier) Events() []model.AttemptEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.AttemptEvent(nil), n.events...)
}

// Count returns how many events of type t were recorded for an attempt.
func (n *Notifier) Count(id uuid.UUID, t model.AttemptEventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.AttemptID == id && ev.Type == t {
			c++
		}
	}
	return c
}

// Publisher records finalized results.
type Publisher struct {
	mu        sync.Mutex
	published []model.Result
	Err       error
}

func (p *Publisher) PublishFinalized(_ context.Context, res *model.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.published = append(p.published, *res)
	return nil
}

func (p *Publisher) Published() []model.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Result(nil), p.published...)
}

// ResultCache is a map-backed result cache.
type ResultCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]model.Result
}

func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[uuid.UUID]model.Result)}
}

func (c *ResultCache) Get(_ context.Context, id uuid.UUID) (*model.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (c *ResultCache) Set(_ context.Context, res *model.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[res.AttemptID] = *res
	return nil
}

func (c *ResultCache) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}
