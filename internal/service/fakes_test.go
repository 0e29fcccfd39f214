package service

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/ticket-mailer/internal/domain"
	"github.com/kursadbilgin/ticket-mailer/internal/provider"
	"github.com/kursadbilgin/ticket-mailer/internal/queue"
	"github.com/kursadbilgin/ticket-mailer/internal/ratelimit"
	"github.com/kursadbilgin/ticket-mailer/internal/repository"
)

// memoryTicketRepo mirrors GormTicketRepo's conditional updates in memory.
type memoryTicketRepo struct {
	mu      sync.Mutex
	tickets map[int64]*domain.Ticket
	now     time.Time

	claimErr   error
	fetchErr   error
	markErr    error
	listErr    error
	releaseErr error

	fetchCalls int
}

var _ repository.TicketRepository = (*memoryTicketRepo)(nil)

func newMemoryTicketRepo(tickets ...domain.Ticket) *memoryTicketRepo {
	repo := &memoryTicketRepo{
		tickets: make(map[int64]*domain.Ticket, len(tickets)),
		now:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	for i := range tickets {
		t := tickets[i]
		if t.Status == "" {
			t.Status = domain.StatusReceived
		}
		repo.tickets[t.ID] = &t
	}
	return repo
}

func (r *memoryTicketRepo) Claim(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.claimErr != nil {
		return false, r.claimErr
	}
	t, ok := r.tickets[id]
	if !ok || t.Status != domain.StatusReceived {
		return false, nil
	}
	t.Status = domain.StatusProcessing
	return true, nil
}

func (r *memoryTicketRepo) Fetch(ctx context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetchCalls++
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	t, ok := r.tickets[id]
	if !ok || t.Status != domain.StatusProcessing {
		return nil, domain.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *memoryTicketRepo) MarkCompleted(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markErr != nil {
		return r.markErr
	}
	t, ok := r.tickets[id]
	if !ok {
		return domain.ErrNotFound
	}
	sentAt := r.now
	t.Status = domain.StatusCompleted
	t.SentAt = &sentAt
	return nil
}

func (r *memoryTicketRepo) MarkRejected(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markErr != nil {
		return r.markErr
	}
	t, ok := r.tickets[id]
	if !ok {
		return domain.ErrNotFound
	}
	sentAt := r.now
	t.SentAt = &sentAt
	return nil
}

func (r *memoryTicketRepo) ListPending(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}
	ids := make([]int64, 0, len(r.tickets))
	for id, t := range r.tickets {
		if t.Status == domain.StatusReceived || t.Status == domain.StatusProcessing {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryTicketRepo) ReleaseInFlight(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.releaseErr != nil {
		return 0, r.releaseErr
	}
	var released int64
	for _, t := range r.tickets {
		if t.Status == domain.StatusProcessing && t.SentAt == nil {
			t.Status = domain.StatusReceived
			released++
		}
	}
	return released, nil
}

func (r *memoryTicketRepo) get(id int64) domain.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	return *r.tickets[id]
}

type fakeMailer struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg provider.Message) error
	sent   []provider.Message
}

func (f *fakeMailer) Send(ctx context.Context, msg provider.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	sendFn := f.sendFn
	f.mu.Unlock()

	if sendFn != nil {
		return sendFn(ctx, msg)
	}
	return nil
}

func (f *fakeMailer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sent)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type pollItem struct {
	payload string
	err     error
}

// fakeListener hands out one scripted batch per Poll call.
type fakeListener struct {
	mu          sync.Mutex
	subscribeFn func(ctx context.Context, channel string) error
	batches     [][]pollItem
	subscribed  []string
	polls       int
}

var _ queue.Listener = (*fakeListener)(nil)

func (f *fakeListener) Subscribe(ctx context.Context, channel string) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, channel)
	subscribeFn := f.subscribeFn
	f.mu.Unlock()

	if subscribeFn != nil {
		return subscribeFn(ctx, channel)
	}
	return nil
}

func (f *fakeListener) Poll(ctx context.Context) iter.Seq2[string, error] {
	f.mu.Lock()
	f.polls++
	var batch []pollItem
	if len(f.batches) > 0 {
		batch = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, item := range batch {
			if !yield(item.payload, item.err) {
				return
			}
		}
	}
}

func (f *fakeListener) Ping(ctx context.Context) error {
	return nil
}

func (f *fakeListener) Close(ctx context.Context) error {
	return nil
}

// recordingProcessor records ids in call order.
type recordingProcessor struct {
	mu        sync.Mutex
	ids       []int64
	processFn func(ctx context.Context, id int64) Outcome
}

func (p *recordingProcessor) Process(ctx context.Context, id int64) Outcome {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	processFn := p.processFn
	p.mu.Unlock()

	if processFn != nil {
		return processFn(ctx, id)
	}
	return OutcomeSent
}

func (p *recordingProcessor) processed() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]int64(nil), p.ids...)
}
