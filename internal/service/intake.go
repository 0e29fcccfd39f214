package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/ticket-mailer/internal/observability"
	"github.com/kursadbilgin/ticket-mailer/internal/queue"
	"github.com/kursadbilgin/ticket-mailer/internal/repository"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// IntakeState is the lifecycle stage of the intake loop.
type IntakeState int32

const (
	StateStarting IntakeState = iota
	StateBacklogDraining
	StateSteady
	StateStopped
)

func (s IntakeState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateBacklogDraining:
		return "backlog-draining"
	case StateSteady:
		return "steady-state"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Processor handles one ticket id.
type Processor interface {
	Process(ctx context.Context, id int64) Outcome
}

// Gate reports whether sends may resume. *ratelimit.CooldownGate satisfies it.
type Gate interface {
	Allow() bool
}

type IntakeOptions struct {
	Channel      string
	PollInterval time.Duration
	// RescanInterval re-runs the backlog scan periodically. Zero disables it.
	RescanInterval time.Duration
	QueryTimeout   time.Duration
	// Gate, when set, triggers a backlog scan as soon as a cool-down that
	// deferred tickets has ended.
	Gate Gate
}

// Intake subscribes to the ticket channel, recovers the backlog and then feeds
// notified ticket ids to the processor one at a time.
type Intake struct {
	listener       queue.Listener
	tickets        repository.TicketRepository
	processor      Processor
	channel        string
	pollInterval   time.Duration
	rescanInterval time.Duration
	queryTimeout   time.Duration
	gate           Gate
	logger         *zap.Logger
	metrics        *observability.Metrics

	// deferred is only touched by the Run goroutine.
	deferred bool

	state   atomic.Int32
	started atomic.Bool
}

func NewIntake(
	listener queue.Listener,
	tickets repository.TicketRepository,
	processor Processor,
	opts IntakeOptions,
	logger *zap.Logger,
) (*Intake, error) {
	if listener == nil {
		return nil, fmt.Errorf("listener is required")
	}
	if tickets == nil {
		return nil, fmt.Errorf("ticket repository is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	channel := strings.TrimSpace(opts.Channel)
	if channel == "" {
		return nil, fmt.Errorf("notify channel is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RescanInterval < 0 {
		opts.RescanInterval = 0
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Intake{
		listener:       listener,
		tickets:        tickets,
		processor:      processor,
		channel:        channel,
		pollInterval:   opts.PollInterval,
		rescanInterval: opts.RescanInterval,
		queryTimeout:   opts.QueryTimeout,
		gate:           opts.Gate,
		logger:         logger,
	}, nil
}

func (i *Intake) SetMetrics(metrics *observability.Metrics) {
	if i == nil {
		return
	}
	i.metrics = metrics
}

func (i *Intake) State() IntakeState {
	return IntakeState(i.state.Load())
}

// Ready reports whether the startup backlog has been drained and the loop is
// still running.
func (i *Intake) Ready() bool {
	return i.started.Load() && i.State() != StateStopped
}

// Run blocks until ctx is canceled. Only a failed subscription is returned as
// an error; everything after that is logged and retried on the next tick.
func (i *Intake) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer i.setState(StateStopped)

	i.setState(StateStarting)
	if err := i.listener.Subscribe(ctx, i.channel); err != nil {
		return fmt.Errorf("failed to subscribe to channel %q: %w", i.channel, err)
	}
	i.logger.Info("listening for new tickets", zap.String("channel", i.channel))

	i.drainBacklog(ctx)
	i.started.Store(true)

	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	var rescan <-chan time.Time
	if i.rescanInterval > 0 {
		rescanTicker := time.NewTicker(i.rescanInterval)
		defer rescanTicker.Stop()
		rescan = rescanTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			i.logger.Info("intake loop stopped")
			return nil
		case <-ticker.C:
			i.resumeDeferred(ctx)
			i.pollOnce(ctx)
		case <-rescan:
			i.drainBacklog(ctx)
		}
	}
}

func (i *Intake) pollOnce(ctx context.Context) {
	for payload, err := range i.listener.Poll(ctx) {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, queue.ErrResubscribed) {
			i.logger.Warn("listener reconnected, rescanning backlog for missed tickets")
			i.drainBacklog(ctx)
			continue
		}
		if err != nil {
			i.logger.Error("failed to poll notifications", zap.Error(err))
			continue
		}

		id, err := queue.ParseTicketID(payload)
		if err != nil {
			i.logger.Warn("ignoring notification with invalid payload",
				zap.String("payload", payload),
				zap.Error(err),
			)
			continue
		}

		i.process(ctx, id)
	}
}

func (i *Intake) process(ctx context.Context, id int64) {
	if i.processor.Process(ctx, id) == OutcomeCoolingDown {
		i.deferred = true
	}
}

// resumeDeferred rescans the backlog once the gate re-opens after tickets were
// left in received during a cool-down. Their notifications are not repeated.
func (i *Intake) resumeDeferred(ctx context.Context) {
	if !i.deferred || i.gate == nil || !i.gate.Allow() {
		return
	}
	i.deferred = false
	i.logger.Info("send cool-down over, rescanning deferred tickets")
	i.drainBacklog(ctx)
}

// drainBacklog releases unsent in-flight tickets and processes every pending
// ticket in store order.
func (i *Intake) drainBacklog(ctx context.Context) {
	i.setState(StateBacklogDraining)
	defer i.setState(StateSteady)

	released, err := i.releaseInFlight(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		i.logger.Error("failed to release in-flight tickets", zap.Error(err))
	} else if released > 0 {
		i.logger.Info("released unsent in-flight tickets", zap.Int64("count", released))
	}

	ids, err := i.listPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			i.logger.Error("failed to list pending tickets", zap.Error(err))
		}
		return
	}

	i.metrics.AddBacklogTickets(len(ids))
	if len(ids) > 0 {
		i.logger.Info("processing ticket backlog", zap.Int("count", len(ids)))
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		i.process(ctx, id)
	}
}

func (i *Intake) releaseInFlight(ctx context.Context) (int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()
	return i.tickets.ReleaseInFlight(queryCtx)
}

func (i *Intake) listPending(ctx context.Context) ([]int64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, i.queryTimeout)
	defer cancel()
	return i.tickets.ListPending(queryCtx)
}

func (i *Intake) setState(s IntakeState) {
	i.state.Store(int32(s))
}
