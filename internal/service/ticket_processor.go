package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/ticket-mailer/internal/domain"
	"github.com/kursadbilgin/ticket-mailer/internal/observability"
	"github.com/kursadbilgin/ticket-mailer/internal/provider"
	"github.com/kursadbilgin/ticket-mailer/internal/ratelimit"
	"github.com/kursadbilgin/ticket-mailer/internal/repository"
	"go.uber.org/zap"
)

const defaultQueryTimeout = 10 * time.Second

// Outcome is the result of processing one ticket id.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeVanished    Outcome = "vanished"
	OutcomeRejected    Outcome = "rejected"
	OutcomeFailed      Outcome = "failed"
	OutcomeCoolingDown Outcome = "cooling_down"
	OutcomeError       Outcome = "error"
	OutcomeCanceled    Outcome = "canceled"
)

func (o Outcome) String() string { return string(o) }

type ProcessorOptions struct {
	// SkipDuringCooldown leaves tickets untouched while the gate is tripped
	// instead of sleeping through the cool-down.
	SkipDuringCooldown bool
	QueryTimeout       time.Duration
	// Limiter throttles sends per RelayHost. Nil disables throttling.
	Limiter   ratelimit.RateLimiter
	RelayHost string
}

// TicketProcessor drives a single ticket from received to completed.
type TicketProcessor struct {
	tickets            repository.TicketRepository
	mailer             provider.Mailer
	gate               *ratelimit.CooldownGate
	limiter            ratelimit.RateLimiter
	relayHost          string
	skipDuringCooldown bool
	queryTimeout       time.Duration
	logger             *zap.Logger
	metrics            *observability.Metrics
	now                func() time.Time
	newID              func() string
}

func NewTicketProcessor(
	tickets repository.TicketRepository,
	mailer provider.Mailer,
	gate *ratelimit.CooldownGate,
	opts ProcessorOptions,
	logger *zap.Logger,
) (*TicketProcessor, error) {
	if tickets == nil {
		return nil, fmt.Errorf("ticket repository is required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if gate == nil {
		gate = ratelimit.NewCooldownGate(ratelimit.DefaultFailureThreshold, ratelimit.DefaultCooldownPeriod)
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.Limiter != nil && opts.RelayHost == "" {
		return nil, fmt.Errorf("relay host is required when throttling sends")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TicketProcessor{
		tickets:            tickets,
		mailer:             mailer,
		gate:               gate,
		limiter:            opts.Limiter,
		relayHost:          opts.RelayHost,
		skipDuringCooldown: opts.SkipDuringCooldown,
		queryTimeout:       opts.QueryTimeout,
		logger:             logger,
		now:                time.Now,
		newID:              uuid.NewString,
	}, nil
}

func (p *TicketProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// Gate exposes the failure gate for readiness checks.
func (p *TicketProcessor) Gate() *ratelimit.CooldownGate {
	return p.gate
}

// Process never returns an error: every failure is logged and mapped to an
// Outcome so the intake loop keeps going.
func (p *TicketProcessor) Process(ctx context.Context, id int64) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = observability.WithTicketScope(ctx, p.newID(), id)
	logger := observability.WithContextLogger(p.logger, ctx)

	outcome := p.process(ctx, id, logger)
	p.metrics.IncTicketOutcome(outcome.String())
	logger.Debug("ticket processed", zap.String("outcome", outcome.String()))

	return outcome
}

func (p *TicketProcessor) process(ctx context.Context, id int64, logger *zap.Logger) Outcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}

	if outcome, ok := p.passGate(ctx, logger); !ok {
		return outcome
	}

	claimed, err := p.claim(ctx, id)
	if err != nil {
		return p.storeFailure(ctx, logger, "failed to claim ticket", err)
	}
	if !claimed {
		logger.Debug("ticket already claimed or not received, skipping")
		return OutcomeSkipped
	}

	ticket, err := p.fetch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("claimed ticket no longer in processing, skipping")
		return OutcomeVanished
	}
	if err != nil {
		return p.storeFailure(ctx, logger, "failed to fetch ticket", err)
	}

	if err := domain.ValidateRecipient(ticket.Email); err != nil {
		logger.Warn("rejecting ticket with invalid recipient",
			zap.String("recipient", ticket.Email),
			zap.Error(err),
		)
		if err := p.markRejected(ctx, id); err != nil {
			return p.storeFailure(ctx, logger, "failed to mark ticket rejected", err)
		}
		return OutcomeRejected
	}

	p.throttle(ctx, logger)
	if ctx.Err() != nil {
		return OutcomeCanceled
	}

	sendStart := p.now()
	sendErr := p.mailer.Send(ctx, provider.Message{
		To:      ticket.Email,
		Subject: ticket.Subject,
		Body:    ticket.Body,
	})
	p.metrics.ObserveSendDuration(p.now().Sub(sendStart))

	if sendErr != nil {
		if errors.Is(sendErr, context.Canceled) && ctx.Err() != nil {
			return OutcomeCanceled
		}
		p.recordSendFailure(logger, sendErr)
		return OutcomeFailed
	}

	p.gate.RecordSuccess()
	p.metrics.SetConsecutiveFailures(0)

	if err := p.markCompleted(ctx, id); err != nil {
		logger.Error("email sent but ticket could not be marked completed", zap.Error(err))
		return OutcomeError
	}

	logger.Info("ticket email sent", zap.String("recipient", ticket.Email))
	return OutcomeSent
}

// passGate applies the cool-down policy. It reports false with the outcome to
// return when the ticket must not be handled now.
func (p *TicketProcessor) passGate(ctx context.Context, logger *zap.Logger) (Outcome, bool) {
	if p.skipDuringCooldown {
		if !p.gate.Allow() {
			logger.Info("send cool-down in effect, leaving ticket for a later scan")
			return OutcomeCoolingDown, false
		}
		return "", true
	}

	if p.gate.Tripped() {
		logger.Warn("waiting for send cool-down",
			zap.Duration("cooldown", p.gate.Period()),
			zap.Int("failures", p.gate.Failures()),
		)
	}

	waited, err := p.gate.Wait(ctx)
	if err != nil {
		return OutcomeCanceled, false
	}
	if waited {
		p.metrics.SetConsecutiveFailures(0)
		logger.Info("send cool-down finished, resuming")
	}
	return "", true
}

func (p *TicketProcessor) throttle(ctx context.Context, logger *zap.Logger) {
	if p.limiter == nil {
		return
	}
	if err := p.limiter.Wait(ctx, p.relayHost); err != nil && ctx.Err() == nil {
		logger.Warn("send throttle unavailable, sending without it",
			zap.String("relay", p.relayHost),
			zap.Error(err),
		)
	}
}

func (p *TicketProcessor) recordSendFailure(logger *zap.Logger, sendErr error) {
	failures := p.gate.RecordFailure()
	threshold := p.gate.Threshold()
	p.metrics.SetConsecutiveFailures(failures)

	logger.Error("failed to send ticket email",
		zap.Int("failures", failures),
		zap.Int("threshold", threshold),
		zap.Bool("transient", provider.IsTransient(sendErr)),
		zap.Int("smtpCode", provider.Code(sendErr)),
		zap.Error(sendErr),
	)

	if failures == threshold {
		p.metrics.IncCooldown()
		logger.Warn("consecutive send failures reached threshold, pausing sends",
			zap.Duration("cooldown", p.gate.Period()),
		)
	}
}

func (p *TicketProcessor) storeFailure(ctx context.Context, logger *zap.Logger, msg string, err error) Outcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	logger.Error(msg, zap.Error(err))
	return OutcomeError
}

func (p *TicketProcessor) claim(ctx context.Context, id int64) (bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	return p.tickets.Claim(queryCtx, id)
}

func (p *TicketProcessor) fetch(ctx context.Context, id int64) (*domain.Ticket, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	return p.tickets.Fetch(queryCtx, id)
}

func (p *TicketProcessor) markRejected(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	return p.tickets.MarkRejected(queryCtx, id)
}

// markCompleted runs even if ctx was canceled mid-send so a delivered email is
// not left in processing.
func (p *TicketProcessor) markCompleted(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.queryTimeout)
	defer cancel()
	return p.tickets.MarkCompleted(queryCtx, id)
}
