package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "ticket-mailer"

type ticketScopeKey struct{}

// ticketScope identifies one processing attempt of one ticket.
type ticketScope struct {
	correlationID string
	ticketID      int64
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// WithTicketScope tags ctx with the ticket being processed and a correlation id for the attempt.
func WithTicketScope(ctx context.Context, correlationID string, ticketID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, ticketScopeKey{}, ticketScope{
		correlationID: correlationID,
		ticketID:      ticketID,
	})
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	scope, ok := scopeFromContext(ctx)
	if !ok || scope.correlationID == "" {
		return "", false
	}
	return scope.correlationID, true
}

func TicketIDFromContext(ctx context.Context) (int64, bool) {
	scope, ok := scopeFromContext(ctx)
	if !ok {
		return 0, false
	}
	return scope.ticketID, true
}

func scopeFromContext(ctx context.Context) (ticketScope, bool) {
	if ctx == nil {
		return ticketScope{}, false
	}
	scope, ok := ctx.Value(ticketScopeKey{}).(ticketScope)
	return scope, ok
}

// WithContextLogger decorates logger with the ticket scope carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope, ok := scopeFromContext(ctx)
	if !ok {
		return logger
	}

	fields := []zap.Field{zap.Int64("ticketId", scope.ticketID)}
	if scope.correlationID != "" {
		fields = append(fields, zap.String("correlationId", scope.correlationID))
	}
	return logger.With(fields...)
}
