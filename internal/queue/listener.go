package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/ticket-mailer/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultPollWait  = 5 * time.Millisecond
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

var errListenerClosed = errors.New("listener is closed")

// pgConn is the subset of *pgx.Conn the listener needs.
type pgConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

type dialFunc func(ctx context.Context) (pgConn, error)

// PgListener holds a dedicated, non-pooled connection used only for LISTEN.
// *pgx.Conn is not safe for concurrent use; every call on conn happens under mu.
type PgListener struct {
	dial     dialFunc
	sleep    func(ctx context.Context, d time.Duration) error
	pollWait time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu       sync.Mutex
	conn     pgConn
	channels []string
	closed   bool
}

var _ Listener = (*PgListener)(nil)

// NewPgListener connects to dsn and returns a listener with no subscriptions.
func NewPgListener(ctx context.Context, dsn string, logger *zap.Logger, metrics *observability.Metrics) (*PgListener, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	dial := func(ctx context.Context) (pgConn, error) {
		return pgx.Connect(ctx, dsn)
	}
	return newPgListener(ctx, dial, sleepWithContext, logger, metrics)
}

func newPgListener(
	ctx context.Context,
	dial dialFunc,
	sleepFn func(ctx context.Context, d time.Duration) error,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*PgListener, error) {
	if dial == nil {
		return nil, fmt.Errorf("dial function is required")
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect listener: %w", err)
	}

	return &PgListener{
		dial:     dial,
		sleep:    sleepFn,
		pollWait: defaultPollWait,
		logger:   logger,
		metrics:  metrics,
		conn:     conn,
	}, nil
}

// Subscribe issues LISTEN for channel and remembers it for reconnects.
func (l *PgListener) Subscribe(ctx context.Context, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("channel is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errListenerClosed
	}
	if err := listen(ctx, l.conn, channel); err != nil {
		return err
	}

	for _, existing := range l.channels {
		if existing == channel {
			return nil
		}
	}
	l.channels = append(l.channels, channel)
	return nil
}

// Poll yields buffered notification payloads until a short wait comes back
// empty. A dropped connection is re-established first and reported with
// ErrResubscribed.
func (l *PgListener) Poll(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		dropped, err := l.dropped()
		if err != nil {
			yield("", err)
			return
		}

		if dropped {
			if err := l.reconnect(ctx); err != nil {
				yield("", err)
				return
			}
			if !yield("", ErrResubscribed) {
				return
			}
		}

		for {
			notification, err := l.wait(ctx)
			if err != nil {
				if ctx.Err() != nil || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				yield("", fmt.Errorf("failed to wait for notification: %w", err))
				return
			}

			l.metrics.IncNotificationReceived()
			if !yield(notification.Payload, nil) {
				return
			}
		}
	}
}

// Ping shares the listener connection with Poll, so it waits for any
// in-progress notification wait to finish.
func (l *PgListener) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.conn == nil {
		return errListenerClosed
	}
	if l.conn.IsClosed() {
		return fmt.Errorf("listener connection is closed")
	}
	return l.conn.Ping(ctx)
}

func (l *PgListener) Close(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.closed = true
	l.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close(ctx)
}

func (l *PgListener) dropped() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.conn == nil {
		return false, errListenerClosed
	}
	return l.conn.IsClosed(), nil
}

// wait holds mu for at most pollWait so Ping and Subscribe can interleave
// between waits.
func (l *PgListener) wait(ctx context.Context) (*pgconn.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.conn == nil {
		return nil, errListenerClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.pollWait)
	defer cancel()
	return l.conn.WaitForNotification(waitCtx)
}

func (l *PgListener) reconnect(ctx context.Context) error {
	l.mu.Lock()
	channels := append([]string(nil), l.channels...)
	l.mu.Unlock()

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		conn, err := l.dial(ctx)
		if err == nil {
			if err = resubscribe(ctx, conn, channels); err == nil {
				l.mu.Lock()
				if l.closed {
					l.mu.Unlock()
					_ = conn.Close(ctx)
					return errListenerClosed
				}
				l.conn = conn
				l.mu.Unlock()

				l.metrics.IncListenerReconnect()
				l.logger.Info("listener reconnected",
					zap.Int("attempt", attempt),
					zap.Strings("channels", channels),
				)
				return nil
			}
			_ = conn.Close(ctx)
		}

		l.logger.Warn("listener reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("listener reconnect canceled: %w", err)
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func resubscribe(ctx context.Context, conn pgConn, channels []string) error {
	for _, channel := range channels {
		if err := listen(ctx, conn, channel); err != nil {
			return err
		}
	}
	return nil
}

func listen(ctx context.Context, conn pgConn, channel string) error {
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %q: %w", channel, err)
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
