package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// ErrResubscribed is yielded by Poll after the listener had to reconnect.
// Notifications sent while disconnected are lost, so callers should rescan.
var ErrResubscribed = errors.New("listener reconnected and resubscribed")

// Listener receives database notifications for subscribed channels.
type Listener interface {
	Subscribe(ctx context.Context, channel string) error
	// Poll drains the payloads that are already available and then ends. It
	// never waits longer than a short internal deadline for new input.
	Poll(ctx context.Context) iter.Seq2[string, error]
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParseTicketID converts a notification payload into a ticket id.
func ParseTicketID(payload string) (int64, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return 0, fmt.Errorf("empty notification payload")
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket id %q: %w", payload, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("invalid ticket id %q: must be positive", payload)
	}
	return id, nil
}
