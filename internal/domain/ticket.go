package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status represents the lifecycle state of a ticket.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// PendingStatuses are the statuses picked up by the backlog scan.
func PendingStatuses() []Status {
	return []Status{StatusReceived, StatusProcessing}
}

// Ticket is a single outbound email tracked by status.
type Ticket struct {
	ID      int64
	Email   string
	Subject string
	Body    string
	Status  Status
	SentAt  *time.Time
}

var recipientPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateRecipient checks the address syntax accepted by the relay.
func ValidateRecipient(address string) error {
	if address == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !recipientPattern.MatchString(address) {
		return fmt.Errorf("%w: invalid recipient %q", ErrValidation, address)
	}
	return nil
}
