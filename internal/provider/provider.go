package provider

import "context"

// Mailer is the outbound mail delivery port.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single plain-text email to one recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}
