package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// dialer opens an authenticated SMTP session. *gomail.Dialer satisfies it.
type dialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPConfig describes the relay account used for outbound mail.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	SenderName string
}

// SMTPProvider delivers mail through an authenticated relay over implicit TLS
// on every port. A relay that does not speak TLS fails the dial before any
// credentials are written.
type SMTPProvider struct {
	dialer     dialer
	sender     string
	senderName string
}

var _ Mailer = (*SMTPProvider)(nil)

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}

	d := gomail.NewDialer(host, cfg.Port, cfg.Username, cfg.Password)
	// gomail only enables SSL on 465 and otherwise falls back to plaintext
	// AUTH when STARTTLS is not offered.
	d.SSL = true
	d.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	return NewSMTPProviderWithDialer(d, cfg.Username, cfg.SenderName)
}

func NewSMTPProviderWithDialer(d dialer, sender, senderName string) (*SMTPProvider, error) {
	if d == nil {
		return nil, fmt.Errorf("smtp dialer is required")
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return nil, fmt.Errorf("sender address is required")
	}

	return &SMTPProvider{
		dialer:     d,
		sender:     sender,
		senderName: senderName,
	}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := p.compose(msg)

	s, err := p.dialer.Dial()
	if err != nil {
		return classify("dial", err)
	}
	defer s.Close()

	if err := s.Send(p.sender, []string{msg.To}, m); err != nil {
		return classify("send", err)
	}

	return nil
}

func (p *SMTPProvider) compose(msg Message) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetAddressHeader("From", p.sender, p.senderName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}
