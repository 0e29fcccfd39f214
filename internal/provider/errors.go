package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
)

// ProviderError classifies delivery failures as transient/permanent.
type ProviderError struct {
	Stage     string
	Code      int
	Message   string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.Stage != "" {
		parts = append(parts, e.Stage)
	}
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// classify wraps a raw dial or SMTP error. Reply codes 4xx are transient, 5xx
// are permanent; network timeouts are transient.
func classify(stage string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	pe := &ProviderError{Stage: stage, Cause: err}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		pe.Code = protoErr.Code
		pe.Transient = protoErr.Code >= 400 && protoErr.Code < 500
		return pe
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		pe.Transient = netErr.Timeout()
		return pe
	}

	return pe
}

// IsTransient reports whether an error is likely to clear on its own.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Code returns the SMTP reply code carried by err, or 0.
func Code(err error) int {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code
	}
	return 0
}
