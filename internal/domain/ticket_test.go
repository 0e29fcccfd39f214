package domain

import (
	"errors"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid lowercase", input: "completed", want: StatusCompleted},
		{name: "valid uppercase with spaces", input: " RECEIVED ", want: StatusReceived},
		{name: "invalid", input: "sent", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPendingStatuses(t *testing.T) {
	t.Parallel()

	got := PendingStatuses()
	if len(got) != 2 || got[0] != StatusReceived || got[1] != StatusProcessing {
		t.Fatalf("PendingStatuses() = %v, want [received processing]", got)
	}
}

func TestValidateRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "simple address", address: "a@b.com"},
		{name: "plus and dots", address: "first.last+tag@mail.example.org"},
		{name: "percent and dash", address: "x%y-z@sub-domain.io"},
		{name: "empty", address: "", wantErr: true},
		{name: "no at sign", address: "not-an-email", wantErr: true},
		{name: "single letter tld", address: "a@b.c", wantErr: true},
		{name: "missing local part", address: "@example.com", wantErr: true},
		{name: "embedded space", address: "a b@example.com", wantErr: true},
		{name: "header injection", address: "a@b.com\r\nBcc: x@y.com", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateRecipient(tt.address)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ValidateRecipient(%q) error = %v, want ErrValidation", tt.address, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateRecipient(%q) unexpected error = %v", tt.address, err)
			}
		})
	}
}
