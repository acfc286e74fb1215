// Package sms sends outbound messages through Twilio and validates inbound
// webhook signatures. Credentials resolve per user: externally connected
// accounts use their own decrypted auth token, managed subaccounts and
// everyone else go through the platform account.
package sms

import (
	"context"

	"github.com/smswire/concierge/internal/models"
)

// SendInput describes one outbound message.
type SendInput struct {
	// User owns the sending profile and decides which credentials apply.
	User *models.User
	From string
	To   string
	Body string
}

// SendResult carries the provider's identifiers back to the caller.
type SendResult struct {
	SID    string
	Status string
}

// Sender delivers SMS. The Twilio implementation is the only production one;
// tests use stubs.
type Sender interface {
	Send(ctx context.Context, in SendInput) (SendResult, error)
}
