package sms

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
)

// credentials is one resolved set of Twilio API credentials.
type credentials struct {
	username   string
	password   string
	accountSID string
}

// TwilioSender sends messages through the Twilio REST API.
type TwilioSender struct {
	cfg config.TwilioConfig
	box *security.SecretBox
}

// NewTwilioSender builds a sender from the platform Twilio config. The secret
// box opens per-user auth tokens and may be nil when no external accounts are
// connected.
func NewTwilioSender(cfg config.TwilioConfig, box *security.SecretBox) *TwilioSender {
	return &TwilioSender{cfg: cfg, box: box}
}

// resolveCredentials picks the credential set for a user. External accounts
// authenticate as themselves, subaccounts authenticate as the platform
// against the subaccount SID, everything else is the platform account.
func (s *TwilioSender) resolveCredentials(user *models.User) (credentials, error) {
	platform := credentials{
		username:   s.cfg.AccountSID,
		password:   s.cfg.AuthToken,
		accountSID: s.cfg.AccountSID,
	}
	if user == nil || !user.HasTwilioAccount() {
		return platform, nil
	}

	switch user.AccountType {
	case models.AccountTypeExternal:
		token, err := s.decryptUserToken(user)
		if err != nil {
			return credentials{}, err
		}
		return credentials{
			username:   user.TwilioAccountSID,
			password:   token,
			accountSID: user.TwilioAccountSID,
		}, nil
	case models.AccountTypeSubaccount:
		return credentials{
			username:   s.cfg.AccountSID,
			password:   s.cfg.AuthToken,
			accountSID: user.TwilioAccountSID,
		}, nil
	default:
		return platform, nil
	}
}

func (s *TwilioSender) decryptUserToken(user *models.User) (string, error) {
	if user.TwilioAuthToken == "" {
		return "", fmt.Errorf("sms: user %d has no stored auth token", user.ID)
	}
	if s.box == nil {
		return "", fmt.Errorf("sms: no encryption key configured for user credentials")
	}
	token, err := s.box.Decrypt(user.TwilioAuthToken)
	if err != nil {
		return "", fmt.Errorf("sms: decrypt auth token for user %d: %w", user.ID, err)
	}
	return token, nil
}

// Send delivers one message and returns the provider SID.
func (s *TwilioSender) Send(ctx context.Context, in SendInput) (SendResult, error) {
	if strings.TrimSpace(in.To) == "" || strings.TrimSpace(in.From) == "" {
		return SendResult{}, fmt.Errorf("sms: missing from or to number")
	}
	if strings.TrimSpace(in.Body) == "" {
		return SendResult{}, fmt.Errorf("sms: empty body")
	}

	creds, err := s.resolveCredentials(in.User)
	if err != nil {
		return SendResult{}, err
	}
	if creds.username == "" || creds.password == "" {
		return SendResult{}, fmt.Errorf("sms: twilio credentials not configured")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   creds.username,
		Password:   creds.password,
		AccountSid: creds.accountSID,
	})

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(in.To)
	params.SetFrom(in.From)
	params.SetBody(in.Body)

	msg, err := client.Api.CreateMessage(params)
	if err != nil {
		return SendResult{}, fmt.Errorf("sms: send to %s failed: %w", in.To, err)
	}

	result := SendResult{}
	if msg.Sid != nil {
		result.SID = *msg.Sid
	}
	if msg.Status != nil {
		result.Status = *msg.Status
	}
	log.WithFields(log.Fields{"to": in.To, "sid": result.SID, "status": result.Status}).Debug("sms sent")
	return result, nil
}
