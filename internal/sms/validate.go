package sms

import (
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
)

// Validator checks X-Twilio-Signature headers on inbound webhooks. Twilio
// signs with the auth token of the account owning the number, so both the
// platform token and the user's own token are tried.
type Validator struct {
	cfg config.TwilioConfig
	box *security.SecretBox
}

// NewValidator builds a webhook signature validator.
func NewValidator(cfg config.TwilioConfig, box *security.SecretBox) *Validator {
	return &Validator{cfg: cfg, box: box}
}

// Validate reports whether the signature matches the request URL and form
// params under any candidate token. Validation can be switched off in config
// for local development.
func (v *Validator) Validate(user *models.User, url string, params map[string]string, signature string) bool {
	if v == nil || !v.cfg.SignatureValidationEnabled() {
		return true
	}
	if signature == "" {
		return false
	}

	for _, token := range v.candidateTokens(user) {
		if token == "" {
			continue
		}
		validator := twilioclient.NewRequestValidator(token)
		if validator.Validate(url, params, signature) {
			return true
		}
	}
	return false
}

func (v *Validator) candidateTokens(user *models.User) []string {
	tokens := []string{v.cfg.AuthToken}
	if user == nil || user.TwilioAuthToken == "" || v.box == nil {
		return tokens
	}
	decrypted, err := v.box.Decrypt(user.TwilioAuthToken)
	if err == nil && decrypted != "" {
		tokens = append(tokens, decrypted)
	}
	return tokens
}
