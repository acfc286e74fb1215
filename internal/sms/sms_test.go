package sms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"testing"

	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/security"
	"github.com/stretchr/testify/require"
)

func newBox(t *testing.T) *security.SecretBox {
	t.Helper()
	encoded, err := security.GenerateSecretBoxKey()
	require.NoError(t, err)
	box, err := security.NewSecretBox(encoded)
	require.NoError(t, err)
	return box
}

func TestResolveCredentials(t *testing.T) {
	box := newBox(t)
	sealed, err := box.Encrypt("user-token")
	require.NoError(t, err)

	sender := NewTwilioSender(config.TwilioConfig{AccountSID: "ACmaster", AuthToken: "master-token"}, box)

	// No connected account falls back to the platform.
	creds, err := sender.resolveCredentials(nil)
	require.NoError(t, err)
	require.Equal(t, "ACmaster", creds.username)
	require.Equal(t, "master-token", creds.password)

	creds, err = sender.resolveCredentials(&models.User{})
	require.NoError(t, err)
	require.Equal(t, "ACmaster", creds.accountSID)

	// External accounts authenticate with their own token.
	external := &models.User{
		TwilioAccountSID: "ACuser",
		TwilioAuthToken:  sealed,
		AccountType:      models.AccountTypeExternal,
	}
	creds, err = sender.resolveCredentials(external)
	require.NoError(t, err)
	require.Equal(t, "ACuser", creds.username)
	require.Equal(t, "user-token", creds.password)
	require.Equal(t, "ACuser", creds.accountSID)

	// Subaccounts authenticate as the platform against their own SID.
	sub := &models.User{
		TwilioAccountSID: "ACsub",
		AccountType:      models.AccountTypeSubaccount,
	}
	creds, err = sender.resolveCredentials(sub)
	require.NoError(t, err)
	require.Equal(t, "ACmaster", creds.username)
	require.Equal(t, "master-token", creds.password)
	require.Equal(t, "ACsub", creds.accountSID)
}

func TestResolveCredentialsDecryptFailure(t *testing.T) {
	sender := NewTwilioSender(config.TwilioConfig{AccountSID: "ACmaster", AuthToken: "master-token"}, newBox(t))

	external := &models.User{
		TwilioAccountSID: "ACuser",
		TwilioAuthToken:  "garbage",
		AccountType:      models.AccountTypeExternal,
	}
	_, err := sender.resolveCredentials(external)
	require.Error(t, err)
}

// sign computes the X-Twilio-Signature value the way Twilio does: HMAC-SHA1
// over the URL plus the sorted form params, base64 encoded.
func sign(t *testing.T, token, url string, params map[string]string) string {
	t.Helper()

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	payload := url
	for _, key := range keys {
		payload += key + params[key]
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature(t *testing.T) {
	box := newBox(t)
	sealed, err := box.Encrypt("user-token")
	require.NoError(t, err)

	validator := NewValidator(config.TwilioConfig{AccountSID: "ACmaster", AuthToken: "master-token"}, box)

	url := "https://example.com/api/webhooks/sms"
	params := map[string]string{"From": "+15550001111", "Body": "hello"}

	require.True(t, validator.Validate(nil, url, params, sign(t, "master-token", url, params)))
	require.False(t, validator.Validate(nil, url, params, sign(t, "wrong-token", url, params)))
	require.False(t, validator.Validate(nil, url, params, ""))

	// A user's own token also validates.
	user := &models.User{TwilioAuthToken: sealed}
	require.True(t, validator.Validate(user, url, params, sign(t, "user-token", url, params)))

	// Validation disabled accepts anything.
	off := false
	open := NewValidator(config.TwilioConfig{ValidateSignature: &off}, nil)
	require.True(t, open.Validate(nil, url, params, "anything"))
}
