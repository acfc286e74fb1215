package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smswire/concierge/internal/billing"
	"github.com/smswire/concierge/internal/config"
	"github.com/smswire/concierge/internal/models"
	"github.com/smswire/concierge/internal/queue"
	"github.com/smswire/concierge/internal/ratelimit"
	"github.com/smswire/concierge/internal/realtime"
	"github.com/smswire/concierge/internal/security"
	"github.com/smswire/concierge/internal/sms"
	"github.com/smswire/concierge/internal/usage"
)

type fixture struct {
	router *gin.Engine
	db     *gorm.DB
	cfg    config.Config
	queue  *queue.Queue
	redis  *miniredis.Miniredis
	box    *security.SecretBox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.User{}, &models.Profile{}, &models.Message{}, &models.FlaggedMessage{},
		&models.Client{}, &models.ProfileClient{}, &models.AutoReply{}, &models.OutOfOfficeReply{},
		&models.TextExample{}, &models.AISettings{}, &models.Plan{}, &models.Subscription{},
		&models.Invoice{}, &models.PaymentMethod{}, &models.UsageRecord{}, &models.SMSUsage{},
		&models.APIKey{}, &models.FlagWord{},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	validationOff := false
	cfg := config.Config{
		JWT: config.JWTConfig{
			Secret:        "test-secret",
			AccessExpiry:  time.Hour,
			RefreshExpiry: 24 * time.Hour,
		},
		Redis:                config.RedisConfig{Addr: mr.Addr(), Queue: "incoming"},
		Twilio:               config.TwilioConfig{ValidateSignature: &validationOff},
		WebhookRatePerSecond: 100,
	}

	boxKey, err := security.GenerateSecretBoxKey()
	require.NoError(t, err)
	box, err := security.NewSecretBox(boxKey)
	require.NoError(t, err)

	q := queue.New(rdb, cfg.Redis.Queue)
	deps := Deps{
		DB:        conn,
		Cfg:       cfg,
		Validator: sms.NewValidator(cfg.Twilio, nil),
		Queue:     q,
		Billing:   billing.NewService(conn, cfg.Stripe),
		Hub:       realtime.NewHub(),
		Recorder:  usage.NewRecorder(conn),
		Box:       box,
	}

	router := gin.New()
	RegisterRoutes(router, deps)
	return &fixture{router: router, db: conn, cfg: cfg, queue: q, redis: mr, box: box}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *fixture) register(t *testing.T, username string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "supersecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)["access_token"].(string)
}

func (f *fixture) createProfile(t *testing.T, token, name, number string) uint64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/profiles", token, gin.H{
		"name":         name,
		"phone_number": number,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	profile := decode(t, rec)["profile"].(map[string]any)
	return uint64(profile["id"].(float64))
}

func TestRegisterLoginAndMe(t *testing.T) {
	f := newFixture(t)

	token := f.register(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	require.Equal(t, "alice", user["username"])

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice",
		"password": "supersecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode(t, rec)["refresh_token"])

	rec = f.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"username": "alice",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice",
		"email":    "other@example.com",
		"password": "supersecret",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "supersecret",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	refresh := decode(t, rec)["refresh_token"].(string)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decode(t, rec)["access_token"])

	// An access token must not work as a refresh token.
	access := decode(t, rec)["access_token"].(string)
	rec = f.do(t, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refresh_token": access})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/profiles", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/auth/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfileLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	rec := f.do(t, http.MethodGet, "/api/v1/profiles", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profiles := decode(t, rec)["profiles"].([]any)
	require.Len(t, profiles, 1)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/profiles/%d", profileID), token, gin.H{
		"name":         "Studio East",
		"phone_number": "+15550001111",
		"timezone":     "America/New_York",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/profiles/%d/toggle_ai", profileID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["ai_enabled"])

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/profiles/%d", profileID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d", profileID), token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfileValidation(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/profiles", token, gin.H{
		"name":         "Bad Number",
		"phone_number": "5550001111",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", token, gin.H{
		"name":         "Bad TZ",
		"phone_number": "+15550001111",
		"timezone":     "Mars/Olympus",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileOwnershipIsolated(t *testing.T) {
	f := newFixture(t)
	aliceToken := f.register(t, "alice")
	bobToken := f.register(t, "bob")

	profileID := f.createProfile(t, aliceToken, "Studio", "+15550001111")

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d", profileID), bobToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/profiles/%d", profileID), bobToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoReplyCRUD(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")
	base := fmt.Sprintf("/api/v1/profiles/%d/auto_replies", profileID)

	rec := f.do(t, http.MethodPost, base, token, gin.H{
		"keyword":  "hours",
		"response": "Open 9-5 weekdays.",
		"priority": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rule := decode(t, rec)["auto_reply"].(map[string]any)
	ruleID := uint64(rule["ID"].(float64))

	rec = f.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["auto_replies"].([]any), 1)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("%s/%d", base, ruleID), token, gin.H{
		"keyword":  "hours",
		"response": "Open weekends too.",
		"priority": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, ruleID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, base, token, nil)
	require.Empty(t, decode(t, rec)["auto_replies"])
}

func TestOutOfOfficeAndAISettings(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	rec := f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/profiles/%d/out_of_office", profileID), token, gin.H{
		"message": "Closed, back tomorrow!",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d/out_of_office", profileID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ooo := decode(t, rec)["out_of_office_reply"].(map[string]any)
	require.Equal(t, "Closed, back tomorrow!", ooo["Message"])

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/profiles/%d/ai_settings", profileID), token, gin.H{
		"model":       "gpt-4o-mini",
		"temperature": 1.2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, fmt.Sprintf("/api/v1/profiles/%d/ai_settings", profileID), token, gin.H{
		"temperature": 3.5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/api_keys", token, gin.H{"name": "ci"})
	require.Equal(t, http.StatusCreated, rec.Code)
	plaintext := decode(t, rec)["key"].(string)
	keyID := uint64(decode(t, rec)["id"].(float64))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("X-API-Key", plaintext)
	recorder := httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/api_keys/%d", keyID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("X-API-Key", plaintext)
	recorder = httptest.NewRecorder()
	f.router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func (f *fixture) postSMS(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestIncomingSMSQueued(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	f.createProfile(t, token, "Studio", "+15550001111")

	rec := f.postSMS(t, url.Values{
		"MessageSid": {"SM123"},
		"From":       {"+15557770000"},
		"To":         {"+15550001111"},
		"Body":       {"hi there"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<Response></Response>")

	pending, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, pending)

	job, err := f.queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "SM123", job.MessageSID)
	require.Equal(t, "+15557770000", job.From)
	require.Equal(t, "hi there", job.Body)
}

func TestIncomingSMSUnknownNumberAcknowledged(t *testing.T) {
	f := newFixture(t)

	rec := f.postSMS(t, url.Values{
		"From": {"+15557770000"},
		"To":   {"+19990000000"},
		"Body": {"hello?"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	pending, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestIncomingSMSMissingFieldsRejected(t *testing.T) {
	f := newFixture(t)

	rec := f.postSMS(t, url.Values{"Body": {"no numbers"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncomingSMSRateLimited(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	f.createProfile(t, token, "Studio", "+15550001111")

	cfg := f.cfg
	cfg.WebhookRatePerSecond = 1
	limited := Deps{
		DB:        f.db,
		Cfg:       cfg,
		Validator: sms.NewValidator(cfg.Twilio, nil),
		Queue:     f.queue,
		Billing:   billing.NewService(f.db, cfg.Stripe),
		Hub:       realtime.NewHub(),
		Recorder:  usage.NewRecorder(f.db),
		Limiter:   ratelimit.NewManager(ratelimit.SettingsFromConfig(cfg), nil, nil),
	}
	router := gin.New()
	RegisterRoutes(router, limited)

	form := url.Values{
		"From": {"+15557770000"},
		"To":   {"+15550001111"},
		"Body": {"spam"},
	}
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusTooManyRequests, send())
}

func TestFlagReviewFlow(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	msg := models.Message{
		ProfileID:    profileID,
		ClientNumber: "+15557770000",
		Content:      "how much for an hour",
		IsIncoming:   true,
		Timestamp:    time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&msg).Error)
	require.NoError(t, f.db.Create(&models.FlaggedMessage{MessageID: msg.ID}).Error)

	rec := f.do(t, http.MethodGet, "/api/v1/flags?reviewed=false", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flags := decode(t, rec)["flagged_messages"].([]any)
	require.Len(t, flags, 1)
	flagID := uint64(flags[0].(map[string]any)["ID"].(float64))

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/flags/%d/review", flagID), token, gin.H{
		"notes": "false positive",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/flags?reviewed=false", token, nil)
	require.Empty(t, decode(t, rec)["flagged_messages"])
}

func TestConversationListingAndMarkRead(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	now := time.Now().UTC()
	for i, content := range []string{"first", "second"} {
		require.NoError(t, f.db.Create(&models.Message{
			ProfileID:    profileID,
			ClientNumber: "+15557770000",
			Content:      content,
			IsIncoming:   true,
			Timestamp:    now.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d/conversations", profileID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conversations := decode(t, rec)["conversations"].([]any)
	require.Len(t, conversations, 1)
	require.EqualValues(t, 2, conversations[0].(map[string]any)["unread"])

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d/messages?client=%s", profileID, url.QueryEscape("+15557770000")), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decode(t, rec)["messages"].([]any)
	require.Len(t, messages, 2)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/profiles/%d/conversations", profileID), token, nil)
	conversations = decode(t, rec)["conversations"].([]any)
	require.EqualValues(t, 0, conversations[0].(map[string]any)["unread"])
}

func TestClientBlockUnblock(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	client := models.Client{PhoneNumber: "+15557770000", Name: "Sam"}
	require.NoError(t, f.db.Create(&client).Error)
	require.NoError(t, f.db.Create(&models.ProfileClient{ProfileID: profileID, ClientID: client.ID}).Error)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/clients/%d/block", client.ID), token, gin.H{
		"reason": "abusive",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var stored models.Client
	require.NoError(t, f.db.First(&stored, client.ID).Error)
	require.True(t, stored.IsBlocked)
	require.Equal(t, "abusive", stored.BlockReason)

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/clients/%d/unblock", client.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, f.db.First(&stored, client.ID).Error)
	require.False(t, stored.IsBlocked)
}

func TestClientListSearch(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")

	for _, spec := range []struct{ number, name string }{
		{"+15557770000", "Sam"},
		{"+15558880000", "Jordan"},
	} {
		client := models.Client{PhoneNumber: spec.number, Name: spec.name}
		require.NoError(t, f.db.Create(&client).Error)
		require.NoError(t, f.db.Create(&models.ProfileClient{ProfileID: profileID, ClientID: client.ID}).Error)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/clients?search=sam", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	clients := decode(t, rec)["clients"].([]any)
	require.Len(t, clients, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/clients", token, nil)
	require.Len(t, decode(t, rec)["clients"].([]any), 2)
}

func TestBillingPlansAndSubscription(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Plan{
		Name: "Starter", MonthPrice: 19, ProfileLimit: 1, AIResponseLimit: 500, IsEnabled: true,
	}).Error)
	token := f.register(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/billing/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode(t, rec)["plans"].([]any)
	require.Len(t, plans, 1)
	planID := uint64(plans[0].(map[string]any)["ID"].(float64))

	rec = f.do(t, http.MethodGet, "/api/v1/billing/subscription", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// No Stripe price configured, so Subscribe stays local.
	rec = f.do(t, http.MethodPost, "/api/v1/billing/subscription", token, gin.H{"plan_id": planID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/billing/subscription", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/billing/subscription", token, gin.H{"plan_id": planID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileLimitEnforced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Plan{
		Name: "Starter", MonthPrice: 19, ProfileLimit: 1, AIResponseLimit: 500, IsEnabled: true,
	}).Error)
	token := f.register(t, "alice")

	var plan models.Plan
	require.NoError(t, f.db.First(&plan).Error)
	rec := f.do(t, http.MethodPost, "/api/v1/billing/subscription", token, gin.H{"plan_id": plan.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	f.createProfile(t, token, "First", "+15550001111")
	rec = f.do(t, http.MethodPost, "/api/v1/profiles", token, gin.H{
		"name":         "Second",
		"phone_number": "+15550002222",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubscriptionPlanChange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Plan{
		Name: "Starter", MonthPrice: 19, ProfileLimit: 1, AIResponseLimit: 100, IsEnabled: true,
	}).Error)
	require.NoError(t, f.db.Create(&models.Plan{
		Name: "Pro", MonthPrice: 49, ProfileLimit: 5, AIResponseLimit: 1000, IsEnabled: true,
	}).Error)
	token := f.register(t, "alice")

	var starter, pro models.Plan
	require.NoError(t, f.db.Where("name = ?", "Starter").Take(&starter).Error)
	require.NoError(t, f.db.Where("name = ?", "Pro").Take(&pro).Error)

	// Plan change without a subscription.
	rec := f.do(t, http.MethodPut, "/api/v1/billing/subscription", token, gin.H{"plan_id": pro.ID})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/billing/subscription", token, gin.H{"plan_id": starter.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/v1/billing/subscription", token, gin.H{"plan_id": pro.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sub models.Subscription
	require.NoError(t, f.db.Where("status = ?", models.SubscriptionStatusActive).Take(&sub).Error)
	require.Equal(t, pro.ID, sub.PlanID)
}

func TestDefaultPaymentMethod(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	var user models.User
	require.NoError(t, f.db.Where("username = ?", "alice").Take(&user).Error)
	first := models.PaymentMethod{UserID: user.ID, StripePaymentMethodID: "pm_first", Brand: "visa", Last4: "4242", IsDefault: true}
	second := models.PaymentMethod{UserID: user.ID, StripePaymentMethodID: "pm_second", Brand: "amex", Last4: "0005"}
	require.NoError(t, f.db.Create(&first).Error)
	require.NoError(t, f.db.Create(&second).Error)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/billing/payment_methods/%d/default", second.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rows []models.PaymentMethod
	require.NoError(t, f.db.Order("id ASC").Find(&rows).Error)
	require.False(t, rows[0].IsDefault)
	require.True(t, rows[1].IsDefault)

	rec = f.do(t, http.MethodPost, "/api/v1/billing/payment_methods/9999/default", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryTokenAuth(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/auth/me?token="+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/auth/me?token=garbage", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTextExamples(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")
	profileID := f.createProfile(t, token, "Studio", "+15550001111")
	base := fmt.Sprintf("/api/v1/profiles/%d/text_examples", profileID)

	rec := f.do(t, http.MethodPost, base, token, gin.H{
		"content":     "Hey! Thanks for reaching out.",
		"is_incoming": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"/bulk", token, gin.H{
		"examples": []gin.H{
			{"content": "Can I book for Friday?", "is_incoming": true},
			{"content": "Sure, what time works?"},
			{"is_incoming": true}, // no content, skipped
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, float64(2), decode(t, rec)["created"])

	rec = f.do(t, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	examples := decode(t, rec)["text_examples"].([]any)
	require.Len(t, examples, 3)

	first := examples[0].(map[string]any)
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("%s/%d", base, uint64(first["ID"].(float64))), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/bulk", token, gin.H{"examples": []gin.H{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelephonyAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/account/telephony", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decode(t, rec)["connected"])

	// External accounts must bring their own auth token.
	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony", token, gin.H{
		"account_type": "external",
		"account_sid":  "ACexternal123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony", token, gin.H{
		"account_type": "banana",
		"account_sid":  "AC123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony", token, gin.H{
		"account_type": "subaccount",
		"account_sid":  "ACsub456",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/account/telephony", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	require.Equal(t, true, status["connected"])
	require.Equal(t, "subaccount", status["account_type"])
	require.Equal(t, true, status["parent_account"])
	require.Equal(t, false, status["has_auth_token"])

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony", token, gin.H{
		"account_type": "external",
		"account_sid":  "ACext789",
		"auth_token":   "original-token",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user models.User
	require.NoError(t, f.db.Where("username = ?", "alice").Take(&user).Error)
	require.Equal(t, "ACext789", user.TwilioAccountSID)
	require.False(t, user.TwilioParentAccount)
	require.NotEqual(t, "original-token", user.TwilioAuthToken)
	plain, err := f.box.Decrypt(user.TwilioAuthToken)
	require.NoError(t, err)
	require.Equal(t, "original-token", plain)
}

func TestTelephonyCredentialRotation(t *testing.T) {
	f := newFixture(t)
	token := f.register(t, "alice")

	// Nothing connected yet.
	rec := f.do(t, http.MethodPost, "/api/v1/account/telephony/rotate", token, gin.H{
		"auth_token": "whatever",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony", token, gin.H{
		"account_type": "external",
		"account_sid":  "ACext789",
		"auth_token":   "original-token",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony/rotate", token, gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/account/telephony/rotate", token, gin.H{
		"auth_token":     "rotated-token",
		"api_key_secret": "rotated-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user models.User
	require.NoError(t, f.db.Where("username = ?", "alice").Take(&user).Error)
	plainToken, err := f.box.Decrypt(user.TwilioAuthToken)
	require.NoError(t, err)
	require.Equal(t, "rotated-token", plainToken)
	plainSecret, err := f.box.Decrypt(user.TwilioAPIKeySecret)
	require.NoError(t, err)
	require.Equal(t, "rotated-secret", plainSecret)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "ok", body["status"])
}
