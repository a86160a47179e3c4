package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/plugin"
)

func muxSetVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

const testSecret = "shhh-signing-secret"

// stubAdapter answers every message with a fixed response.
type stubAdapter struct {
	handleFn func(ctx context.Context, msg models.Message) (models.Response, error)
	lastMsg  models.Message
}

func (s *stubAdapter) Name() string                  { return "slack" }
func (s *stubAdapter) Version() string               { return "1.0.0" }
func (s *stubAdapter) ConfigSchema() plugin.Schema   { return plugin.Schema{} }
func (s *stubAdapter) Start(context.Context) error   { return nil }
func (s *stubAdapter) Stop(context.Context) error    { return nil }
func (s *stubAdapter) Initialize(context.Context, models.PluginConfig, plugin.CoreAPI) error {
	return nil
}
func (s *stubAdapter) HealthCheck(context.Context) models.HealthState { return models.HealthHealthy }
func (s *stubAdapter) HandleMessage(ctx context.Context, msg models.Message) (models.Response, error) {
	s.lastMsg = msg
	if s.handleFn != nil {
		return s.handleFn(ctx, msg)
	}
	return models.Response{Content: "handled " + msg.Command, Type: models.ResponseInChannel}, nil
}
func (s *stubAdapter) SendMessage(context.Context, string, string, models.Response) bool { return true }
func (s *stubAdapter) HandleEvent(context.Context, models.EventType, map[string]any)     {}

func newTestGateway(t *testing.T) (*WebhookHandler, *stubAdapter) {
	t.Helper()
	adapter := &stubAdapter{}
	registry := plugin.NewRegistry(nil, plugin.NewConfigLoader(""), nil, time.Second)
	registry.RegisterFactory("slack", func() plugin.Plugin { return adapter })
	require.True(t, registry.Load(context.Background(), "slack", models.PluginConfig{
		PluginName: "slack", PluginVersion: "1.0.0", Enabled: true,
	}))

	secrets := func(name string) (string, bool) {
		if name == "slack" {
			return testSecret, true
		}
		return "", false
	}
	return NewWebhookHandler(registry, secrets, nil), adapter
}

func sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, contentType string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/plugins/slack/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", contentType)
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, sign(testSecret, ts, body))
	req = muxSetVars(req, map[string]string{"plugin": "slack"})
	return req
}

func TestSlashCommandRoundTrip(t *testing.T) {
	handler, adapter := newTestGateway(t)

	form := url.Values{
		"team_id": {"T777"},
		"user_id": {"U123"},
		"text":    {"plan date=2026-08-24"},
	}
	req := signedRequest(t, "application/x-www-form-urlencoded", []byte(form.Encode()))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "plan", adapter.lastMsg.Command)
	assert.Equal(t, "T777", adapter.lastMsg.ChannelID)

	var resp platformResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in_channel", resp.ResponseType)
	assert.Equal(t, "handled plan", resp.Text)
}

func TestSlashCommandReplyCarriesPlanButtons(t *testing.T) {
	handler, adapter := newTestGateway(t)
	adapter.handleFn = func(context.Context, models.Message) (models.Response, error) {
		return models.Response{
			Content: "Your plan",
			Type:    models.ResponseInChannel,
			Actions: []models.Action{
				{ID: "approve_plan", Label: "Approve", Style: "primary"},
				{ID: "reject_plan", Label: "Reject", Style: "danger"},
			},
			Metadata: map[string]string{"plan_date": "2026-08-24"},
		}, nil
	}

	form := url.Values{
		"team_id": {"T777"},
		"user_id": {"U123"},
		"text":    {"plan"},
	}
	req := signedRequest(t, "application/x-www-form-urlencoded", []byte(form.Encode()))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"response_type":"in_channel"`)
	assert.Contains(t, body, `"text":"Your plan"`)
	assert.Contains(t, body, `"blocks"`)
	assert.Contains(t, body, "approve_plan")
	assert.Contains(t, body, "reject_plan")
	assert.Contains(t, body, "2026-08-24")
}

func TestBadSignatureIsRejectedWithoutDetail(t *testing.T) {
	handler, adapter := newTestGateway(t)

	body := []byte("team_id=T777&user_id=U123&text=plan")
	req := httptest.NewRequest(http.MethodPost, "/plugins/slack/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, sign("wrong-secret", ts, body))
	req = muxSetVars(req, map[string]string{"plugin": "slack"})

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String(), "401 carries no detail")
	assert.Empty(t, adapter.lastMsg.Command, "payload is never parsed")
}

func TestStaleTimestampIsRejected(t *testing.T) {
	handler, _ := newTestGateway(t)

	body := []byte("team_id=T777&user_id=U123&text=plan")
	req := httptest.NewRequest(http.MethodPost, "/plugins/slack/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ts := strconv.FormatInt(time.Now().Add(-6*time.Minute).Unix(), 10)
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, sign(testSecret, ts, body))
	req = muxSetVars(req, map[string]string{"plugin": "slack"})

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMissingSignatureHeadersRejected(t *testing.T) {
	handler, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/plugins/slack/webhook", strings.NewReader("text=plan"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = muxSetVars(req, map[string]string{"plugin": "slack"})

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownPluginSecretRejected(t *testing.T) {
	handler, _ := newTestGateway(t)

	body := []byte("text=plan")
	req := httptest.NewRequest(http.MethodPost, "/plugins/mystery/webhook", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(timestampHeader, ts)
	req.Header.Set(signatureHeader, sign(testSecret, ts, body))
	req = muxSetVars(req, map[string]string{"plugin": "mystery"})

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestURLVerificationChallengeEchoed(t *testing.T) {
	handler, adapter := newTestGateway(t)

	body := []byte(`{"type":"url_verification","challenge":"chal-42"}`)
	req := signedRequest(t, "application/json", body)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chal-42", resp["challenge"])
	assert.Empty(t, adapter.lastMsg.Command, "challenge never reaches the adapter")
}

func TestEventCallbackRouted(t *testing.T) {
	handler, adapter := newTestGateway(t)

	body := []byte(`{
		"type": "event_callback",
		"team_id": "T777",
		"event": {"type": "app_mention", "user": "U123", "channel": "C42", "text": "<@B042> status", "ts": "1724500000.000100"}
	}`)
	req := signedRequest(t, "application/json", body)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "status", adapter.lastMsg.Command)
	assert.Equal(t, "T777", adapter.lastMsg.ChannelID)
}

func TestUnknownInnerEventAcknowledged(t *testing.T) {
	handler, adapter := newTestGateway(t)

	body := []byte(`{
		"type": "event_callback",
		"team_id": "T777",
		"event": {"type": "reaction_added", "user": "U123"}
	}`)
	req := signedRequest(t, "application/json", body)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, adapter.lastMsg.Command)
}

func TestMalformedEnvelopeIs400(t *testing.T) {
	handler, _ := newTestGateway(t)

	req := signedRequest(t, "application/json", []byte(`{"type":"mystery_envelope"}`))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = signedRequest(t, "text/plain", []byte("hello"))
	rec = httptest.NewRecorder()
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdapterFailureIs200WithErrorBody(t *testing.T) {
	handler, adapter := newTestGateway(t)
	adapter.handleFn = func(context.Context, models.Message) (models.Response, error) {
		return models.Response{}, fmt.Errorf("db down: host=prod-db-01")
	}

	form := url.Values{"team_id": {"T777"}, "user_id": {"U123"}, "text": {"plan"}}
	req := signedRequest(t, "application/x-www-form-urlencoded", []byte(form.Encode()))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	// 200 so the platform does not retry; the body is the generic error.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp platformResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ephemeral", resp.ResponseType)
	assert.NotContains(t, resp.Text, "prod-db-01")
}
