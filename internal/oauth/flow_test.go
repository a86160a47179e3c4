package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/triagehub/triagehub-backend/internal/crypto"
	"github.com/triagehub/triagehub-backend/internal/repository"
	"github.com/triagehub/triagehub-backend/internal/store"
)

func newTestStore(t *testing.T) *store.InstallationStore {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	schema, err := os.ReadFile("../../migrations/001_initial_schema.sql")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(string(schema)))

	cipher, err := crypto.NewTokenCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return store.NewInstallationStore(repo, cipher)
}

func newTestFlow(t *testing.T, tokenURL string) *Flow {
	t.Helper()
	return NewFlow(Options{
		PluginName:   "slack",
		ClientID:     "client-id",
		ClientSecret: "hush-hush-secret",
		RedirectURL:  "https://example.test/plugins/slack/oauth/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: "https://slack.test/authorize", TokenURL: tokenURL},
	}, newTestStore(t), nil)
}

func slackTokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const goodTokenBody = `{
	"access_token": "xoxb-new-token",
	"refresh_token": "xoxe-refresh",
	"token_type": "bearer",
	"scope": "chat:write,commands",
	"bot_user_id": "B042",
	"team": {"id": "T777", "name": "Acme"}
}`

func TestAuthorizeURLCarriesStateAndScopes(t *testing.T) {
	flow := newTestFlow(t, "https://slack.test/token")

	authURL, state, err := flow.AuthorizeURL()
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "state="+state)
	assert.Contains(t, authURL, "client_id=client-id")
	assert.Contains(t, authURL, "chat")
	assert.NotContains(t, authURL, "hush-hush-secret")
}

func TestStateRedeemsExactlyOnce(t *testing.T) {
	flow := newTestFlow(t, "https://slack.test/token")

	_, state, err := flow.AuthorizeURL()
	require.NoError(t, err)

	assert.True(t, flow.VerifyState(state))
	assert.False(t, flow.VerifyState(state), "second redemption must fail")
	assert.False(t, flow.VerifyState("never-issued"))
	assert.False(t, flow.VerifyState(""))
}

func TestStateExpires(t *testing.T) {
	states := newStateStore(10 * time.Minute)
	base := time.Now()
	states.now = func() time.Time { return base }

	state, err := states.Issue()
	require.NoError(t, err)

	states.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.False(t, states.Consume(state), "state past its TTL must not redeem")
}

func TestExchangeSuccess(t *testing.T) {
	srv := slackTokenServer(t, http.StatusOK, goodTokenBody)
	flow := newTestFlow(t, srv.URL)

	ts, err := flow.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-new-token", ts.AccessToken)
	assert.Equal(t, "xoxe-refresh", ts.RefreshToken)
	assert.Equal(t, "T777", ts.TeamID)
	assert.Equal(t, "Acme", ts.TeamName)
	assert.Equal(t, "B042", ts.BotUserID)
	assert.Equal(t, "chat:write,commands", ts.Scope)
}

func TestExchangeMapsPlatformErrors(t *testing.T) {
	srv := slackTokenServer(t, http.StatusBadRequest, `{"ok":false,"error":"invalid_code"}`)
	flow := newTestFlow(t, srv.URL)

	_, err := flow.Exchange(context.Background(), "bad-code")
	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "invalid_code", oe.Code)
	assert.Contains(t, oe.Message, "authorization code is invalid")
	assert.NotContains(t, oe.Message, "hush-hush-secret")
}

func TestPlatformErrorTable(t *testing.T) {
	for code, want := range friendlyMessages {
		err := mapPlatformError(&oauth2.RetrieveError{Body: []byte(fmt.Sprintf(`{"error":%q}`, code))})
		assert.Equal(t, code, err.Code)
		assert.Equal(t, want, err.Message)
	}

	// Unlisted codes fall back to the generic message.
	err := mapPlatformError(&oauth2.RetrieveError{Body: []byte(`{"error":"ratelimited"}`)})
	assert.Equal(t, genericAuthMessage, err.Message)

	// Non-platform errors never leak their text.
	err = mapPlatformError(fmt.Errorf("dial tcp 10.0.0.5:443: connect refused"))
	assert.Equal(t, genericAuthMessage, err.Message)
	assert.False(t, strings.Contains(err.Message, "10.0.0.5"))
}

func TestStorePersistsInstallation(t *testing.T) {
	flow := newTestFlow(t, "https://slack.test/token")
	ctx := context.Background()

	ts := &TokenSet{AccessToken: "xoxb-1", TeamID: "T777", TeamName: "Acme", BotUserID: "B042", Scope: "chat:write"}
	inst, err := flow.Store(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, "slack", inst.PluginName)
	assert.Equal(t, "T777", inst.ChannelID)
	assert.True(t, inst.IsActive)

	stored, err := flow.store.Get(ctx, "slack", "T777")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "xoxb-1", stored.AccessToken)
}

func TestStoreDuplicateWorkspace(t *testing.T) {
	flow := newTestFlow(t, "https://slack.test/token")
	ctx := context.Background()

	ts := &TokenSet{AccessToken: "xoxb-1", TeamID: "T777", TeamName: "Acme"}
	_, err := flow.Store(ctx, ts)
	require.NoError(t, err)

	_, err = flow.Store(ctx, ts)
	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "workspace_already_installed", oe.Code)
	assert.Contains(t, oe.Message, "Acme")
}

func TestRefreshRotatesStoredTokens(t *testing.T) {
	srv := slackTokenServer(t, http.StatusOK, goodTokenBody)
	flow := newTestFlow(t, srv.URL)
	ctx := context.Background()

	_, err := flow.Store(ctx, &TokenSet{AccessToken: "xoxb-old", RefreshToken: "xoxe-old", TeamID: "T777"})
	require.NoError(t, err)

	ts, err := flow.Refresh(ctx, "T777", "xoxe-old")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-new-token", ts.AccessToken)

	stored, err := flow.store.Get(ctx, "slack", "T777")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-new-token", stored.AccessToken)
	assert.Equal(t, "xoxe-refresh", stored.RefreshToken)
}

func TestRefreshUnknownWorkspace(t *testing.T) {
	srv := slackTokenServer(t, http.StatusOK, goodTokenBody)
	flow := newTestFlow(t, srv.URL)

	_, err := flow.Refresh(context.Background(), "T000", "xoxe-old")
	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "invalid_refresh_token", oe.Code)
}
