// Package oauth implements the workspace installation flow: authorization
// URL issuance with state tracking, code exchange against the platform token
// endpoint, installation persistence, and token refresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/triagehub/triagehub-backend/internal/models"
	"github.com/triagehub/triagehub-backend/internal/repository"
	"github.com/triagehub/triagehub-backend/internal/store"
)

// exchangeTimeout bounds every token-endpoint call.
const exchangeTimeout = 30 * time.Second

// defaultScopes is the Slack bot scope set requested when the caller does
// not override.
var defaultScopes = []string{"chat:write", "commands", "app_mentions:read", "im:history"}

// TokenSet is the outcome of a successful exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TeamID       string
	TeamName     string
	BotUserID    string
	Scope        string
	Expiry       time.Time
}

// Options configures a Flow.
type Options struct {
	PluginName   string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint overrides the platform endpoint; zero value means Slack.
	Endpoint oauth2.Endpoint
	StateTTL time.Duration
}

// Flow drives the OAuth installation handshake for one plugin.
type Flow struct {
	cfg        oauth2.Config
	pluginName string
	store      *store.InstallationStore
	states     *stateStore
	logger     *slog.Logger
}

// NewFlow creates a flow persisting installations into st.
func NewFlow(opts Options, st *store.InstallationStore, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := opts.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Slack
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &Flow{
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		pluginName: opts.PluginName,
		store:      st,
		states:     newStateStore(opts.StateTTL),
		logger:     logger,
	}
}

// AuthorizeURL issues a fresh state and returns the URL to send the
// installing user to. Passing scopes overrides the default set for this URL.
func (f *Flow) AuthorizeURL(scopes ...string) (authURL, state string, err error) {
	state, err = f.states.Issue()
	if err != nil {
		return "", "", err
	}
	cfg := f.cfg
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return cfg.AuthCodeURL(state), state, nil
}

// VerifyState redeems a callback state. False means the callback is not a
// response to a URL we issued recently; treat it as an auth failure.
func (f *Flow) VerifyState(state string) bool {
	return state != "" && f.states.Consume(state)
}

// Exchange trades the authorization code for tokens. Failures come back as
// *OAuthError with a user-safe message.
func (f *Flow) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	token, err := f.cfg.Exchange(ctx, code)
	if err != nil {
		oe := mapPlatformError(err)
		f.logger.Warn("oauth exchange failed", "plugin", f.pluginName, "code", oe.Code)
		return nil, oe
	}
	return tokenSetFrom(token), nil
}

// Store persists a new workspace installation with the exchanged tokens.
// A second installation of the same workspace fails with an OAuthError
// naming the workspace.
func (f *Flow) Store(ctx context.Context, ts *TokenSet) (*models.Installation, error) {
	if ts.TeamID == "" {
		return nil, &OAuthError{Message: genericAuthMessage}
	}
	inst := &models.Installation{
		PluginName:   f.pluginName,
		ChannelID:    ts.TeamID,
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		IsActive:     true,
		Metadata: map[string]string{
			"team_name":   ts.TeamName,
			"bot_user_id": ts.BotUserID,
			"scope":       ts.Scope,
		},
	}
	created, err := f.store.Create(ctx, inst)
	if errors.Is(err, repository.ErrAlreadyExists) {
		name := ts.TeamName
		if name == "" {
			name = ts.TeamID
		}
		return nil, &OAuthError{
			Code:    "workspace_already_installed",
			Message: fmt.Sprintf("Workspace %q already has this application installed.", name),
		}
	}
	if err != nil {
		f.logger.Error("storing installation failed", "plugin", f.pluginName, "team_id", ts.TeamID, "err", err)
		return nil, &OAuthError{Message: genericAuthMessage}
	}
	f.logger.Info("workspace installed", "plugin", f.pluginName, "team_id", ts.TeamID)
	return created, nil
}

// Refresh runs the refresh grant for a workspace and atomically updates the
// stored tokens. Both tokens rotate together or not at all.
func (f *Flow) Refresh(ctx context.Context, channelID, refreshToken string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	src := f.cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	token, err := src.Token()
	if err != nil {
		oe := mapPlatformError(err)
		f.logger.Warn("token refresh failed", "plugin", f.pluginName, "channel_id", channelID, "code", oe.Code)
		return nil, oe
	}

	ts := tokenSetFrom(token)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	up := models.InstallationUpdate{
		AccessToken:  &ts.AccessToken,
		RefreshToken: &ts.RefreshToken,
	}
	inst, err := f.store.Update(ctx, f.pluginName, channelID, up)
	if err != nil {
		return nil, fmt.Errorf("updating stored tokens: %w", err)
	}
	if inst == nil {
		return nil, &OAuthError{
			Code:    "invalid_refresh_token",
			Message: friendlyMessages["invalid_refresh_token"],
		}
	}
	return ts, nil
}

func tokenSetFrom(token *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if botID, ok := token.Extra("bot_user_id").(string); ok {
		ts.BotUserID = botID
	}
	if team, ok := token.Extra("team").(map[string]any); ok {
		if id, ok := team["id"].(string); ok {
			ts.TeamID = id
		}
		if name, ok := team["name"].(string); ok {
			ts.TeamName = name
		}
	}
	return ts
}
