package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-allowlist/social"
	"golang.org/x/oauth2"
)

const (
	ProviderName = "discord"

	defaultAuthURL    = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL   = "https://discord.com/api/oauth2/token"
	defaultAPIBaseURL = "https://discord.com/api/v9"
)

// Config holds Discord OAuth and bot configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	// BotToken, GuildID and RoleID drive GrantRole.
	BotToken string
	GuildID  string
	RoleID   string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the scopes needed to read the user identity.
func DefaultScopes() []string {
	return []string{"identify"}
}

// Provider implements social.OAuth2Provider for Discord and adds the guild
// role grant.
type Provider struct {
	config     Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

// New creates a new Discord provider.
func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: client,
	}
}

// Name implements social.OAuth2Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// AuthCodeURL implements social.OAuth2Provider.
func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions(p.config.Scopes, opts...)

	oc := *p.oauth
	oc.Scopes = cfg.Scopes
	if cfg.RedirectURL != "" {
		oc.RedirectURL = cfg.RedirectURL
	}

	var params []oauth2.AuthCodeOption
	if cfg.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", cfg.Prompt))
	}

	return oc.AuthCodeURL(state, params...)
}

// Exchange implements social.OAuth2Provider.
func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	cfg := social.ApplyExchangeOptions(opts...)

	oc := *p.oauth
	if cfg.RedirectURL != "" {
		oc.RedirectURL = cfg.RedirectURL
	}

	tok, err := oc.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, tokenError("exchange", err)
	}

	return toSocialToken(tok), nil
}

// RefreshToken implements social.OAuth2Provider.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*social.Token, error) {
	if refreshToken == "" {
		return nil, providerError("refresh", 0, social.CodeInvalidResponse, "missing refresh token", nil, nil)
	}

	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError("refresh", err)
	}

	return toSocialToken(tok), nil
}

// UserInfo implements social.OAuth2Provider.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.SocialProfile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, providerError("user_info", 0, social.CodeInvalidResponse, "missing access token", nil, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.APIBaseURL+"/users/@me", nil)
	if err != nil {
		return nil, providerError("user_info", 0, social.CodeRequestFailed, "", err, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return nil, providerError("user_info", 0, social.CodeRequestFailed, "", err, nil)
	}

	if status != http.StatusOK {
		return nil, providerError("user_info", status, social.CodeBadResponse, apiErrorMessage(body), nil, nil)
	}

	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, providerError("user_info", status, social.CodeMalformedResponse, "failed to decode user response", err, nil)
	}

	if user.ID == "" || user.Username == "" {
		return nil, providerError("user_info", status, social.CodeInvalidResponse, "user response missing id or username", nil, nil)
	}

	return mapProfile(&user), nil
}

// GrantRole adds the configured guild role to a Discord user using the bot token.
func (p *Provider) GrantRole(ctx context.Context, userID string) error {
	if userID == "" {
		return providerError("grant_role", 0, social.CodeInvalidResponse, "missing user id", nil, nil)
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s",
		p.config.APIBaseURL,
		url.PathEscape(p.config.GuildID),
		url.PathEscape(userID),
		url.PathEscape(p.config.RoleID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return providerError("grant_role", 0, social.CodeRequestFailed, "", err, nil)
	}
	req.Header.Set("Authorization", "Bot "+p.config.BotToken)
	req.Header.Set("Content-Type", "application/json")

	body, status, err := p.do(req)
	if err != nil {
		return providerError("grant_role", 0, social.CodeRequestFailed, "", err, nil)
	}

	if status < 200 || status > 299 {
		return providerError("grant_role", status, social.CodeBadResponse, apiErrorMessage(body), nil, nil)
	}

	return nil
}

func (p *Provider) do(req *http.Request) ([]byte, int, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func toSocialToken(tok *oauth2.Token) *social.Token {
	out := &social.Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scopes = strings.Fields(scope)
	}

	return out
}

// tokenError normalizes failures reported by the oauth2 token endpoint round trip.
func tokenError(operation string, err error) *social.ProviderError {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}

		description := rerr.ErrorDescription
		if description == "" {
			description = rerr.ErrorCode
		}

		var raw map[string]any
		if rerr.ErrorCode != "" {
			raw = map[string]any{"error": rerr.ErrorCode}
		}

		return providerError(operation, status, social.CodeBadResponse, description, err, raw)
	}

	var uerr *url.Error
	if errors.As(err, &uerr) {
		return providerError(operation, 0, social.CodeRequestFailed, "", err, nil)
	}

	if strings.Contains(err.Error(), "missing access_token") {
		return providerError(operation, http.StatusOK, social.CodeInvalidResponse, "missing access token", err, nil)
	}

	return providerError(operation, http.StatusOK, social.CodeMalformedResponse, "failed to decode token response", err, nil)
}

type discordAPIError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func apiErrorMessage(body []byte) string {
	var apiErr discordAPIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "discord request failed"
	}

	return msg
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) *social.ProviderError {
	return &social.ProviderError{
		Provider:    ProviderName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}
