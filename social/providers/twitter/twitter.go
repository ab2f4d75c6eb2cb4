package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	twauth "github.com/dghubble/oauth1/twitter"
	"github.com/goliatone/go-allowlist/social"
	"golang.org/x/oauth2"
)

const (
	ProviderName = "twitter"

	defaultAPIBaseURL = "https://api.twitter.com"
	profileFields     = "profile_image_url"
)

// Config holds Twitter OAuth1 and API v2 configuration.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	// BearerToken is the app-only token used for user lookups.
	BearerToken string

	// Endpoint defaults to the "authenticate" flow so returning users are
	// not asked to approve the app again.
	Endpoint   oauth1.Endpoint
	APIBaseURL string

	HTTPClient *http.Client
}

// Provider implements social.OAuth1Provider for Twitter and adds app-only
// user lookups.
type Provider struct {
	config     Config
	oauth      *oauth1.Config
	httpClient *http.Client
}

// New creates a new Twitter provider.
func New(cfg Config) *Provider {
	if cfg.Endpoint.RequestTokenURL == "" {
		cfg.Endpoint = twauth.AuthenticateEndpoint
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
		oauth: &oauth1.Config{
			ConsumerKey:    cfg.ConsumerKey,
			ConsumerSecret: cfg.ConsumerSecret,
			CallbackURL:    cfg.CallbackURL,
			Endpoint:       cfg.Endpoint,
			HTTPClient:     client,
		},
		httpClient: client,
	}
}

// Name implements social.OAuth1Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// AuthenticateURL implements social.OAuth1Provider.
func (p *Provider) AuthenticateURL(ctx context.Context) (string, error) {
	requestToken, _, err := p.oauth.RequestToken()
	if err != nil {
		return "", oauth1Error("request_token", err)
	}

	authURL, err := p.oauth.AuthorizationURL(requestToken)
	if err != nil {
		return "", providerError("request_token", 0, social.CodeInvalidResponse, "failed to build authorization url", err, nil)
	}

	return authURL.String(), nil
}

// Exchange implements social.OAuth1Provider. Twitter ties the request token
// to the user server side, so the request token secret is not needed.
func (p *Provider) Exchange(ctx context.Context, requestToken, verifier string) (*social.Token, error) {
	if requestToken == "" || verifier == "" {
		return nil, providerError("access_token", 0, social.CodeInvalidResponse, "missing request token or verifier", nil, nil)
	}

	accessToken, accessSecret, err := p.oauth.AccessToken(requestToken, "", verifier)
	if err != nil {
		return nil, oauth1Error("access_token", err)
	}

	return &social.Token{
		AccessToken: accessToken,
		TokenSecret: accessSecret,
		TokenType:   "oauth1",
	}, nil
}

// UserInfo implements social.OAuth1Provider using the user's signed token.
func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.SocialProfile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, providerError("user_info", 0, social.CodeInvalidResponse, "missing access token", nil, nil)
	}

	ctx = context.WithValue(ctx, oauth1.HTTPClient, p.httpClient)
	client := p.oauth.Client(ctx, oauth1.NewToken(token.AccessToken, token.TokenSecret))

	return p.lookup(ctx, client, "user_info", "/2/users/me")
}

// LookupUserByID resolves a user with the app bearer token.
func (p *Provider) LookupUserByID(ctx context.Context, id string) (*social.SocialProfile, error) {
	if id == "" {
		return nil, providerError("lookup_id", 0, social.CodeInvalidResponse, "missing user id", nil, nil)
	}
	return p.lookup(ctx, p.bearerClient(ctx), "lookup_id", "/2/users/"+url.PathEscape(id))
}

// LookupUserByUsername resolves a user by screen name with the app bearer token.
func (p *Provider) LookupUserByUsername(ctx context.Context, username string) (*social.SocialProfile, error) {
	if username == "" {
		return nil, providerError("lookup_username", 0, social.CodeInvalidResponse, "missing username", nil, nil)
	}
	return p.lookup(ctx, p.bearerClient(ctx), "lookup_username", "/2/users/by/username/"+url.PathEscape(username))
}

func (p *Provider) bearerClient(ctx context.Context) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: p.config.BearerToken,
		TokenType:   "Bearer",
	}))
}

func (p *Provider) lookup(ctx context.Context, client *http.Client, operation, path string) (*social.SocialProfile, error) {
	endpoint := p.config.APIBaseURL + path + "?" + url.Values{"user.fields": {profileFields}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, providerError(operation, 0, social.CodeRequestFailed, "", err, nil)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, providerError(operation, 0, social.CodeRequestFailed, "", err, nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerError(operation, resp.StatusCode, social.CodeRequestFailed, "", err, nil)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerError(operation, resp.StatusCode, social.CodeBadResponse, apiErrorMessage(body), nil, nil)
	}

	var payload userResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, providerError(operation, resp.StatusCode, social.CodeMalformedResponse, "failed to decode user response", err, nil)
	}

	if payload.Data == nil || payload.Data.ID == "" || payload.Data.Username == "" {
		return nil, providerError(operation, resp.StatusCode, social.CodeInvalidResponse, payload.errorMessage(), nil, nil)
	}

	return mapProfile(payload.Data), nil
}

// oauth1Error normalizes failures from the OAuth1 token endpoints.
func oauth1Error(operation string, err error) *social.ProviderError {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return providerError(operation, 0, social.CodeRequestFailed, "", err, nil)
	}

	if strings.Contains(err.Error(), "invalid status") {
		return providerError(operation, 0, social.CodeBadResponse, err.Error(), err, nil)
	}

	return providerError(operation, 0, social.CodeInvalidResponse, err.Error(), err, nil)
}

func apiErrorMessage(body []byte) string {
	var payload userResponse
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := payload.errorMessage(); msg != "" {
			return msg
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "twitter request failed"
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
