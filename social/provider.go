package social

import (
	"context"
	"time"
)

// OAuth2Provider defines the authorization code flow used by providers such as Discord.
type OAuth2Provider interface {
	// Name returns the provider identifier (e.g., "discord").
	Name() string

	// AuthCodeURL returns the URL to redirect users for authorization.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// RefreshToken trades a refresh token for a fresh access token.
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// UserInfo fetches the user's profile using the access token.
	UserInfo(ctx context.Context, token *Token) (*SocialProfile, error)
}

// OAuth1Provider defines the three-legged OAuth 1.0a flow used by Twitter.
type OAuth1Provider interface {
	Name() string

	// AuthenticateURL obtains a request token and returns the URL the user
	// must visit to approve it.
	AuthenticateURL(ctx context.Context) (string, error)

	// Exchange trades a request token and verifier for an access token.
	Exchange(ctx context.Context, requestToken, verifier string) (*Token, error)

	// UserInfo fetches the profile of the user owning the access token.
	UserInfo(ctx context.Context, token *Token) (*SocialProfile, error)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*authCodeConfig)

// WithScopes sets additional scopes for the auth request.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.scopes = append(c.scopes, scopes...)
	}
}

// WithPrompt sets the prompt parameter (e.g., "consent", "none").
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.prompt = prompt
	}
}

// WithAuthRedirectURL overrides the redirect URI of the authorization request.
func WithAuthRedirectURL(redirectURL string) AuthCodeOption {
	return func(c *authCodeConfig) {
		c.redirectURL = redirectURL
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*exchangeConfig)

// WithRedirectURL overrides the redirect URI sent with the code exchange.
// It must match the URI used when the code was issued.
func WithRedirectURL(redirectURL string) ExchangeOption {
	return func(c *exchangeConfig) {
		c.redirectURL = redirectURL
	}
}

type authCodeConfig struct {
	scopes      []string
	prompt      string
	redirectURL string
}

type exchangeConfig struct {
	redirectURL string
}

// AuthCodeConfig represents applied auth code options in a provider-friendly form.
type AuthCodeConfig struct {
	Scopes      []string
	Prompt      string
	RedirectURL string
}

// ExchangeConfig represents applied exchange options in a provider-friendly form.
type ExchangeConfig struct {
	RedirectURL string
}

// ApplyAuthCodeOptions applies AuthCodeOption values and returns a normalized config.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := authCodeConfig{scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return AuthCodeConfig{
		Scopes:      cfg.scopes,
		Prompt:      cfg.prompt,
		RedirectURL: cfg.redirectURL,
	}
}

// ApplyExchangeOptions applies ExchangeOption values and returns a normalized config.
func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := exchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return ExchangeConfig{
		RedirectURL: cfg.redirectURL,
	}
}

// Token represents an OAuth access token. OAuth1 tokens carry their secret
// in TokenSecret.
type Token struct {
	AccessToken  string
	TokenSecret  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	Raw          map[string]any
}

// SocialProfile represents normalized user information from a social provider.
type SocialProfile struct {
	ProviderUserID string
	Provider       string
	Name           string
	Username       string
	AvatarURL      string
	Raw            map[string]any
}
