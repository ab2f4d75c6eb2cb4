package allowlist

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// LinkIdentitiesMessage is the /oauth/verify payload.
type LinkIdentitiesMessage struct {
	DiscordCode     string                 `json:"discordCode" doc:"Discord authorization code issued to the frontend redirect."`
	DiscordState    string                 `json:"discordState,omitempty" doc:"Optional state returned by /oauth2/discord/authorize."`
	TwitterToken    string                 `json:"twitterToken" doc:"Twitter OAuth1 request token."`
	TwitterVerifier string                 `json:"twitterVerifier" doc:"Twitter OAuth1 verifier."`
	OnResponse      func(resp *LinkResult) `json:"-"`
}

func (m LinkIdentitiesMessage) Type() string { return "allowlist.identities.link" }

// Validate will run validation rules
func (m LinkIdentitiesMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.DiscordCode, validation.Required),
		validation.Field(&m.TwitterToken, validation.Required),
		validation.Field(&m.TwitterVerifier, validation.Required),
	)
}

// SubmitWalletMessage is the /submit payload.
type SubmitWalletMessage struct {
	DiscordRefresh string                   `json:"discordRefresh" doc:"Discord refresh token returned by /oauth/verify."`
	TwitterID      string                   `json:"twitterId" doc:"Twitter user id returned by /oauth/verify."`
	WalletAddress  string                   `json:"walletAddress" example:"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"`
	OnResponse     func(resp *SubmitResult) `json:"-"`
}

func (m SubmitWalletMessage) Type() string { return "allowlist.wallet.submit" }

// Validate will run validation rules. Address format is checked by the
// workflow so it can be reported as a soft failure.
func (m SubmitWalletMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.DiscordRefresh, validation.Required),
		validation.Field(&m.TwitterID, validation.Required),
		validation.Field(&m.WalletAddress, validation.Required),
	)
}

// LinkIdentitiesHandler runs LinkIdentitiesMessage through the Service.
type LinkIdentitiesHandler struct {
	service *Service
}

// NewLinkIdentitiesHandler creates the handler.
func NewLinkIdentitiesHandler(service *Service) *LinkIdentitiesHandler {
	return &LinkIdentitiesHandler{service: service}
}

func (h *LinkIdentitiesHandler) Execute(ctx context.Context, msg LinkIdentitiesMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during identity linking")
	default:
	}

	if err := msg.Validate(); err != nil {
		return withSource(ErrInvalidPayload, err, nil)
	}

	result, err := h.service.LinkIdentities(ctx, msg)
	if err != nil {
		return err
	}

	if msg.OnResponse != nil {
		msg.OnResponse(result)
	}
	return nil
}

// SubmitWalletHandler runs SubmitWalletMessage through the Service.
type SubmitWalletHandler struct {
	service *Service
}

// NewSubmitWalletHandler creates the handler.
func NewSubmitWalletHandler(service *Service) *SubmitWalletHandler {
	return &SubmitWalletHandler{service: service}
}

func (h *SubmitWalletHandler) Execute(ctx context.Context, msg SubmitWalletMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during wallet submission")
	default:
	}

	if err := msg.Validate(); err != nil {
		return withSource(ErrInvalidPayload, err, nil)
	}

	result, err := h.service.SubmitWallet(ctx, msg)
	if msg.OnResponse != nil && result != nil {
		msg.OnResponse(result)
	}
	return err
}
