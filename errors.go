package allowlist

import (
	"fmt"

	"github.com/goliatone/go-allowlist/social"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeBadRequest            = "BAD_REQUEST"
	TextCodeInvalidPayload        = "INVALID_PAYLOAD"
	TextCodeInvalidRequest        = "INVALID_REQUEST"
	TextCodeNotAllowlisted        = "NOT_ALLOWLISTED"
	TextCodeUnknownMember         = "UNKNOWN_MEMBER"
	TextCodeAlreadySubmitted      = "ALREADY_SUBMITTED"
	TextCodeMismatch              = "USER_INFORMATION_MISMATCH"
	TextCodeInvalidAddress        = "INVALID_ADDRESS"
	TextCodeAddressNotAllowlisted = "ADDRESS_NOT_ALLOWLISTED"
	TextCodeProfileIncomplete     = "PROFILE_NOT_POPULATED"
	TextCodeRoleGrantFailed       = "ROLE_GRANT_FAILED"
	TextCodePassFailed            = "PASS_GENERATION_FAILED"
	TextCodeMemberNotFound        = "MEMBER_NOT_FOUND"
	TextCodeUpstream              = "UPSTREAM_FAILURE"
)

// ErrBadRequest is returned when a required query parameter is missing or invalid.
var ErrBadRequest = goerrors.New("Bad request.", goerrors.CategoryBadInput).
	WithTextCode(TextCodeBadRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidPayload is returned when a JSON body misses required keys.
var ErrInvalidPayload = goerrors.New("Invalid payload.", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidPayload).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidRequest is returned when the claim request has no username.
var ErrInvalidRequest = goerrors.New("Invalid request.", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrNotAllowlisted is returned when no member matches the user handles.
var ErrNotAllowlisted = goerrors.New("User is not allowlisted.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotAllowlisted).
	WithCode(goerrors.CodeNotFound)

// ErrUnknownMember is returned when a submission references a Twitter id
// that was never linked through /oauth/verify.
var ErrUnknownMember = goerrors.New("Don't try to be sneaky.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUnknownMember).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadySubmitted is returned once a member has a bound address.
var ErrAlreadySubmitted = goerrors.New("User has already submitted a wallet address.", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadySubmitted).
	WithCode(goerrors.CodeConflict)

// ErrMismatch is returned when fresh provider identities differ from the stored ones.
var ErrMismatch = goerrors.New("User information mismatch.", goerrors.CategoryAuthz).
	WithTextCode(TextCodeMismatch).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidAddress matches every InvalidAddressError by text code.
var ErrInvalidAddress = goerrors.New("invalid Ethereum address", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidAddress).
	WithCode(goerrors.CodeBadRequest)

// ErrAddressNotAllowlisted is returned when no member holds the address.
var ErrAddressNotAllowlisted = goerrors.New("Address is not allowlisted.", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAddressNotAllowlisted).
	WithCode(goerrors.CodeNotFound)

// ErrProfileIncomplete is returned when the member holding an address misses an identity.
var ErrProfileIncomplete = goerrors.New("Profile not populated.", goerrors.CategoryValidation).
	WithTextCode(TextCodeProfileIncomplete).
	WithCode(goerrors.CodeBadRequest)

// ErrRoleGrantFailed is returned when the Discord role could not be granted.
// The address stays bound.
var ErrRoleGrantFailed = goerrors.New("Failed Role Allocation.", goerrors.CategoryOperation).
	WithTextCode(TextCodeRoleGrantFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrPassFailed is returned when the boarding pass image cannot be produced.
var ErrPassFailed = goerrors.New("Failed to generate boarding pass.", goerrors.CategoryOperation).
	WithTextCode(TextCodePassFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrMemberNotFound is returned by MemberStore lookups.
var ErrMemberNotFound = goerrors.New("member not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeMemberNotFound).
	WithCode(goerrors.CodeNotFound)

// InvalidAddressError reports a wallet address that fails format or checksum validation.
func InvalidAddressError(address string) error {
	return goerrors.New(fmt.Sprintf("%s is not a valid Ethereum address.", address), goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidAddress).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"address": address})
}

// UpstreamStep identifies a provider call in the workflow.
type UpstreamStep string

const (
	StepDiscordOAuth  UpstreamStep = "discord_oauth"
	StepDiscordLookup UpstreamStep = "discord_lookup"
	StepTwitterAuth   UpstreamStep = "twitter_auth"
	StepTwitterAccess UpstreamStep = "twitter_access"
	StepTwitterLookup UpstreamStep = "twitter_lookup"
)

var upstreamMessages = map[UpstreamStep]map[string]string{
	StepDiscordOAuth: {
		social.CodeRequestFailed:     "Failed Discord OAuth2 Request.",
		social.CodeBadResponse:       "Bad Discord OAuth2 Response.",
		social.CodeInvalidResponse:   "Invalid Discord OAuth2 Response.",
		social.CodeMalformedResponse: "Malformed Discord OAuth2 Response.",
	},
	StepDiscordLookup: {
		social.CodeRequestFailed:     "Failed Discord Lookup Request.",
		social.CodeBadResponse:       "Bad Discord Lookup Response.",
		social.CodeInvalidResponse:   "Malformed Discord Lookup Response.",
		social.CodeMalformedResponse: "Malformed Discord Lookup Response.",
	},
	StepTwitterAuth: {
		social.CodeRequestFailed: "Failed Twitter Authentication Request.",
	},
	StepTwitterAccess: {
		social.CodeRequestFailed:     "Failed Twitter Access Request.",
		social.CodeBadResponse:       "Bad Twitter Access Response.",
		social.CodeInvalidResponse:   "Bad Twitter Access Response.",
		social.CodeMalformedResponse: "Bad Twitter Access Response.",
	},
	StepTwitterLookup: {
		social.CodeRequestFailed: "Failed Twitter Lookup Request.",
	},
}

// UpstreamMessage returns the fixed message for a provider failure code at a
// workflow step. Unknown codes fall back to the step's request failure message.
func UpstreamMessage(step UpstreamStep, code string) string {
	messages, ok := upstreamMessages[step]
	if !ok {
		return ErrBadRequest.Message
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[social.CodeRequestFailed]
}

// UpstreamError converts a provider failure into a rich error carrying the
// fixed message for the step.
func UpstreamError(step UpstreamStep, err error) error {
	code := social.ProviderErrorCode(err)

	meta := map[string]any{
		"step":          string(step),
		"provider_code": code,
	}

	var perr *social.ProviderError
	if goerrors.As(err, &perr) {
		for k, v := range perr.Metadata() {
			meta["provider_"+k] = v
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryOperation, UpstreamMessage(step, code)).
		WithTextCode(TextCodeUpstream).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(meta)
}

// HasTextCode reports whether err is a rich error with one of the given text codes.
func HasTextCode(err error, codes ...string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil {
		return false
	}
	for _, code := range codes {
		if rich.TextCode == code {
			return true
		}
	}
	return false
}

// ErrorMessage returns the user facing message of a rich error.
func ErrorMessage(err error) (string, bool) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich == nil || rich.TextCode == "" {
		return "", false
	}
	return rich.Message, true
}

func withSource(sentinel *goerrors.Error, source error, meta map[string]any) error {
	clone := sentinel.Clone()
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		return clone.WithMetadata(meta)
	}
	return clone
}
