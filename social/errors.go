package social

import "github.com/goliatone/go-errors"

const (
	TextCodeInvalidState = "social_invalid_state"
	TextCodeStateExpired = "social_state_expired"
)

// ErrInvalidState is returned when the OAuth state is malformed or tampered.
var ErrInvalidState = errors.New("invalid oauth state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the OAuth state has expired.
var ErrStateExpired = errors.New("oauth state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)
