package social

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// StateManager issues and verifies the OAuth state parameter.
type StateManager interface {
	Encode(state *OAuthState) (string, error)
	Decode(token string) (*OAuthState, error)
}

// OAuthState contains the data carried in the OAuth state parameter.
type OAuthState struct {
	Nonce     string `json:"n"`
	Provider  string `json:"p"`
	ReturnTo  string `json:"r,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// SignedStateManager serializes the state as JSON and signs it with HMAC-SHA256.
// The payload is not secret, only tamper proof.
type SignedStateManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSignedStateManager creates a state manager. An empty key is replaced
// by a random one, which makes issued states valid for this process only.
func NewSignedStateManager(key []byte, ttl time.Duration) *SignedStateManager {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &SignedStateManager{
		key: key,
		ttl: ttl,
		now: time.Now,
	}
}

// Encode signs the state, filling in the nonce and timestamps when unset.
func (sm *SignedStateManager) Encode(state *OAuthState) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}

	now := sm.now()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(sm.ttl).Unix()
	}
	if state.Nonce == "" {
		state.Nonce = generateNonce()
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(sm.sign(payload)), nil
}

// Decode verifies the signature and expiry of a state token.
func (sm *SignedStateManager) Decode(token string) (*OAuthState, error) {
	raw := []byte(token)
	idx := bytes.LastIndexByte(raw, '.')
	if idx <= 0 || idx == len(raw)-1 {
		return nil, ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(token[:idx])
	if err != nil {
		return nil, ErrInvalidState
	}
	signature, err := base64.RawURLEncoding.DecodeString(token[idx+1:])
	if err != nil {
		return nil, ErrInvalidState
	}

	if !hmac.Equal(signature, sm.sign(payload)) {
		return nil, ErrInvalidState
	}

	var state OAuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, ErrInvalidState
	}

	if sm.now().Unix() > state.ExpiresAt {
		return nil, ErrStateExpired
	}

	return &state, nil
}

func (sm *SignedStateManager) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, sm.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func generateNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
