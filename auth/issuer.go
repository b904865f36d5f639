// Package auth mints and checks signed identity tokens for anonymous
// marketplace viewers. Tokens are HMAC-SHA256 over a JSON payload.
// Without a signing secret the issuer falls back to unsigned tokens
// carrying an explicit unsafe marker, so a misconfigured deployment is
// visible instead of silently trusting forgeable identities.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentgate/agentgate/types"
)

const unsafePrefix = "unsafe."

// DefaultTTL is how long an identity token stays valid.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrTokenInvalid = errors.New("identity token invalid")
	ErrTokenExpired = errors.New("identity token expired")

	// ErrUnsafeToken accompanies identities decoded from unsigned
	// tokens. Callers outside development must refuse them.
	ErrUnsafeToken = errors.New("unsigned identity token")
)

// Identity is the payload carried by a token.
type Identity struct {
	ViewerID  string    `json:"viewerId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Token pairs an encoded token with its trust level.
type Token struct {
	Value     string    `json:"token"`
	Unsafe    bool      `json:"unsafe"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer mints and verifies identity tokens with a single shared
// secret. An empty secret selects unsafe mode.
type Issuer struct {
	secret []byte
	clock  types.Clock
	ttl    time.Duration
}

type Option func(*Issuer)

func WithClock(c types.Clock) Option {
	return func(i *Issuer) {
		i.clock = c
	}
}

func WithTTL(d time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = d
	}
}

func NewIssuer(secret []byte, opts ...Option) *Issuer {
	i := &Issuer{
		secret: secret,
		clock:  types.SystemClock{},
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Unsafe reports whether the issuer mints unsigned tokens.
func (i *Issuer) Unsafe() bool {
	return len(i.secret) == 0
}

// Issue mints a token for viewerID.
func (i *Issuer) Issue(viewerID string) (*Token, error) {
	if viewerID == "" {
		return nil, types.NewGateError(types.ErrCodeInvalidInput, "viewer id is required", nil)
	}

	now := i.clock.Now().UTC()
	ident := Identity{
		ViewerID:  viewerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	payload, err := json.Marshal(ident)
	if err != nil {
		return nil, types.NewGateError(types.ErrCodeInternal, "could not encode identity", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)

	if i.Unsafe() {
		return &Token{
			Value:     unsafePrefix + encoded,
			Unsafe:    true,
			ExpiresAt: ident.ExpiresAt,
		}, nil
	}
	return &Token{
		Value:     encoded + "." + i.sign(encoded),
		ExpiresAt: ident.ExpiresAt,
	}, nil
}

// Verify decodes and checks a token. An unsafe token still yields its
// identity but together with ErrUnsafeToken, letting development mode
// opt in explicitly while production refuses.
func (i *Issuer) Verify(token string) (*Identity, error) {
	if rest, ok := strings.CutPrefix(token, unsafePrefix); ok {
		ident, err := decodeIdentity(rest)
		if err != nil {
			return nil, err
		}
		if i.expired(ident) {
			return nil, ErrTokenExpired
		}
		return ident, ErrUnsafeToken
	}

	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || i.Unsafe() {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(i.sign(encoded)), []byte(sig)) {
		return nil, ErrTokenInvalid
	}

	ident, err := decodeIdentity(encoded)
	if err != nil {
		return nil, err
	}
	if i.expired(ident) {
		return nil, ErrTokenExpired
	}
	return ident, nil
}

func (i *Issuer) sign(encoded string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (i *Issuer) expired(ident *Identity) bool {
	return !ident.ExpiresAt.IsZero() && i.clock.Now().After(ident.ExpiresAt)
}

func decodeIdentity(encoded string) (*Identity, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if ident.ViewerID == "" {
		return nil, ErrTokenInvalid
	}
	return &ident, nil
}
