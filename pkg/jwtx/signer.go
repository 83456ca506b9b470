package jwtx

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret NewHS256 accepts.
const MinSecretLength = 32

// Signer is anything that can sign session tokens.
type Signer interface {
	Sign(Claims) (string, error)
}

// HS256 signs and verifies session tokens with a shared secret.
type HS256 struct {
	secret []byte
	opts   VerifyOptions
}

// NewHS256 returns an HS256 signer/verifier. Verification enforces opts.
func NewHS256(secret []byte, opts VerifyOptions) (*HS256, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("jwtx: HS256 secret too short")
	}
	return &HS256{secret: secret, opts: opts}, nil
}

// Sign serialises claims into a compact JWS.
func (h *HS256) Sign(c Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(h.secret)
}
