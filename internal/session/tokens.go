package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

// Errors returned by Tokens.
var (
	ErrSigningKeyMissing = errors.New("no secret key set")
	ErrExpiredCredential = errors.New("credential expired")
	ErrInvalidCredential = errors.New("could not validate credentials")
	ErrCSRFMismatch      = errors.New("CSRF token was removed or tampered with")
)

// Claims are the contents of an access or refresh token.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens and signs CSRF tokens with the same secret.
type Tokens struct {
	secret []byte
}

// NewTokens returns a Tokens keyed by secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs a token for subject that expires after ttl.
func (t *Tokens) Issue(subject, role, name string, ttl time.Duration) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrSigningKeyMissing
	}
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "token failed to encode")
	}
	return token, nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (t *Tokens) Verify(token string) (*Claims, error) {
	if len(t.secret) == 0 {
		return nil, ErrSigningKeyMissing
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredCredential
	case err != nil:
		return nil, errors.Wrap(ErrInvalidCredential, err.Error())
	case claims.Subject == "" || claims.Role == "" || claims.ExpiresAt == nil:
		return nil, errors.Wrap(ErrInvalidCredential, "token is missing claims")
	}
	return &claims, nil
}

// NewCSRF returns a random token for the client to echo and the signature stored in the cookie.
func (t *Tokens) NewCSRF() (token, signature string, err error) {
	if len(t.secret) == 0 {
		return "", "", ErrSigningKeyMissing
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", errors.Wrap(err, "generating csrf token")
	}
	token = hex.EncodeToString(b)
	return token, t.sign(token), nil
}

// CheckCSRF compares the signature of the echoed token against the cookie in constant time.
func (t *Tokens) CheckCSRF(token, signature string) error {
	if token == "" || signature == "" {
		return ErrCSRFMismatch
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return ErrCSRFMismatch
	}
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(token))
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrCSRFMismatch
	}
	return nil
}

func (t *Tokens) sign(token string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
