package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in signed cookies.
const (
	KindSession  = "session"
	KindCeremony = "ceremony"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims binds an opaque id (Subject) to a token kind.
type Claims struct {
	Kind string `json:"knd"`
	jwt.RegisteredClaims
}

// TokenSigner signs cookie values so forged ids never reach a store lookup.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates an HS256 signer.
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), now: time.Now}
}

// Sign returns a token for id valid for ttl.
func (s *TokenSigner) Sign(kind, id string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature, expiry and kind, and returns the id.
func (s *TokenSigner) Verify(kind, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
