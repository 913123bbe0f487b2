// Package auth signs and verifies access tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL applies when the issuer is built with a non-positive ttl.
const DefaultAccessTokenTTL = 120 * time.Minute

// Issuer mints and verifies HS256 access tokens whose subject is the user's email.
// It holds no mutable state after construction and is safe for concurrent use.
type Issuer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

type IssuerOption func(*Issuer)

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret []byte, defaultTTL time.Duration, opts ...IssuerOption) *Issuer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultAccessTokenTTL
	}
	i := &Issuer{secret: secret, defaultTTL: defaultTTL, now: time.Now}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Issuer) DefaultTTL() time.Duration { return i.defaultTTL }

// Issue signs a token for subject that expires ttl from now.
func (i *Issuer) Issue(subject string, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tokenString, nil
}

// IssueDefault is Issue with the configured default lifetime.
func (i *Issuer) IssueDefault(subject string) (string, error) {
	return i.Issue(subject, i.defaultTTL)
}

// Resolve validates tokenString and returns its subject. Every failure
// (bad signature, wrong algorithm, expiry, malformed input, empty subject)
// is reported as common.ErrInvalidToken.
func (i *Issuer) Resolve(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, errors.New("missing subject"))
	}
	return claims.Subject, nil
}
