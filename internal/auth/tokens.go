package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/walletledger/internal/identity"
)

// Token kinds carried in the "typ" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// ErrInvalidToken covers every signature, expiry and kind failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of both access and refresh tokens.
type Claims struct {
	Kind      string `json:"typ"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	jwt.RegisteredClaims
}

// Party returns the authenticated identity named by c.
func (c *Claims) Party() identity.Party {
	return identity.Party{ID: c.Subject, Email: c.Email, FirstName: c.FirstName, LastName: c.LastName}
}

func sign(p identity.Party, kind, issuer string, secret []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Kind:      kind,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

func parse(token, kind, issuer string, secret []byte, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind || claims.Subject == "" {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalidToken, kind)
	}
	return claims, nil
}
