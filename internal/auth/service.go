package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/identity"
)

// UserLookup resolves the subject of a refresh token.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// Service issues and verifies bearer tokens.
type Service struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	users         UserLookup
	now           func() time.Time
}

// NewService builds a token service from the application config.
func NewService(cfg config.Config, users UserLookup) *Service {
	return &Service{
		issuer:        cfg.AppName,
		accessSecret:  []byte(cfg.JWTSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		users:         users,
		now:           time.Now,
	}
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Issue signs a fresh access and refresh token for user.
func (s *Service) Issue(user identity.User) (TokenPair, error) {
	now := s.now()
	party := user.Party()
	access, _, err := sign(party, KindAccess, s.issuer, s.accessSecret, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := sign(party, KindRefresh, s.issuer, s.refreshSecret, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Token: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTTL.Seconds())}, nil
}

// Refresh verifies a refresh token and rotates both tokens. The user must
// still exist.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := parse(refreshToken, KindRefresh, s.issuer, s.refreshSecret, s.now())
	if err != nil {
		return TokenPair{}, err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return TokenPair{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return TokenPair{}, err
	}
	return s.Issue(user)
}

// Verify checks an access token and returns the party it names.
func (s *Service) Verify(accessToken string) (identity.Party, error) {
	claims, err := parse(accessToken, KindAccess, s.issuer, s.accessSecret, s.now())
	if err != nil {
		return identity.Party{}, err
	}
	return claims.Party(), nil
}
