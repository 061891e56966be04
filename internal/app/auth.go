package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

// Identity is the authenticated caller. Only UserID flows into the engine.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	JTI         string
	ExpiresAt   time.Time
}

type AuthSession struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     Identity
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.Profile, error) {
	return s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
}

func (s *Service) SignIn(ctx context.Context, email, password string) (AuthSession, error) {
	profile, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return AuthSession{}, err
	}
	return s.issueSession(ctx, profile)
}

// Refresh rotates the refresh token. The old one is revoked before the new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthSession, error) {
	if refreshToken == "" {
		return AuthSession{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthSession{}, auth.ErrInvalidToken
		}
		return AuthSession{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return AuthSession{}, fmt.Errorf("revoke refresh session: %w", err)
	}
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthSession{}, auth.ErrInvalidToken
		}
		return AuthSession{}, fmt.Errorf("get profile: %w", err)
	}
	return s.issueSession(ctx, profile)
}

// SignOut revokes the refresh token. Access tokens simply run out.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (AuthSession, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   profile.ID,
		Email: profile.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return AuthSession{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return AuthSession{}, fmt.Errorf("save refresh session: %w", err)
	}

	return AuthSession{
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Identity: Identity{
			UserID:      profile.ID,
			Email:       profile.Email,
			DisplayName: profile.DisplayName,
			JTI:         jti,
			ExpiresAt:   expiresAt,
		},
	}, nil
}

// IdentityFromToken validates the access token and loads the profile it
// names. A token for a deleted profile is invalid.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Identity{}, err
	}
	profile, err := s.store.GetProfile(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, auth.ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("get profile: %w", err)
	}
	return Identity{
		UserID:      profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}
