package auth

import (
	"context"

	"github.com/dineloop/dineloop/internal/config"
	ierr "github.com/dineloop/dineloop/internal/errors"
	"github.com/dineloop/dineloop/internal/logger"
	"github.com/golang-jwt/jwt/v4"
	"github.com/nedpals/supabase-go"
)

// Claims is the identity extracted from a verified access token.
type Claims struct {
	UserID string
	Email  string
}

// Service validates identity-provider access tokens. Tokens are verified
// locally against the provider's HMAC secret; the provider API is only hit
// when the token itself does not carry the email claim.
type Service interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

type supabaseAuth struct {
	cfg    config.AuthConfig
	client *supabase.Client
	logger *logger.Logger
}

func NewService(cfg *config.Configuration, logger *logger.Logger) Service {
	var client *supabase.Client
	if cfg.Auth.Supabase.BaseURL != "" {
		client = supabase.CreateClient(cfg.Auth.Supabase.BaseURL, cfg.Auth.Supabase.ServiceKey)
	}
	return &supabaseAuth{
		cfg:    cfg.Auth,
		client: client,
		logger: logger,
	}
}

func (s *supabaseAuth) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ierr.NewError("unexpected token signing method").
				WithHint("Invalid token").
				Mark(ierr.ErrPermissionDenied)
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid or expired token").
			Mark(ierr.ErrPermissionDenied)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ierr.NewError("invalid token claims").
			WithHint("Invalid or expired token").
			Mark(ierr.ErrPermissionDenied)
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, ierr.NewError("token missing subject").
			WithHint("Invalid or expired token").
			Mark(ierr.ErrPermissionDenied)
	}

	email, _ := claims["email"].(string)
	if email == "" && s.client != nil {
		// Older tokens omit the email claim; the provider's user endpoint
		// accepts the access token itself.
		user, err := s.client.Auth.User(ctx, token)
		if err != nil {
			s.logger.Debugw("user lookup by access token failed", "error", err)
		} else {
			email = user.Email
		}
	}

	return &Claims{UserID: userID, Email: email}, nil
}
