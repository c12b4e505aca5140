package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rc-relay/internal/model"
)

var (
	// ErrMissingCredentials is returned when username or password is blank.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrMissingOTP is returned when username, password or otp is blank.
	ErrMissingOTP = errors.New("username and password or otp are required")
)

// LoginProvider is the verification provider's login API.
type LoginProvider interface {
	LoginOTP(ctx context.Context, username, password string) (*model.UpstreamResult, error)
	VerifyOTP(ctx context.Context, username, password, otp string) (*model.UpstreamResult, error)
}

// AuthService validates login requests and forwards them to the provider.
type AuthService struct {
	provider LoginProvider
	logger   *slog.Logger
}

// NewAuthService creates an AuthService. *client.VerifyClient satisfies LoginProvider.
func NewAuthService(p LoginProvider, logger *slog.Logger) *AuthService {
	return &AuthService{
		provider: p,
		logger:   logger.With("component", "auth_service"),
	}
}

// RequestOTP asks the provider to send a one-time password.
func (s *AuthService) RequestOTP(ctx context.Context, req *model.LoginRequest) (*model.UpstreamResult, error) {
	if blank(req.Username) || blank(req.Password) {
		return nil, ErrMissingCredentials
	}
	s.logger.Info("requesting login otp", "username", req.Username)

	res, err := s.provider.LoginOTP(ctx, req.Username, req.Password)
	if err != nil {
		return nil, fmt.Errorf("login otp: %w", err)
	}
	return res, nil
}

// VerifyOTP exchanges a one-time password for an access token.
func (s *AuthService) VerifyOTP(ctx context.Context, req *model.VerifyOTPRequest) (*model.UpstreamResult, error) {
	if blank(req.Username) || blank(req.Password) || req.OTP == "" {
		return nil, ErrMissingOTP
	}
	s.logger.Info("verifying login otp", "username", req.Username)

	res, err := s.provider.VerifyOTP(ctx, req.Username, req.Password, req.OTP)
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w", err)
	}
	return res, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
