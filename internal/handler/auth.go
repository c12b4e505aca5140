package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"rc-relay/internal/model"
	"rc-relay/internal/service"
)

// AuthHandler serves the dashboard's OTP login endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		logger:  logger.With("component", "auth_handler"),
	}
}

// LoginOTP requests a one-time password from the verification provider.
func (h *AuthHandler) LoginOTP(c echo.Context) error {
	var req model.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": service.ErrMissingCredentials.Error()})
	}

	res, err := h.service.RequestOTP(c.Request().Context(), &req)
	if err != nil {
		return h.mapError(c, err)
	}
	return passThrough(c, res)
}

// VerifyOTP exchanges a one-time password for an access token.
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req model.VerifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": service.ErrMissingOTP.Error()})
	}

	res, err := h.service.VerifyOTP(c.Request().Context(), &req)
	if err != nil {
		return h.mapError(c, err)
	}
	return passThrough(c, res)
}

func (h *AuthHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrMissingCredentials) || errors.Is(err, service.ErrMissingOTP) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	msg := service.SanitizeError(err)
	h.logger.Error("token request failed", "err", msg, "path", c.Request().URL.Path)
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":   "Token request failed",
		"message": msg,
	})
}

// passThrough writes the provider's status, content type and body unchanged.
func passThrough(c echo.Context, res *model.UpstreamResult) error {
	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.Status, contentType, res.Body)
}
