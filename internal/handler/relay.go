package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"rc-relay/internal/model"
	"rc-relay/internal/service"
)

const msgDescriptorInvalid = "Request body must be a JSON request descriptor"

// RelayHandler exposes the generic forwarding endpoint used by the dashboard.
type RelayHandler struct {
	relay  *service.Relay
	logger *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(relay *service.Relay, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		relay:  relay,
		logger: logger.With("component", "relay_handler"),
	}
}

// Handle decodes the request descriptor, relays it and writes the envelope.
// The HTTP status is 200 whenever an upstream answered, whatever its status;
// relay-synthesized envelopes carry their own status.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	var d model.RequestDescriptor
	if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
		h.logger.Warn("malformed request descriptor", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadRequest, &model.ResponseEnvelope{
			Status:     http.StatusBadRequest,
			StatusText: model.StatusText(http.StatusBadRequest),
			Headers:    map[string]string{},
			Data:       model.ErrorData{Error: msgDescriptorInvalid},
		})
	}

	env, err := h.relay.Handle(req.Context(), &d)
	if err != nil {
		return h.mapError(c, env, err)
	}
	return c.JSON(http.StatusOK, env)
}

func (h *RelayHandler) mapError(c echo.Context, env *model.ResponseEnvelope, err error) error {
	path := c.Request().URL.Path

	switch {
	case errors.Is(err, service.ErrValidation):
		h.logger.Warn("request descriptor rejected", "err", err, "path", path)
	case errors.Is(err, service.ErrClientCanceled):
		// Nobody is listening any more; the write below is best effort.
		h.logger.Info("client disconnected", "path", path)
	default:
		h.logger.Error("relay error", "err", service.SanitizeError(err), "path", path)
	}

	return c.JSON(env.Status, env)
}
