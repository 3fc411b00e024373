package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"rotating-proxy-go/internal/model"
	"rotating-proxy-go/internal/service"
)

// RelayHandler serves the catch-all relay route. The request path, stripped
// of its leading slash, is the target URL.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle forwards the request to the target embedded in the path and
// streams the upstream response back verbatim.
func (h *RelayHandler) Handle(c echo.Context) error {
	req := c.Request()

	// RequestURI keeps the target's own query string and any embedded
	// slashes intact, which URL-normalized forms would mangle.
	target := strings.TrimPrefix(req.RequestURI, "/")
	if target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "no target URL in request path",
		})
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "read request body failed",
			})
		}
		body = b
	}

	rr := &model.RelayRequest{
		Method: req.Method,
		Target: target,
		Header: req.Header,
		Body:   body,
	}

	resp, attempts, err := h.service.Forward(req.Context(), rr)
	if err != nil {
		return h.mapError(c, err, len(attempts))
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream the status has already been sent, so the client gets a
	// truncated response with the original status; log it and move on.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"target", target,
		)
	}

	return nil
}

func (h *RelayHandler) mapError(c echo.Context, err error, attempts int) error {
	h.logger.Error("relay error",
		"err", err,
		"attempts", attempts,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrInvalidTarget) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid target URL",
		})
	}

	var relayErr *service.RelayError
	if errors.As(err, &relayErr) {
		msg := "all forward attempts failed"
		if relayErr.StatusCode == http.StatusGatewayTimeout {
			msg = "upstream request timed out or was unreachable"
		}
		return c.JSON(relayErr.StatusCode, map[string]string{
			"error": msg,
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "relay request failed",
	})
}
