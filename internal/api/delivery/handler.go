// Package delivery serves the protected script on the public route.
package delivery

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/access"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/middleware"
)

const contentTypeJavaScript = "application/javascript; charset=utf-8"

// Deliverer runs one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, req access.Request) (*access.Result, error)
}

// Handler serves the delivery route.
type Handler struct {
	gate Deliverer
	cfg  config.DeliveryConfig
}

// NewHandler creates a delivery handler.
func NewHandler(gate Deliverer, cfg config.DeliveryConfig) *Handler {
	return &Handler{gate: gate, cfg: cfg}
}

// ServeScript handles GET <delivery.route>?user=<username>&pwd=<secret>.
// The origin page comes from the Referer header, or the page query parameter
// when the embedding page suppresses referrers.
func (h *Handler) ServeScript() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := access.Request{
			Username:   c.Query("user"),
			Secret:     c.Query("pwd"),
			IPAddress:  c.ClientIP(),
			OriginPage: originPage(c),
			UserAgent:  c.Request.UserAgent(),
			RequestID:  c.GetString(middleware.RequestIDKey),
		}

		// Responses are per-caller and spend credits; never cache them.
		c.Header("Cache-Control", "no-store")

		result, err := h.gate.Deliver(c.Request.Context(), req)
		if err != nil {
			slog.Error("script delivery failed after credit was consumed",
				"username", req.Username, "request_id", req.RequestID, "error", err)
			c.String(http.StatusInternalServerError, "Internal server error")
			return
		}

		if result.Granted {
			c.Data(http.StatusOK, contentTypeJavaScript, result.Body)
			return
		}

		h.writeDenial(c, result)
	}
}

func (h *Handler) writeDenial(c *gin.Context, result *access.Result) {
	if !h.cfg.RevealDenialReasons {
		c.String(http.StatusForbidden, "Access denied")
		return
	}

	switch {
	case result.Reason == access.ReasonNoCredits:
		c.Data(http.StatusOK, contentTypeJavaScript, []byte(h.cfg.NoCreditsPayload))
	case result.Unavailable:
		c.String(http.StatusServiceUnavailable, "Access denied: "+result.Reason)
	default:
		c.String(http.StatusForbidden, "Access denied: "+result.Reason)
	}
}

func originPage(c *gin.Context) string {
	if ref := c.Request.Referer(); ref != "" {
		return ref
	}
	return c.Query("page")
}
