// audit.go provides Gin middleware that ships successful admin mutations to
// the configured audit destinations.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/safego"
)

// Handlers annotate the request with these keys so the audit entry names the
// domain action instead of the raw route.
const (
	AuditActionKey   = "audit_action"
	AuditResourceKey = "audit_resource_id"
)

const auditShipTimeout = 5 * time.Second

// SetAuditAction records the action and affected resource for AuditMiddleware.
func SetAuditAction(c *gin.Context, action, resourceID string) {
	c.Set(AuditActionKey, action)
	if resourceID != "" {
		c.Set(AuditResourceKey, resourceID)
	}
}

// AuditMiddleware ships one entry per successful write request. Reads and
// failed requests are not shipped. A nil shipper disables the middleware.
func AuditMiddleware(shipper audit.Shipper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if shipper == nil {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		action := c.GetString(AuditActionKey)
		if action == "" {
			action = audit.ActionAdminRequest
		}

		entry := &audit.LogEntry{
			Timestamp:  time.Now().UTC(),
			Action:     action,
			Outcome:    audit.OutcomeSucceeded,
			Actor:      c.GetString(UsernameKey),
			AccountID:  c.GetString(AccountIDKey),
			ResourceID: c.GetString(AuditResourceKey),
			IPAddress:  c.ClientIP(),
			RequestID:  c.GetString(RequestIDKey),
			StatusCode: c.Writer.Status(),
			Metadata: map[string]interface{}{
				"method": c.Request.Method,
				"route":  c.FullPath(),
			},
		}

		safego.Go("audit-ship", func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditShipTimeout)
			defer cancel()
			if err := shipper.Ship(ctx, entry); err != nil {
				slog.Warn("failed to ship admin audit entry", "action", entry.Action, "error", err)
			}
		})
	}
}
