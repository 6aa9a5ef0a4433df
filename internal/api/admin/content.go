// content.go implements handlers for publishing the protected script and reading its metadata.
package admin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/middleware"
	"github.com/scriptgate/scriptgate/internal/storage"
	"github.com/scriptgate/scriptgate/pkg/checksum"
)

// MaxScriptSize bounds a published script body.
const MaxScriptSize = 10 << 20 // 10MB

// ChecksumHeader optionally carries the hex SHA-256 of a published body.
const ChecksumHeader = "X-Content-SHA256"

// ContentStore is the part of content.Source the admin API uses.
type ContentStore interface {
	Key() string
	Publish(ctx context.Context, r io.Reader, size int64) (*storage.UploadResult, error)
	Metadata(ctx context.Context) (*storage.FileMetadata, error)
}

// ContentHandlers handles script publishing endpoints
type ContentHandlers struct {
	store ContentStore
}

// NewContentHandlers creates a new ContentHandlers instance
func NewContentHandlers(store ContentStore) *ContentHandlers {
	return &ContentHandlers{store: store}
}

// @Summary      Publish script
// @Description  Replace the protected script with the raw request body. The delivery cache is invalidated.
// @Description  When X-Content-SHA256 is set the body must match it.
// @Tags         Content
// @Security     Bearer
// @Accept       application/javascript
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "content: storage.UploadResult"
// @Param        X-Content-SHA256  header  string  false  "Expected hex SHA-256 of the body"
// @Failure      400  {object}  map[string]interface{}  "Empty body or checksum mismatch"
// @Failure      413  {object}  map[string]interface{}  "Script too large"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/content [put]
// PublishHandler uploads a new script body
// PUT /api/v1/admin/content
func (h *ContentHandlers) PublishHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxScriptSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"error": "Script exceeds the maximum size of 10MB",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to read request body",
			})
			return
		}
		if len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Script body is empty",
			})
			return
		}

		if want := strings.TrimSpace(c.GetHeader(ChecksumHeader)); want != "" {
			ok, err := checksum.VerifySHA256(bytes.NewReader(body), strings.ToLower(want))
			if err != nil || !ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Script body does not match " + ChecksumHeader,
				})
				return
			}
		}

		result, err := h.store.Publish(c.Request.Context(), bytes.NewReader(body), int64(len(body)))
		if err != nil {
			slog.Error("failed to publish script", "key", h.store.Key(), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to publish script",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionContentPublish, h.store.Key())
		c.JSON(http.StatusOK, gin.H{
			"content": result,
		})
	}
}

// @Summary      Script metadata
// @Tags         Content
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "content: storage.FileMetadata"
// @Failure      404  {object}  map[string]interface{}  "No script published"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/content [get]
// MetadataHandler returns size, checksum and modification time of the script
// GET /api/v1/admin/content
func (h *ContentHandlers) MetadataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := h.store.Metadata(c.Request.Context())
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "No script published",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read script metadata",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"content": meta,
		})
	}
}
