// records.go implements handlers for querying, summarising and purging access records.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/db/models"
	"github.com/scriptgate/scriptgate/internal/db/repositories"
	"github.com/scriptgate/scriptgate/internal/middleware"
)

const dateLayout = "2006-01-02"

// AccessRecordHandlers handles access record endpoints
type AccessRecordHandlers struct {
	recordRepo *repositories.AccessRecordRepository
}

// NewAccessRecordHandlers creates a new AccessRecordHandlers instance
func NewAccessRecordHandlers(db *sqlx.DB) *AccessRecordHandlers {
	return &AccessRecordHandlers{
		recordRepo: repositories.NewAccessRecordRepository(db),
	}
}

// parseRecordFilter reads from/to (YYYY-MM-DD, both inclusive), username and granted.
func parseRecordFilter(c *gin.Context) (models.AccessRecordFilter, string) {
	var filter models.AccessRecordFilter

	if v := c.Query("from"); v != "" {
		from, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, "from must be a date in YYYY-MM-DD format"
		}
		filter.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, "to must be a date in YYYY-MM-DD format"
		}
		// Include the whole day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, "to must not be before from"
	}

	filter.Username = c.Query("username")

	if v := c.Query("granted"); v != "" {
		granted, err := strconv.ParseBool(v)
		if err != nil {
			return filter, "granted must be true or false"
		}
		filter.Granted = &granted
	}

	return filter, ""
}

// @Summary      List access records
// @Description  Paginated delivery attempts, newest first.
// @Tags         Access Records
// @Security     Bearer
// @Produce      json
// @Param        from      query  string  false  "First day (YYYY-MM-DD)"
// @Param        to        query  string  false  "Last day, inclusive (YYYY-MM-DD)"
// @Param        username  query  string  false  "Username substring (case-insensitive)"
// @Param        granted   query  bool    false  "Only granted or only denied attempts"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "records: []models.AccessRecord, pagination: map"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/access-records [get]
// ListAccessRecordsHandler lists access records with filters and pagination
// GET /api/v1/admin/access-records
func (h *AccessRecordHandlers) ListAccessRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, msg := parseRecordFilter(c)
		if msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": msg,
			})
			return
		}

		page, perPage, offset := parsePagination(c)

		records, total, err := h.recordRepo.ListAccessRecords(c.Request.Context(), filter, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list access records",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"records": records,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Access statistics
// @Tags         Access Records
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.AccessStats
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/stats [get]
// StatsHandler returns aggregate access statistics
// GET /api/v1/admin/stats
func (h *AccessRecordHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.recordRepo.GetStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to compute statistics",
			})
			return
		}

		c.JSON(http.StatusOK, stats)
	}
}

// @Summary      Daily usage
// @Tags         Access Records
// @Security     Bearer
// @Produce      json
// @Param        days  query  int  false  "Number of days including today, 1-365 (default 7)"
// @Success      200  {object}  map[string]interface{}  "days: int, usage: []models.DailyUsage"
// @Failure      400  {object}  map[string]interface{}  "Invalid days"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/stats/daily [get]
// DailyUsageHandler returns per-day granted/denied counts
// GET /api/v1/admin/stats/daily?days=7
func (h *AccessRecordHandlers) DailyUsageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
		if err != nil || days < 1 || days > 365 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "days must be an integer between 1 and 365",
			})
			return
		}

		usage, err := h.recordRepo.GetDailyUsage(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load daily usage",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"days":  days,
			"usage": usage,
		})
	}
}

// @Summary      Purge access records
// @Description  Delete every access record. Irreversible.
// @Tags         Access Records
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "deleted: int"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/access-records [delete]
// PurgeAccessRecordsHandler deletes all access records
// DELETE /api/v1/admin/access-records
func (h *AccessRecordHandlers) PurgeAccessRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := h.recordRepo.PurgeAccessRecords(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to purge access records",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionRecordsPurge, "")
		c.JSON(http.StatusOK, gin.H{
			"deleted": deleted,
		})
	}
}
