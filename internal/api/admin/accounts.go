// accounts.go implements handlers for account CRUD operations and credit top-ups.
package admin

import (
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/db/models"
	"github.com/scriptgate/scriptgate/internal/db/repositories"
	"github.com/scriptgate/scriptgate/internal/middleware"
)

// AccountHandlers handles account management endpoints
type AccountHandlers struct {
	cfg         *config.Config
	accountRepo *repositories.AccountRepository
	verifier    auth.SecretVerifier
}

// NewAccountHandlers creates a new AccountHandlers instance
func NewAccountHandlers(cfg *config.Config, db *sql.DB, verifier auth.SecretVerifier) *AccountHandlers {
	return &AccountHandlers{
		cfg:         cfg,
		accountRepo: repositories.NewAccountRepository(db),
		verifier:    verifier,
	}
}

// MaxCredits bounds any single credit value set or added through the API.
const MaxCredits = 1_000_000_000

// parseAccountID validates the :id path parameter and answers 400 when it is
// not a UUID.
func parseAccountID(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid account ID",
		})
		return "", false
	}
	return id.String(), true
}

// hashFailure answers a failed secret hash: 400 for secrets the verifier
// cannot accept, 500 otherwise.
func hashFailure(c *gin.Context, err error, msg string) {
	if errors.Is(err, auth.ErrSecretTooLong) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	slog.Error("failed to hash account secret", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": msg,
	})
}

// parsePagination reads page/per_page (defaults 1/20, max 100).
func parsePagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return page, perPage, (page - 1) * perPage
}

// @Summary      List accounts
// @Description  Get a paginated list of accounts, newest first, optionally filtered by username substring.
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        q         query  string  false  "Username substring (case-insensitive)"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "accounts: []models.Account, pagination: map"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts [get]
// ListAccountsHandler lists accounts with pagination
// GET /api/v1/admin/accounts?q=ali&page=1&per_page=20
func (h *AccountHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := parsePagination(c)

		accounts, total, err := h.accountRepo.ListAccounts(c.Request.Context(), c.Query("q"), perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list accounts",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"accounts": accounts,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get account
// @Tags         Accounts
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Account ID"
// @Success      200  {object}  map[string]interface{}  "account: models.Account"
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts/{id} [get]
// GetAccountHandler retrieves a specific account by ID
// GET /api/v1/admin/accounts/:id
func (h *AccountHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := parseAccountID(c)
		if !ok {
			return
		}

		account, err := h.accountRepo.GetAccountByID(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}

		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"account": account,
		})
	}
}

// CreateAccountRequest represents the request to create a new account
type CreateAccountRequest struct {
	Username      string `json:"username" binding:"required,max=255"`
	Secret        string `json:"secret" binding:"required"`
	RemainingUses int    `json:"remaining_uses" binding:"min=0,max=1000000000"`
	Active        *bool  `json:"active"`
}

// @Summary      Create account
// @Description  Create a new account. The secret is stored according to the configured secret mode.
// @Tags         Accounts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateAccountRequest  true  "Account creation request"
// @Success      201  {object}  map[string]interface{}  "account: models.Account"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      409  {object}  map[string]interface{}  "Username already exists or is reserved"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts [post]
// CreateAccountHandler creates a new account
// POST /api/v1/admin/accounts
func (h *AccountHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		if req.Username == h.cfg.Admin.Username {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Username is reserved",
			})
			return
		}

		hash, err := h.verifier.Hash(req.Secret)
		if err != nil {
			hashFailure(c, err, "Failed to create account")
			return
		}

		account := &models.Account{
			Username:      req.Username,
			SecretHash:    hash,
			RemainingUses: req.RemainingUses,
			Active:        req.Active == nil || *req.Active,
		}

		if err := h.accountRepo.CreateAccount(c.Request.Context(), account); err != nil {
			if errors.Is(err, repositories.ErrDuplicateUsername) {
				c.JSON(http.StatusConflict, gin.H{
					"error": "Username already exists",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create account",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionAccountCreate, account.ID)
		c.JSON(http.StatusCreated, gin.H{
			"account": account,
		})
	}
}

// UpdateAccountRequest represents the request to update an account.
// Omitted fields are left unchanged.
type UpdateAccountRequest struct {
	Secret        *string `json:"secret,omitempty"`
	RemainingUses *int    `json:"remaining_uses,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	IsAdmin       *bool   `json:"is_admin,omitempty"`
}

// @Summary      Update account
// @Description  Rotate the secret, set remaining uses, enable/disable or grant admin. Admin accounts cannot be disabled or demoted.
// @Tags         Accounts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "Account ID"
// @Param        body  body  UpdateAccountRequest  true  "Account update request"
// @Success      200  {object}  map[string]interface{}  "account: models.Account"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Admin account is protected"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts/{id} [put]
// UpdateAccountHandler updates an account
// PUT /api/v1/admin/accounts/:id
func (h *AccountHandlers) UpdateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := parseAccountID(c)
		if !ok {
			return
		}

		var req UpdateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
		if req.RemainingUses != nil && (*req.RemainingUses < 0 || *req.RemainingUses > MaxCredits) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "remaining_uses must be between 0 and 1000000000",
			})
			return
		}
		if req.Secret != nil && *req.Secret == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "secret must not be empty",
			})
			return
		}

		existing, err := h.accountRepo.GetAccountByID(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}

		if existing.IsAdmin {
			if (req.Active != nil && !*req.Active) || (req.IsAdmin != nil && !*req.IsAdmin) {
				c.JSON(http.StatusForbidden, gin.H{
					"error": "Admin accounts cannot be disabled or demoted",
				})
				return
			}
		}

		upd := models.AccountUpdate{
			RemainingUses: req.RemainingUses,
			Active:        req.Active,
			IsAdmin:       req.IsAdmin,
		}
		if req.Secret != nil {
			hash, err := h.verifier.Hash(*req.Secret)
			if err != nil {
				hashFailure(c, err, "Failed to update account")
				return
			}
			upd.SecretHash = &hash
		}

		account, err := h.accountRepo.UpdateAccount(c.Request.Context(), accountID, upd)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to update account",
			})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionAccountUpdate, account.ID)
		c.JSON(http.StatusOK, gin.H{
			"account": account,
		})
	}
}

// @Summary      Delete account
// @Tags         Accounts
// @Security     Bearer
// @Param        id  path  string  true  "Account ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid account ID"
// @Failure      403  {object}  map[string]interface{}  "Admin account is protected"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts/{id} [delete]
// DeleteAccountHandler deletes a non-admin account
// DELETE /api/v1/admin/accounts/:id
func (h *AccountHandlers) DeleteAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := parseAccountID(c)
		if !ok {
			return
		}

		existing, err := h.accountRepo.GetAccountByID(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}
		if existing.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin accounts cannot be deleted",
			})
			return
		}

		deleted, err := h.accountRepo.DeleteAccount(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete account",
			})
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionAccountDelete, accountID)
		c.JSON(http.StatusOK, gin.H{
			"message": "Account deleted successfully",
		})
	}
}

// TopUpRequest represents a credit top-up
type TopUpRequest struct {
	Amount int `json:"amount" binding:"required,min=1,max=1000000000"`
}

// @Summary      Top up credits
// @Description  Add credits to a non-admin account. Both remaining and total uses increase by amount.
// @Tags         Accounts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string        true  "Account ID"
// @Param        body  body  TopUpRequest  true  "Top-up amount"
// @Success      200  {object}  map[string]interface{}  "account: models.Account"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      403  {object}  map[string]interface{}  "Admin accounts have no credit counter"
// @Failure      404  {object}  map[string]interface{}  "Account not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/accounts/{id}/topup [post]
// TopUpHandler adds credits to an account
// POST /api/v1/admin/accounts/:id/topup
func (h *AccountHandlers) TopUpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := parseAccountID(c)
		if !ok {
			return
		}

		var req TopUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: amount must be an integer between 1 and 1000000000",
			})
			return
		}

		existing, err := h.accountRepo.GetAccountByID(c.Request.Context(), accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve account",
			})
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}
		if existing.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin accounts have no credit counter",
			})
			return
		}
		// The counters are INTEGER columns.
		if int64(existing.TotalUses)+int64(req.Amount) > math.MaxInt32 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Top-up would exceed the maximum credit balance",
			})
			return
		}

		account, err := h.accountRepo.TopUpCredits(c.Request.Context(), accountID, req.Amount)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to top up credits",
			})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Account not found",
			})
			return
		}

		middleware.SetAuditAction(c, audit.ActionAccountTopUp, accountID)
		c.JSON(http.StatusOK, gin.H{
			"account": account,
		})
	}
}
