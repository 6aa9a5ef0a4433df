// auth.go implements the admin login endpoint that exchanges account credentials for a session token.
package admin

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/db/repositories"
	"github.com/scriptgate/scriptgate/internal/middleware"
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	accountRepo *repositories.AccountRepository
	verifier    auth.SecretVerifier
	issuer      *auth.TokenIssuer
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(db *sql.DB, verifier auth.SecretVerifier, issuer *auth.TokenIssuer) *AuthHandlers {
	return &AuthHandlers{
		accountRepo: repositories.NewAccountRepository(db),
		verifier:    verifier,
		issuer:      issuer,
	}
}

// LoginRequest carries admin credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// @Summary      Admin login
// @Description  Verify admin credentials and issue a Bearer token for the admin API.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Admin credentials"
// @Success      200  {object}  map[string]interface{}  "token, expires_at, account"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/auth/login [post]
// LoginHandler issues a session token to an active admin account
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		account, err := h.accountRepo.GetAccountByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load account",
			})
			return
		}

		// Unknown, disabled, non-admin and wrong secret all look the same to the caller.
		if account == nil || !account.Active || !account.IsAdmin ||
			!h.verifier.Verify(account.SecretHash, req.Secret) {
			slog.Warn("admin login rejected", "username", req.Username, "ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		token, err := h.issuer.Issue(account.ID, account.Username)
		if err != nil {
			slog.Error("failed to issue admin token", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to issue token",
			})
			return
		}

		c.Set(middleware.AccountIDKey, account.ID)
		c.Set(middleware.UsernameKey, account.Username)
		middleware.SetAuditAction(c, audit.ActionAdminLogin, account.ID)

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_at": time.Now().Add(h.issuer.TTL()).UTC(),
			"account":    account,
		})
	}
}

// @Summary      Current admin
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "account: models.Account"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/admin/me [get]
// MeHandler returns the authenticated admin account
// GET /api/v1/admin/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account := middleware.CurrentAccount(c)
		if account == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Not authenticated",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"account": account,
		})
	}
}
