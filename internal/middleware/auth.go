// Package middleware provides Gin HTTP middleware for admin authentication,
// rate limiting, security headers, metrics and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → RateLimit → AdminAuth → Audit → Handler
//
// Rate limiting runs before auth so brute-force login attempts are rejected
// before any bcrypt or database work. Audit runs after AdminAuth so the entry
// carries the acting administrator.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/db/models"
)

// gin.Context keys set by AdminAuth.
const (
	AccountKey   = "account"
	AccountIDKey = "account_id"
	UsernameKey  = "username"
)

// AccountLookup resolves the account named by a session token.
type AccountLookup interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
}

// AdminAuth requires a Bearer session token issued by the login endpoint whose
// subject is an active admin account. The account is reloaded on every
// request, so a disabled or deleted admin loses access before its token expires.
func AdminAuth(issuer *auth.TokenIssuer, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		claims, err := issuer.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		account, err := accounts.GetAccountByID(c.Request.Context(), claims.AccountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load account",
			})
			return
		}
		if account == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Account not found",
			})
			return
		}
		if !account.Active || !account.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin privileges required",
			})
			return
		}

		c.Set(AccountKey, account)
		c.Set(AccountIDKey, account.ID)
		c.Set(UsernameKey, account.Username)

		c.Next()
	}
}

// CurrentAccount returns the admin account stored by AdminAuth, or nil.
func CurrentAccount(c *gin.Context) *models.Account {
	v, ok := c.Get(AccountKey)
	if !ok {
		return nil
	}
	account, _ := v.(*models.Account)
	return account
}
