// Package bootstrap ensures the reserved administrator account exists before
// the server starts accepting requests.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/db/models"
)

// ErrNoAdminSecret is returned when neither admin.secret nor admin.secret_hash is configured.
var ErrNoAdminSecret = errors.New("admin.secret or admin.secret_hash must be set")

// AdminStore persists the reserved admin account.
type AdminStore interface {
	UpsertAdmin(ctx context.Context, username, secretHash string, credits int) (*models.Account, error)
}

// EnsureAdmin creates or repairs the reserved admin account: active, flagged
// admin, holding the configured secret and at least the configured credits.
// A configured secret_hash is stored verbatim; otherwise secret is hashed
// with verifier. Running it repeatedly converges on the same row.
func EnsureAdmin(ctx context.Context, cfg config.AdminConfig, store AdminStore, verifier auth.SecretVerifier, shipper audit.Shipper) (*models.Account, error) {
	hash := cfg.SecretHash
	if hash == "" {
		if cfg.Secret == "" {
			return nil, ErrNoAdminSecret
		}
		var err error
		hash, err = verifier.Hash(cfg.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin secret: %w", err)
		}
	}

	account, err := store.UpsertAdmin(ctx, cfg.Username, hash, cfg.InitialCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure admin account %q: %w", cfg.Username, err)
	}

	slog.Info("admin account ensured", "username", account.Username, "account_id", account.ID)

	if shipper != nil {
		entry := &audit.LogEntry{
			Timestamp:    time.Now().UTC(),
			Action:       audit.ActionAdminBootstrap,
			Outcome:      audit.OutcomeSucceeded,
			Actor:        "system",
			Username:     account.Username,
			AccountID:    account.ID,
			ResourceType: audit.ResourceTypeFor(audit.ActionAdminBootstrap),
			ResourceID:   account.ID,
		}
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Warn("failed to ship admin bootstrap audit entry", "error", err)
		}
	}

	return account, nil
}
