// Package access implements the credit-gated delivery decision: who may fetch
// the protected script, how a use is consumed exactly once per grant, and how
// every attempt ends up in the access log.
package access

import (
	"context"
	"errors"

	"github.com/scriptgate/scriptgate/internal/db/models"
)

// Denial reasons. The set is closed; it doubles as the metric label vocabulary.
const (
	ReasonMissingCredentials = "missing credentials"
	ReasonAccountNotFound    = "account not found"
	ReasonAccountDisabled    = "account disabled"
	ReasonInvalidCredential  = "invalid credential"
	ReasonNoCredits          = "no credits remaining"
	ReasonUnavailable        = "service unavailable"
)

// ErrRaceLost is returned by Ledger.Consume when the counter was already zero
// at the time of the conditional update.
var ErrRaceLost = errors.New("credit already consumed by a concurrent request")

// AccountStore is the subset of the account repository the gate needs.
type AccountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	ConsumeCredit(ctx context.Context, id string) (remaining int, ok bool, err error)
}

// RecordStore persists access records.
type RecordStore interface {
	CreateAccessRecord(ctx context.Context, rec *models.AccessRecord) error
}
