package access

import (
	"context"
	"fmt"

	"github.com/scriptgate/scriptgate/internal/db/models"
	"github.com/scriptgate/scriptgate/internal/telemetry"
)

// Ledger consumes credits. Each call maps to one conditional update in the
// store, so concurrent grants against the same account serialize there.
type Ledger struct {
	accounts AccountStore
}

// NewLedger creates a ledger over accounts.
func NewLedger(accounts AccountStore) *Ledger {
	return &Ledger{accounts: accounts}
}

// Consume spends one credit and returns the remaining count. Admin accounts
// are never decremented. ErrRaceLost means the counter was already zero.
func (l *Ledger) Consume(ctx context.Context, account *models.Account) (int, error) {
	if account.IsAdmin {
		return account.RemainingUses, nil
	}

	remaining, ok, err := l.accounts.ConsumeCredit(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to consume credit: %w", err)
	}
	if !ok {
		telemetry.CreditRacesLostTotal.Inc()
		return 0, ErrRaceLost
	}

	telemetry.CreditsConsumedTotal.Inc()
	return remaining, nil
}
