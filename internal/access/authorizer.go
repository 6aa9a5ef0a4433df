package access

import (
	"context"
	"fmt"

	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/db/models"
)

// Decision is the outcome of Authorize. Account is nil only when the username
// did not resolve (or was never supplied).
type Decision struct {
	Granted bool
	Account *models.Account
	Reason  string
	// Message describes a grant as seen before any credit is spent:
	// "unlimited access", "last credit" or "N credits remaining".
	Message string
}

// Authorizer decides whether a username/secret pair may receive the script.
// It reads the account store but never writes to it.
type Authorizer struct {
	accounts AccountStore
	verifier auth.SecretVerifier
}

// NewAuthorizer creates an authorizer backed by accounts.
func NewAuthorizer(accounts AccountStore, verifier auth.SecretVerifier) *Authorizer {
	return &Authorizer{accounts: accounts, verifier: verifier}
}

// Authorize evaluates the checks in a fixed order: missing credentials,
// unknown account, disabled account, wrong secret, exhausted credits.
// The returned error is non-nil only when the account lookup itself failed.
func (a *Authorizer) Authorize(ctx context.Context, username, secret string) (Decision, error) {
	if username == "" || secret == "" {
		return denied(nil, ReasonMissingCredentials), nil
	}

	account, err := a.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil {
		return denied(nil, ReasonAccountNotFound), nil
	}
	if !account.Active {
		return denied(account, ReasonAccountDisabled), nil
	}
	if !a.verifier.Verify(account.SecretHash, secret) {
		return denied(account, ReasonInvalidCredential), nil
	}
	if !account.HasCredits() {
		return denied(account, ReasonNoCredits), nil
	}

	return Decision{
		Granted: true,
		Account: account,
		Message: grantMessage(account),
	}, nil
}

// grantMessage words a grant in terms of the counter after the pending decrement.
func grantMessage(account *models.Account) string {
	switch remaining := account.RemainingUses - 1; {
	case account.IsAdmin:
		return "unlimited access"
	case remaining == 0:
		return "last credit"
	default:
		return fmt.Sprintf("%d credits remaining", remaining)
	}
}

func denied(account *models.Account, reason string) Decision {
	return Decision{Account: account, Reason: reason}
}

// StatusMessage renders the line shown to a granted caller once the credit
// is spent. remaining is the counter value after the grant.
func StatusMessage(isAdmin bool, remaining int) string {
	switch {
	case isAdmin:
		return "unlimited"
	case remaining <= 0:
		return "last credit consumed"
	case remaining == 1:
		return "one credit left"
	default:
		return fmt.Sprintf("%d credits remaining", remaining)
	}
}
