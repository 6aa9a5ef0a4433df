package access

import (
	"context"
	"errors"
	"sync"

	"github.com/scriptgate/scriptgate/internal/auth"
	"github.com/scriptgate/scriptgate/internal/db/models"
)

var errStoreDown = errors.New("connection refused")

// memAccounts is an in-memory AccountStore whose ConsumeCredit has the same
// decrement-if-positive semantics as the SQL statement.
type memAccounts struct {
	mu         sync.Mutex
	byName     map[string]*models.Account
	lookupErr  error
	consumeErr error
	consumed   int
}

func newMemAccounts(accounts ...*models.Account) *memAccounts {
	m := &memAccounts{byName: make(map[string]*models.Account)}
	for _, a := range accounts {
		m.byName[a.Username] = a
	}
	return m
}

func (m *memAccounts) GetAccountByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	a, ok := m.byName[username]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) ConsumeCredit(_ context.Context, id string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return 0, false, m.consumeErr
	}
	for _, a := range m.byName {
		if a.ID != id {
			continue
		}
		if a.RemainingUses <= 0 {
			return 0, false, nil
		}
		a.RemainingUses--
		m.consumed++
		return a.RemainingUses, true, nil
	}
	return 0, false, nil
}

func (m *memAccounts) remaining(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[username].RemainingUses
}

// syncRecorder captures attempts synchronously.
type syncRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *syncRecorder) Record(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *syncRecorder) all() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}

type stubTransformer struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubTransformer) Transform(_ context.Context, status string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []byte("// " + status + "\npayload();"), nil
}

var plain = auth.PlainVerifier{}

func account(id, username, secret string, remaining int) *models.Account {
	return &models.Account{
		ID:            id,
		Username:      username,
		SecretHash:    secret,
		RemainingUses: remaining,
		TotalUses:     remaining,
		Active:        true,
	}
}

func adminAccount(id, username, secret string) *models.Account {
	a := account(id, username, secret, 0)
	a.IsAdmin = true
	return a
}
