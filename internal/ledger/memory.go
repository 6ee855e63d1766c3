// Package ledger provides the in-process implementation of the external
// settlement collaborators: a balance oracle answering "how much can this
// account spend" and a ledger service executing credit transfers.
//
// Production deployments point the engine at a real registry/ledger; this
// implementation backs development and tests with per-account cash balances
// and an append-only transfer journal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// ErrTransferRejected is returned when the ledger refuses a transfer.
var ErrTransferRejected = errors.New("ledger: transfer rejected")

// Transfer is one journal entry: a completed credit movement.
type Transfer struct {
	Ref       string          `json:"ref"`
	SellerRef string          `json:"seller_ref"`
	BuyerRef  string          `json:"buyer_ref"`
	Market    model.MarketKey `json:"market"`
	Quantity  int64           `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// Memory implements both match.BalanceOracle and match.LedgerService.
// Accounts without an explicit balance get defaultBalance, so development
// setups work without seeding every account.
type Memory struct {
	mu             sync.Mutex
	balances       map[string]decimal.Decimal
	journal        []Transfer
	defaultBalance decimal.Decimal

	// failures makes the next N transfers fail; test hook for the
	// settlement-pending path.
	failures int
}

// NewMemory creates an in-memory ledger. Accounts not explicitly funded
// report defaultBalance to the oracle.
func NewMemory(defaultBalance decimal.Decimal) *Memory {
	return &Memory{
		balances:       make(map[string]decimal.Decimal),
		defaultBalance: defaultBalance,
	}
}

// SetBalance fixes an account's spendable balance.
func (m *Memory) SetBalance(accountID string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = balance
}

// Available implements match.BalanceOracle.
func (m *Memory) Available(_ context.Context, accountID string, _ model.MarketKey) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[accountID]; ok {
		return b, nil
	}
	return m.defaultBalance, nil
}

// Transfer implements match.LedgerService: journals the movement and returns
// a settlement reference.
func (m *Memory) Transfer(_ context.Context, sellerRef, buyerRef string, market model.MarketKey, quantity int64) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", ErrTransferRejected, quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return "", fmt.Errorf("%w: ledger unavailable", ErrTransferRejected)
	}

	t := Transfer{
		Ref:       uuid.New().String(),
		SellerRef: sellerRef,
		BuyerRef:  buyerRef,
		Market:    market,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	m.journal = append(m.journal, t)
	return t.Ref, nil
}

// Journal returns a copy of all completed transfers.
func (m *Memory) Journal() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.journal))
	copy(out, m.journal)
	return out
}

// FailNext makes the next n Transfer calls fail.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}
