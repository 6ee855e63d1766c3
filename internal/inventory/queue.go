// Package inventory implements the per-bot FIFO queue of credit lots.
//
// Each lot is a credit grant (client mandate or house holdings) assigned to a
// bot. Credits only move from available to taken; their sum per lot is
// constant after creation. Take sizes an order from the oldest lot with
// credits not already committed to a resting sell order; Settle commits the
// traded amount when the order fills. Every Take must be paired with Settle
// calls on the same lot totalling at most the grant.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

var (
	// ErrOverdraw is returned when Settle exceeds a lot's available credits.
	// This is an invariant violation: it cannot happen when Take and Settle
	// are paired correctly.
	ErrOverdraw = errors.New("inventory: settle amount exceeds available credits")

	// ErrInvalidLot is returned for non-positive grants or amounts.
	ErrInvalidLot = errors.New("inventory: invalid lot parameters")
)

// Service owns all lot mutation. Callers never touch lot rows directly; the
// per-bot lock keeps available + taken constant under concurrent trades.
type Service struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex // botID → lock
}

// NewService creates the inventory service on top of a store.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) botLock(botID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[botID] = l
	}
	return l
}

// AddLot appends a new lot at the back of the bot's FIFO queue.
func (s *Service) AddLot(ctx context.Context, botID, sourceID string, kind model.SourceKind, credits int64) (*model.InventoryLot, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive, got %d", ErrInvalidLot, credits)
	}
	if kind != model.SourceClient && kind != model.SourceHouse {
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidLot, kind)
	}

	lock := s.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	lots, err := s.store.LotsByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	position := 1
	for _, lot := range lots {
		if lot.Position >= position {
			position = lot.Position + 1
		}
	}

	lot := &model.InventoryLot{
		ID:               uuid.New().String(),
		BotID:            botID,
		SourceID:         sourceID,
		SourceKind:       kind,
		CreditsAvailable: credits,
		CreditsTaken:     0,
		Position:         position,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateLot(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

// Take grants up to requested credits from the single oldest lot that still
// has free credits. Credits already backing one of the bot's open sell
// orders are not free: each lot's grant is netted against the unfilled
// quantity resting on it, so the same credits are never granted twice. It
// never spans lots: a caller needing more places the granted order and
// calls again, which advances FIFO order as lots drain. Returns (0, "")
// when the bot has nothing left to sell.
func (s *Service) Take(ctx context.Context, botID string, requested int64) (int64, string, error) {
	if requested <= 0 {
		return 0, "", fmt.Errorf("%w: requested must be positive, got %d", ErrInvalidLot, requested)
	}

	lock := s.botLock(botID)
	lock.Lock()
	defer lock.Unlock()

	lots, err := s.store.LotsByBot(ctx, botID)
	if err != nil {
		return 0, "", err
	}
	reserved, err := s.reservedByLot(ctx, botID)
	if err != nil {
		return 0, "", err
	}
	for _, lot := range lots {
		free := lot.CreditsAvailable - reserved[lot.ID]
		if free <= 0 {
			continue
		}
		granted := requested
		if free < granted {
			granted = free
		}
		return granted, lot.ID, nil
	}
	return 0, "", nil
}

// reservedByLot sums the unfilled quantity of the bot's open sell orders per
// funding lot. Cancelled orders release their reservation by dropping out of
// the open set; fills consume it through Settle.
func (s *Service) reservedByLot(ctx context.Context, botID string) (map[string]int64, error) {
	orders, err := s.store.OrdersByBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	reserved := make(map[string]int64)
	for i := range orders {
		o := &orders[i]
		if o.LotID == "" || o.Side != model.SideSell || !o.Open() {
			continue
		}
		reserved[o.LotID] += o.Remaining
	}
	return reserved, nil
}

// Settle moves amount from available to taken on the lot that funded a fill.
func (s *Service) Settle(ctx context.Context, lotID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidLot, amount)
	}

	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return err
	}

	lock := s.botLock(lot.BotID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; the first read only located the owning bot.
	lot, err = s.store.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if amount > lot.CreditsAvailable {
		return fmt.Errorf("%w: lot %s has %d available, settle requested %d",
			ErrOverdraw, lotID, lot.CreditsAvailable, amount)
	}
	return s.store.UpdateLotCredits(ctx, lotID,
		lot.CreditsAvailable-amount, lot.CreditsTaken+amount)
}

// TotalAvailable sums credits_available across all of a bot's lots.
func (s *Service) TotalAvailable(ctx context.Context, botID string) (int64, error) {
	available, _, err := s.Totals(ctx, botID)
	return available, err
}

// Totals returns (available, taken) summed over all of a bot's lots.
func (s *Service) Totals(ctx context.Context, botID string) (int64, int64, error) {
	lots, err := s.store.LotsByBot(ctx, botID)
	if err != nil {
		return 0, 0, err
	}
	var available, taken int64
	for _, lot := range lots {
		available += lot.CreditsAvailable
		taken += lot.CreditsTaken
	}
	return available, taken, nil
}
