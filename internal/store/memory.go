package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nutrex/credit-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*model.Order
	orderSeq []string // insertion order, for stable oldest-first listings
	trades   []model.Trade
	lots     map[string]*model.InventoryLot
	lotSeq   []string
	bots     map[string]*model.Bot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*model.Order),
		lots:   make(map[string]*model.InventoryLot),
		bots:   make(map[string]*model.Bot),
	}
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.orderSeq = append(s.orderSeq, o.ID)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateOrderLocked(o)
}

func (s *MemoryStore) updateOrderLocked(o *model.Order) error {
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) OpenOrdersByMarket(_ context.Context, market model.MarketKey) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.Market == market && o.Open() {
			result = append(result, *o)
		}
	}
	return result, nil
}

func (s *MemoryStore) OrdersByBot(_ context.Context, botID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.BotID == botID {
			result = append(result, *o)
		}
	}
	return result, nil
}

// --- Trades ---

func (s *MemoryStore) RecordFill(_ context.Context, trade *model.Trade, buy, sell *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateOrderLocked(buy); err != nil {
		return err
	}
	if err := s.updateOrderLocked(sell); err != nil {
		return err
	}
	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, market model.MarketKey, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0 && len(result) < limit; i-- {
		if s.trades[i].Market == market {
			result = append(result, s.trades[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) PendingSettlements(_ context.Context, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := range s.trades {
		if s.trades[i].SettlementStatus == model.SettlementPending {
			result = append(result, s.trades[i])
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkTradeSettled(_ context.Context, tradeID, settlementRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.trades {
		if s.trades[i].ID == tradeID {
			s.trades[i].SettlementRef = settlementRef
			s.trades[i].SettlementStatus = model.SettlementSettled
			return nil
		}
	}
	return fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
}

// --- Inventory lots ---

func (s *MemoryStore) CreateLot(_ context.Context, lot *model.InventoryLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lots[lot.ID]; exists {
		return fmt.Errorf("lot %s already exists", lot.ID)
	}
	cp := *lot
	s.lots[lot.ID] = &cp
	s.lotSeq = append(s.lotSeq, lot.ID)
	return nil
}

func (s *MemoryStore) GetLot(_ context.Context, id string) (*model.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lot, ok := s.lots[id]
	if !ok {
		return nil, fmt.Errorf("%w: lot %s", ErrNotFound, id)
	}
	cp := *lot
	return &cp, nil
}

func (s *MemoryStore) LotsByBot(_ context.Context, botID string) ([]model.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.InventoryLot
	for _, id := range s.lotSeq {
		if s.lots[id].BotID == botID {
			result = append(result, *s.lots[id])
		}
	}
	// lotSeq already preserves creation order, the tie-break for equal positions.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})
	return result, nil
}

func (s *MemoryStore) UpdateLotCredits(_ context.Context, id string, available, taken int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lot, ok := s.lots[id]
	if !ok {
		return fmt.Errorf("%w: lot %s", ErrNotFound, id)
	}
	lot.CreditsAvailable = available
	lot.CreditsTaken = taken
	return nil
}

// --- Bots ---

func (s *MemoryStore) CreateBot(_ context.Context, b *model.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bots[b.ID]; exists {
		return fmt.Errorf("bot %s already exists", b.ID)
	}
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBot(_ context.Context, id string) (*model.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("%w: bot %s", ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListActiveBots(_ context.Context) ([]model.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bot
	for _, b := range s.bots {
		if b.IsActive {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateBot(_ context.Context, b *model.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[b.ID]; !ok {
		return fmt.Errorf("%w: bot %s", ErrNotFound, b.ID)
	}
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}
