package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nutrex/credit-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only point lookups and the per-market trade tape are cached. Open-order
// book reads always hit the primary: the matching walk must see the current
// book, never a stale copy.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Orders ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.cacheOrder(ctx, o)
	return nil
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(id)).Bytes()
	if err == nil {
		var o model.Order
		if json.Unmarshal(data, &o) == nil {
			return &o, nil
		}
	}

	o, err := s.primary.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *CachedStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.UpdateOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, orderKey(o.ID))
	return nil
}

func (s *CachedStore) OpenOrdersByMarket(ctx context.Context, market model.MarketKey) ([]model.Order, error) {
	return s.primary.OpenOrdersByMarket(ctx, market)
}

func (s *CachedStore) OrdersByBot(ctx context.Context, botID string) ([]model.Order, error) {
	return s.primary.OrdersByBot(ctx, botID)
}

// --- Trades ---

func (s *CachedStore) RecordFill(ctx context.Context, t *model.Trade, buy, sell *model.Order) error {
	if err := s.primary.RecordFill(ctx, t, buy, sell); err != nil {
		return err
	}
	// Invalidate both touched orders and the market's trade tape.
	s.rdb.Del(ctx, orderKey(buy.ID), orderKey(sell.ID), tapeKey(t.Market))
	return nil
}

func (s *CachedStore) RecentTrades(ctx context.Context, market model.MarketKey, limit int) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tapeKey(market)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil && len(trades) >= limit {
			return trades[:limit], nil
		}
	}

	trades, err := s.primary.RecentTrades(ctx, market, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tapeKey(market), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) PendingSettlements(ctx context.Context, limit int) ([]model.Trade, error) {
	return s.primary.PendingSettlements(ctx, limit)
}

func (s *CachedStore) MarkTradeSettled(ctx context.Context, tradeID, settlementRef string) error {
	return s.primary.MarkTradeSettled(ctx, tradeID, settlementRef)
}

// --- Inventory lots (passthrough: mutated under per-bot locks) ---

func (s *CachedStore) CreateLot(ctx context.Context, lot *model.InventoryLot) error {
	return s.primary.CreateLot(ctx, lot)
}

func (s *CachedStore) GetLot(ctx context.Context, id string) (*model.InventoryLot, error) {
	return s.primary.GetLot(ctx, id)
}

func (s *CachedStore) LotsByBot(ctx context.Context, botID string) ([]model.InventoryLot, error) {
	return s.primary.LotsByBot(ctx, botID)
}

func (s *CachedStore) UpdateLotCredits(ctx context.Context, id string, available, taken int64) error {
	return s.primary.UpdateLotCredits(ctx, id, available, taken)
}

// --- Bots ---

func (s *CachedStore) CreateBot(ctx context.Context, b *model.Bot) error {
	return s.primary.CreateBot(ctx, b)
}

func (s *CachedStore) GetBot(ctx context.Context, id string) (*model.Bot, error) {
	data, err := s.rdb.Get(ctx, botKey(id)).Bytes()
	if err == nil {
		var b model.Bot
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(b); err == nil {
		s.rdb.Set(ctx, botKey(id), data, s.ttl)
	}
	return b, nil
}

func (s *CachedStore) ListActiveBots(ctx context.Context) ([]model.Bot, error) {
	return s.primary.ListActiveBots(ctx)
}

func (s *CachedStore) UpdateBot(ctx context.Context, b *model.Bot) error {
	if err := s.primary.UpdateBot(ctx, b); err != nil {
		return err
	}
	s.rdb.Del(ctx, botKey(b.ID))
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheOrder(ctx context.Context, o *model.Order) {
	if data, err := json.Marshal(o); err == nil {
		s.rdb.Set(ctx, orderKey(o.ID), data, s.ttl)
	}
}

func orderKey(id string) string            { return fmt.Sprintf("order:%s", id) }
func botKey(id string) string              { return fmt.Sprintf("bot:%s", id) }
func tapeKey(m model.MarketKey) string     { return fmt.Sprintf("tape:%s", m.String()) }
