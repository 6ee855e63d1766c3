package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// SellLadder maintains one resting sell order per ascending price level.
// A level that fills is never re-posted: the strategy adds a fresh order one
// level above the current top at the now-current reference price, so the
// ladder climbs as demand consumes the lower rungs. Growth is bounded at
// twice the configured level count.
type SellLadder struct {
	Deps
}

// NewSellLadder creates the sell-ladder strategy engine.
func NewSellLadder(deps Deps) *SellLadder {
	return &SellLadder{Deps: deps}
}

func (s *SellLadder) Kind() model.BotKind { return model.BotSellLadder }

// Evaluate runs one tick for one bot.
func (s *SellLadder) Evaluate(ctx context.Context, b *model.Bot) error {
	cfg := b.SellLadder
	if cfg == nil {
		return fmt.Errorf("bot %s: missing sell ladder config", b.ID)
	}

	orders, err := s.Store.OrdersByBot(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("load bot orders: %w", err)
	}

	// Cancelled rungs (deactivation, re-evaluation) drop out of the ladder
	// entirely; filled rungs stay occupied so they are never re-posted.
	occupied := make(map[int]bool)
	maxLevel := 0
	openCount := 0
	for i := range orders {
		o := &orders[i]
		if o.Level == 0 || o.Status == model.StatusCancelled {
			continue
		}
		occupied[o.Level] = true
		if o.Level > maxLevel {
			maxLevel = o.Level
		}
		if o.Open() {
			openCount++
		}
	}

	trades, book, err := s.marketView(ctx, b.Market)
	if err != nil {
		return fmt.Errorf("load market view: %w", err)
	}

	ref := s.reference(cfg, trades, book)

	// First fill never-occupied base levels, then replenish fills by
	// climbing above the current top.
	for lvl := 1; lvl <= cfg.Levels && openCount < cfg.Levels; lvl++ {
		if occupied[lvl] {
			continue
		}
		if !s.placeLevel(ctx, b, cfg, ref, lvl) {
			return nil
		}
		occupied[lvl] = true
		openCount++
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	for openCount < cfg.Levels && maxLevel < cfg.MaxLevel() {
		if !s.placeLevel(ctx, b, cfg, ref, maxLevel+1) {
			return nil
		}
		maxLevel++
		openCount++
	}
	return nil
}

// reference picks the ladder's base price. The starting-price override seeds
// a market deterministically; once the market has traded, the live weighted
// reference takes over so replenished rungs track the rising tape.
func (s *SellLadder) reference(cfg *model.SellLadderConfig, trades []model.Trade, book model.BookSnapshot) decimal.Decimal {
	if cfg.StartingPrice != nil && len(trades) == 0 {
		return *cfg.StartingPrice
	}
	return referencePrice(trades, book, cfg.SpreadPct, cfg.BasePrice)
}

// placeLevel posts one rung, funded from the FIFO queue. Returns false when
// the bot has no sellable inventory left, which ends the tick's placement.
func (s *SellLadder) placeLevel(ctx context.Context, b *model.Bot, cfg *model.SellLadderConfig, ref decimal.Decimal, level int) bool {
	granted, lotID, err := s.Inventory.Take(ctx, b.ID, cfg.OrderSizePerLevel)
	if err != nil {
		slog.Warn("inventory take failed", "bot", b.ID, "level", level, "err", err)
		return false
	}
	if granted == 0 {
		return false
	}

	price := ref.Mul(one.Add(cfg.IncrementPct.Mul(decimal.NewFromInt(int64(level))))).Round(pricePlaces)
	order := &model.Order{
		AccountID: b.AccountID,
		BotID:     b.ID,
		LotID:     lotID,
		Market:    b.Market,
		Side:      model.SideSell,
		Kind:      model.KindLimit,
		Price:     &price,
		Quantity:  granted,
		Level:     level,
	}
	if _, _, err := s.Engine.Submit(ctx, order); err != nil {
		slog.Warn("ladder order rejected", "bot", b.ID, "level", level, "price", price.String(), "err", err)
		return false
	}
	return true
}
