package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// Spread adjustment factors applied from the inventory ratio: a bot short on
// sellable inventory quotes wider, an inventory-heavy bot quotes tighter.
var (
	spreadWiden  = decimal.NewFromFloat(1.5)
	spreadNarrow = decimal.NewFromFloat(0.7)
)

// MarketMaker quotes both sides of one market around a reference price,
// sizing and skewing from the bot's inventory ratio. Every tick it cancels
// its resting orders and re-derives zero, one, or two fresh quotes.
type MarketMaker struct {
	Deps
}

// NewMarketMaker creates the market-making strategy engine.
func NewMarketMaker(deps Deps) *MarketMaker {
	return &MarketMaker{Deps: deps}
}

func (m *MarketMaker) Kind() model.BotKind { return model.BotMarketMaker }

// Evaluate runs one tick for one bot.
func (m *MarketMaker) Evaluate(ctx context.Context, b *model.Bot) error {
	cfg := b.MarketMaker
	if cfg == nil {
		return fmt.Errorf("bot %s: missing market maker config", b.ID)
	}

	if _, err := m.cancelResting(ctx, b.ID); err != nil {
		return fmt.Errorf("cancel resting orders: %w", err)
	}

	trades, book, err := m.marketView(ctx, b.Market)
	if err != nil {
		return fmt.Errorf("load market view: %w", err)
	}

	// Defensive widening while price discovery is uncertain.
	newMarket := len(trades) == 0
	spread := cfg.SpreadPct
	if newMarket {
		spread = spread.Mul(cfg.NewMarketMultiplier)
	}

	ref := referencePrice(trades, book, spread, cfg.BasePrice)

	available, taken, err := m.Inventory.Totals(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("inventory totals: %w", err)
	}
	ratio := inventoryRatio(available, taken)

	switch {
	case ratio.LessThan(cfg.LowInventory):
		spread = spread.Mul(spreadWiden)
	case ratio.GreaterThan(cfg.HighInventory):
		spread = spread.Mul(spreadNarrow)
	}

	bid, ask := quote(ref, spread)

	slog.Debug("market maker tick",
		"bot", b.ID,
		"market", b.Market.String(),
		"ref", ref.String(),
		"spread", spread.String(),
		"ratio", ratio.String(),
		"new_market", newMarket,
	)

	if newMarket {
		// Seed both sides: a sell sized from inventory and a smaller buy.
		sellSize := m.clampSize(cfg, sizeFraction(cfg.OrderFraction, available))
		if sellSize >= cfg.MinOrderSize && sellSize > 0 {
			m.placeSell(ctx, b, ask, sellSize)
		}
		buySize := m.clampSize(cfg, sellSize/2)
		if buySize >= cfg.MinOrderSize && buySize > 0 {
			m.placeBuy(ctx, b, bid, buySize)
		}
		return nil
	}

	size := m.clampSize(cfg, sizeFraction(cfg.OrderFraction, available+taken))
	if size < cfg.MinOrderSize || size == 0 {
		return nil
	}
	if ratio.LessThan(cfg.LowInventory) {
		m.placeBuy(ctx, b, bid, size)
	}
	if ratio.GreaterThan(cfg.HighInventory) {
		m.placeSell(ctx, b, ask, size)
	}
	return nil
}

func (m *MarketMaker) placeBuy(ctx context.Context, b *model.Bot, price decimal.Decimal, size int64) {
	order := &model.Order{
		AccountID: b.AccountID,
		BotID:     b.ID,
		Market:    b.Market,
		Side:      model.SideBuy,
		Kind:      model.KindLimit,
		Price:     &price,
		Quantity:  size,
	}
	if _, _, err := m.Engine.Submit(ctx, order); err != nil {
		slog.Warn("market maker buy rejected", "bot", b.ID, "price", price.String(), "size", size, "err", err)
	}
}

func (m *MarketMaker) placeSell(ctx context.Context, b *model.Bot, price decimal.Decimal, size int64) {
	// Sells are funded from the FIFO queue; the grant never spans lots, so
	// the placed size may be smaller than asked.
	granted, lotID, err := m.Inventory.Take(ctx, b.ID, size)
	if err != nil {
		slog.Warn("inventory take failed", "bot", b.ID, "size", size, "err", err)
		return
	}
	if granted == 0 {
		return
	}
	order := &model.Order{
		AccountID: b.AccountID,
		BotID:     b.ID,
		LotID:     lotID,
		Market:    b.Market,
		Side:      model.SideSell,
		Kind:      model.KindLimit,
		Price:     &price,
		Quantity:  granted,
	}
	if _, _, err := m.Engine.Submit(ctx, order); err != nil {
		slog.Warn("market maker sell rejected", "bot", b.ID, "price", price.String(), "size", granted, "err", err)
	}
}

func (m *MarketMaker) clampSize(cfg *model.MarketMakerConfig, size int64) int64 {
	if cfg.MaxOrderSize > 0 && size > cfg.MaxOrderSize {
		return cfg.MaxOrderSize
	}
	return size
}

// sizeFraction takes fraction × base, floored to whole credits.
func sizeFraction(fraction decimal.Decimal, base int64) int64 {
	return fraction.Mul(decimal.NewFromInt(base)).IntPart()
}
