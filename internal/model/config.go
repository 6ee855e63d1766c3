package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig wraps all strategy configuration validation failures.
// Configs are validated once on write, not re-validated per tick.
var ErrInvalidConfig = errors.New("model: invalid strategy config")

// Market-making defaults, applied by Validate when a field is left zero.
var (
	defaultNewMarketMultiplier = decimal.NewFromInt(2)
	defaultLowInventory        = decimal.NewFromFloat(0.3)
	defaultHighInventory       = decimal.NewFromFloat(0.7)
	defaultOrderFraction       = decimal.NewFromFloat(0.1)
)

// MarketMakerConfig drives the two-sided quoting strategy. Percentages are
// expressed as fractions (0.05 = 5%).
type MarketMakerConfig struct {
	SpreadPct           decimal.Decimal `json:"spread_pct" yaml:"spread_pct"`
	BasePrice           decimal.Decimal `json:"base_price" yaml:"base_price"` // last-resort reference price
	NewMarketMultiplier decimal.Decimal `json:"new_market_multiplier" yaml:"new_market_multiplier"`
	LowInventory        decimal.Decimal `json:"low_inventory" yaml:"low_inventory"`   // ratio below → short on inventory
	HighInventory       decimal.Decimal `json:"high_inventory" yaml:"high_inventory"` // ratio above → inventory-heavy
	OrderFraction       decimal.Decimal `json:"order_fraction" yaml:"order_fraction"` // of total available, per sell
	MinOrderSize        int64           `json:"min_order_size" yaml:"min_order_size"`
	MaxOrderSize        int64           `json:"max_order_size" yaml:"max_order_size"`
}

// Validate applies defaults and rejects out-of-range fields.
func (c *MarketMakerConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: market maker config required", ErrInvalidConfig)
	}
	if c.SpreadPct.LessThanOrEqual(decimal.Zero) || c.SpreadPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: spread_pct must be in (0, 1), got %s", ErrInvalidConfig, c.SpreadPct)
	}
	if c.BasePrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: base_price must be positive, got %s", ErrInvalidConfig, c.BasePrice)
	}
	if c.NewMarketMultiplier.IsZero() {
		c.NewMarketMultiplier = defaultNewMarketMultiplier
	}
	if c.NewMarketMultiplier.LessThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: new_market_multiplier must be >= 1", ErrInvalidConfig)
	}
	if c.LowInventory.IsZero() {
		c.LowInventory = defaultLowInventory
	}
	if c.HighInventory.IsZero() {
		c.HighInventory = defaultHighInventory
	}
	one := decimal.NewFromInt(1)
	if c.LowInventory.LessThan(decimal.Zero) || c.HighInventory.GreaterThan(one) ||
		c.LowInventory.GreaterThanOrEqual(c.HighInventory) {
		return fmt.Errorf("%w: inventory thresholds must satisfy 0 <= low < high <= 1", ErrInvalidConfig)
	}
	if c.OrderFraction.IsZero() {
		c.OrderFraction = defaultOrderFraction
	}
	if c.OrderFraction.LessThanOrEqual(decimal.Zero) || c.OrderFraction.GreaterThan(one) {
		return fmt.Errorf("%w: order_fraction must be in (0, 1]", ErrInvalidConfig)
	}
	if c.MinOrderSize < 0 {
		return fmt.Errorf("%w: min_order_size must be >= 0", ErrInvalidConfig)
	}
	if c.MaxOrderSize < 0 || (c.MaxOrderSize > 0 && c.MaxOrderSize < c.MinOrderSize) {
		return fmt.Errorf("%w: max_order_size must be 0 or >= min_order_size", ErrInvalidConfig)
	}
	return nil
}

// SellLadderConfig drives the ascending sell-ladder strategy.
type SellLadderConfig struct {
	Levels            int              `json:"levels" yaml:"levels"`
	IncrementPct      decimal.Decimal  `json:"increment_pct" yaml:"increment_pct"` // per level (0.01 = 1%)
	OrderSizePerLevel int64            `json:"order_size_per_level" yaml:"order_size_per_level"`
	StartingPrice     *decimal.Decimal `json:"starting_price,omitempty" yaml:"starting_price"` // overrides reference price
	BasePrice         decimal.Decimal  `json:"base_price" yaml:"base_price"`                   // last-resort reference price
	SpreadPct         decimal.Decimal  `json:"spread_pct" yaml:"spread_pct"`                   // one-sided quote offset fallback
}

// MaxLevel bounds ladder growth: replenished rungs never exceed 2× the
// configured level count.
func (c *SellLadderConfig) MaxLevel() int {
	return 2 * c.Levels
}

// Validate applies defaults and rejects out-of-range fields.
func (c *SellLadderConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: sell ladder config required", ErrInvalidConfig)
	}
	if c.Levels <= 0 {
		return fmt.Errorf("%w: levels must be positive, got %d", ErrInvalidConfig, c.Levels)
	}
	if c.IncrementPct.LessThanOrEqual(decimal.Zero) || c.IncrementPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: increment_pct must be in (0, 1), got %s", ErrInvalidConfig, c.IncrementPct)
	}
	if c.OrderSizePerLevel <= 0 {
		return fmt.Errorf("%w: order_size_per_level must be positive", ErrInvalidConfig)
	}
	if c.StartingPrice != nil && c.StartingPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: starting_price must be positive", ErrInvalidConfig)
	}
	if c.BasePrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: base_price must be positive, got %s", ErrInvalidConfig, c.BasePrice)
	}
	if c.SpreadPct.IsZero() {
		c.SpreadPct = decimal.NewFromFloat(0.05)
	}
	if c.SpreadPct.LessThanOrEqual(decimal.Zero) || c.SpreadPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: spread_pct must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}

// ValidateBot checks the kind/config pairing on bot creation or update.
func ValidateBot(b *Bot) error {
	if b.AccountID == "" {
		return fmt.Errorf("%w: account_id required", ErrInvalidConfig)
	}
	if b.Market.IsZero() {
		return fmt.Errorf("%w: market required", ErrInvalidConfig)
	}
	switch b.Kind {
	case BotMarketMaker:
		if b.SellLadder != nil {
			return fmt.Errorf("%w: sell_ladder config not allowed on market_maker bot", ErrInvalidConfig)
		}
		return b.MarketMaker.Validate()
	case BotSellLadder:
		if b.MarketMaker != nil {
			return fmt.Errorf("%w: market_maker config not allowed on sell_ladder bot", ErrInvalidConfig)
		}
		return b.SellLadder.Validate()
	default:
		return fmt.Errorf("%w: unknown bot kind %q", ErrInvalidConfig, b.Kind)
	}
}
