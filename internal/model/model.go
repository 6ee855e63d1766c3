// Package model defines the core domain types shared across the credit engine.
// All monetary values use shopspring/decimal, never float64, for money.
// Credit quantities are whole credits and use int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes limit orders (price required) from market orders
// (price forbidden, filled at maker prices).
type OrderKind string

const (
	KindLimit  OrderKind = "LIMIT"
	KindMarket OrderKind = "MARKET"
)

// OrderStatus is the lifecycle state of an order. FILLED and CANCELLED are
// terminal; no mutation is allowed after either.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Order is a BUY or SELL interest in one market. Mutated only by the matching
// engine (fills) or an explicit cancel. Invariant: Filled + Remaining == Quantity.
type Order struct {
	ID        string           `json:"id" db:"id"`
	AccountID string           `json:"account_id" db:"account_id"`
	Market    MarketKey        `json:"market" db:"market"`
	Side      Side             `json:"side" db:"side"`
	Kind      OrderKind        `json:"kind" db:"kind"`
	Price     *decimal.Decimal `json:"price,omitempty" db:"price"` // nil for MARKET
	Quantity  int64            `json:"quantity" db:"quantity"`
	Filled    int64            `json:"filled" db:"filled"`
	Remaining int64            `json:"remaining" db:"remaining"`
	Status    OrderStatus      `json:"status" db:"status"`
	AssetRef  string           `json:"asset_ref,omitempty" db:"asset_ref"` // opaque, ledger-only
	BotID     string           `json:"bot_id,omitempty" db:"bot_id"`       // owning bot, if bot-placed
	LotID     string           `json:"lot_id,omitempty" db:"lot_id"`       // lot that funded a bot sell
	Level     int              `json:"level,omitempty" db:"level"`         // ladder rung, 0 otherwise
	CreatedAt time.Time        `json:"created_at" db:"created_at"`         // tie-break key
}

// Open reports whether the order can still receive fills.
func (o *Order) Open() bool {
	return o.Status == StatusPending || o.Status == StatusPartiallyFilled
}

// ApplyFill moves qty from remaining to filled and re-derives the status.
// Status is a pure function of (filled, remaining) except CANCELLED.
func (o *Order) ApplyFill(qty int64) {
	o.Filled += qty
	o.Remaining -= qty
	switch {
	case o.Remaining == 0:
		o.Status = StatusFilled
	case o.Filled > 0:
		o.Status = StatusPartiallyFilled
	}
}

// SettlementStatus tracks whether the ledger transfer behind a trade has
// completed. Trades with failed transfers are kept as SETTLEMENT_PENDING and
// retried rather than dropped.
type SettlementStatus string

const (
	SettlementSettled SettlementStatus = "SETTLED"
	SettlementPending SettlementStatus = "SETTLEMENT_PENDING"
)

// Trade is an immutable record of a match. Created only by the matching
// engine; only the settlement reference may be filled in later by a retry.
type Trade struct {
	ID               string           `json:"id" db:"id"`
	BuyOrderID       string           `json:"buy_order_id" db:"buy_order_id"`
	SellOrderID      string           `json:"sell_order_id" db:"sell_order_id"`
	BuyerAccountID   string           `json:"buyer_account_id" db:"buyer_account_id"`
	SellerAccountID  string           `json:"seller_account_id" db:"seller_account_id"`
	Market           MarketKey        `json:"market" db:"market"`
	Quantity         int64            `json:"quantity" db:"quantity"`
	Price            decimal.Decimal  `json:"price" db:"price"`
	Total            decimal.Decimal  `json:"total" db:"total"` // quantity × price
	SettlementRef    string           `json:"settlement_ref,omitempty" db:"settlement_ref"`
	SettlementStatus SettlementStatus `json:"settlement_status" db:"settlement_status"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// SourceKind tags where an inventory lot's credits came from: a client
// mandate or the house's own holdings. Set at AddLot time, never derived.
type SourceKind string

const (
	SourceClient SourceKind = "CLIENT"
	SourceHouse  SourceKind = "HOUSE"
)

// InventoryLot is one FIFO-ordered credit grant available to a bot for
// selling. CreditsAvailable + CreditsTaken is constant after creation;
// credits only move from available to taken. Lots are drained, never deleted.
type InventoryLot struct {
	ID               string     `json:"id" db:"id"`
	BotID            string     `json:"bot_id" db:"bot_id"`
	SourceID         string     `json:"source_id" db:"source_id"`
	SourceKind       SourceKind `json:"source_kind" db:"source_kind"`
	CreditsAvailable int64      `json:"credits_available" db:"credits_available"`
	CreditsTaken     int64      `json:"credits_taken" db:"credits_taken"`
	Position         int        `json:"position" db:"position"` // FIFO order
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// BotKind selects which strategy engine drives a bot.
type BotKind string

const (
	BotMarketMaker BotKind = "market_maker"
	BotSellLadder  BotKind = "sell_ladder"
)

// Bot is an autonomous strategy bound to one market. Its resting orders are
// derived state reconciled every tick, not stored here. Exactly one of the
// config fields is set, matching Kind.
type Bot struct {
	ID          string             `json:"id" db:"id"`
	AccountID   string             `json:"account_id" db:"account_id"`
	Market      MarketKey          `json:"market" db:"market"`
	Kind        BotKind            `json:"kind" db:"kind"`
	IsActive    bool               `json:"is_active" db:"is_active"`
	MarketMaker *MarketMakerConfig `json:"market_maker,omitempty" db:"market_maker"`
	SellLadder  *SellLadderConfig  `json:"sell_ladder,omitempty" db:"sell_ladder"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
}
