// Package store defines the persistence interface for the credit engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/nutrex/credit-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order.
	CreateOrder(ctx context.Context, o *model.Order) error

	// GetOrder retrieves an order by its ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrder persists fill/status mutations to an existing order.
	UpdateOrder(ctx context.Context, o *model.Order) error

	// OpenOrdersByMarket returns all PENDING/PARTIALLY_FILLED orders for one
	// market, oldest first.
	OpenOrdersByMarket(ctx context.Context, market model.MarketKey) ([]model.Order, error)

	// OrdersByBot returns every order a bot has placed, oldest first.
	OrdersByBot(ctx context.Context, botID string) ([]model.Order, error)

	// --- Trades ---

	// RecordFill atomically appends a trade and updates both matched orders.
	// This is the unit of durability for one match step.
	RecordFill(ctx context.Context, trade *model.Trade, buy, sell *model.Order) error

	// RecentTrades returns up to limit trades for a market, newest first.
	RecentTrades(ctx context.Context, market model.MarketKey, limit int) ([]model.Trade, error)

	// PendingSettlements returns trades still awaiting a settlement reference.
	PendingSettlements(ctx context.Context, limit int) ([]model.Trade, error)

	// MarkTradeSettled records the settlement reference once the ledger
	// transfer finally succeeds.
	MarkTradeSettled(ctx context.Context, tradeID, settlementRef string) error

	// --- Inventory lots ---

	// CreateLot appends a new FIFO lot.
	CreateLot(ctx context.Context, lot *model.InventoryLot) error

	// GetLot retrieves a lot by its ID.
	GetLot(ctx context.Context, id string) (*model.InventoryLot, error)

	// LotsByBot returns a bot's lots in FIFO order (position, then creation).
	LotsByBot(ctx context.Context, botID string) ([]model.InventoryLot, error)

	// UpdateLotCredits overwrites a lot's available/taken counters.
	UpdateLotCredits(ctx context.Context, id string, available, taken int64) error

	// --- Bots ---

	// CreateBot persists a new bot.
	CreateBot(ctx context.Context, b *model.Bot) error

	// GetBot retrieves a bot by its ID.
	GetBot(ctx context.Context, id string) (*model.Bot, error)

	// ListActiveBots returns all bots with is_active = true.
	ListActiveBots(ctx context.Context) ([]model.Bot, error)

	// UpdateBot persists config or activation changes.
	UpdateBot(ctx context.Context, b *model.Bot) error
}
