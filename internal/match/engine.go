// Package match implements the matching engine: price-time priority matching
// of incoming orders against the resting book, one market key at a time.
//
// Matching is split into a pure planning step (buildPlan, no I/O) and an
// apply step that executes ledger transfers, persists trades, and debits
// bot inventory lots. All prices use shopspring/decimal.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/inventory"
	"github.com/nutrex/credit-engine/internal/metrics"
	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

var (
	// ErrInvalidOrder rejects a submission before any state change: bad
	// quantity, LIMIT without price, or MARKET with price.
	ErrInvalidOrder = errors.New("match: invalid order")

	// ErrNoLiquidity is returned when a MARKET order finds nothing to fill.
	// The order is cancelled; no trade is created.
	ErrNoLiquidity = errors.New("match: no liquidity for market order")
)

// BalanceOracle reports an account's currently spendable balance for one
// market, net of holds. External collaborator; used only for the BUY-side
// affordability check.
type BalanceOracle interface {
	Available(ctx context.Context, accountID string, market model.MarketKey) (decimal.Decimal, error)
}

// LedgerService executes the asset transfer behind a trade and returns a
// settlement reference. External collaborator; the engine does not know how
// transfers are signed or broadcast.
type LedgerService interface {
	Transfer(ctx context.Context, sellerRef, buyerRef string, market model.MarketKey, quantity int64) (string, error)
}

// Broadcaster pushes executed trades to live subscribers. Optional.
type Broadcaster interface {
	BroadcastTrade(t model.Trade)
}

// Config tunes settlement retry behaviour.
type Config struct {
	// SettleAttempts is the number of ledger transfer attempts per trade
	// before the trade is parked as SETTLEMENT_PENDING. Default 3.
	SettleAttempts int
	// SettleBackoff is the base delay between attempts, growing linearly.
	// Default 100ms.
	SettleBackoff time.Duration
}

// Engine is the matching engine. Submissions for the same market key are
// serialized by a per-market mutex: the matching walk reads and mutates book
// state that is not otherwise protected. Different markets run in parallel.
type Engine struct {
	store  store.Store
	oracle BalanceOracle
	ledger LedgerService
	inv    *inventory.Service
	hub    Broadcaster // may be nil
	cfg    Config

	mu      sync.Mutex
	markets map[string]*sync.Mutex
}

// New creates a matching engine. hub may be nil.
func New(st store.Store, oracle BalanceOracle, ledger LedgerService, inv *inventory.Service, hub Broadcaster, cfg Config) *Engine {
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = 3
	}
	if cfg.SettleBackoff <= 0 {
		cfg.SettleBackoff = 100 * time.Millisecond
	}
	return &Engine{
		store:   st,
		oracle:  oracle,
		ledger:  ledger,
		inv:     inv,
		hub:     hub,
		cfg:     cfg,
		markets: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) marketLock(k model.MarketKey) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.markets[k.String()]
	if !ok {
		l = &sync.Mutex{}
		e.markets[k.String()] = l
	}
	return l
}

// Submit validates, persists, and matches an incoming order against the
// resting book, returning the updated order and any trades produced.
// Fills are committed incrementally: trades created before a mid-walk stop
// (affordability) remain valid.
func (e *Engine) Submit(ctx context.Context, o *model.Order) (*model.Order, []model.Trade, error) {
	if err := validate(o); err != nil {
		return nil, nil, err
	}

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.Filled = 0
	o.Remaining = o.Quantity
	o.Status = model.StatusPending

	lock := e.marketLock(o.Market)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.CreateOrder(ctx, o); err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(o.Side), string(o.Kind)).Inc()

	book, err := e.store.OpenOrdersByMarket(ctx, o.Market)
	if err != nil {
		return nil, nil, fmt.Errorf("load book: %w", err)
	}

	buyerFunds := decimal.Zero
	if o.Side == model.SideBuy {
		buyerFunds, err = e.oracle.Available(ctx, o.AccountID, o.Market)
		if err != nil {
			return nil, nil, fmt.Errorf("balance oracle: %w", err)
		}
	}

	fills, fundsHalted := buildPlan(o, book, buyerFunds)

	trades := make([]model.Trade, 0, len(fills))
	for i := range fills {
		t, err := e.applyFill(ctx, o, &fills[i])
		if err != nil {
			return o, trades, err
		}
		trades = append(trades, *t)
	}

	if fundsHalted {
		slog.Info("matching halted, buyer funds exhausted",
			"order_id", o.ID,
			"account", o.AccountID,
			"market", o.Market.String(),
			"filled", o.Filled,
			"remaining", o.Remaining,
			"funds", buyerFunds.String(),
		)
	}

	// Market orders never rest; cancel any residue.
	if o.Kind == model.KindMarket && o.Remaining > 0 {
		o.Status = model.StatusCancelled
		if err := e.store.UpdateOrder(ctx, o); err != nil {
			return o, trades, fmt.Errorf("cancel market residue: %w", err)
		}
		if o.Filled == 0 {
			return o, nil, fmt.Errorf("%w: market %s", ErrNoLiquidity, o.Market)
		}
	}

	return o, trades, nil
}

// applyFill executes one planned fill: ledger transfer, order mutation,
// durable trade record, inventory debit, broadcast.
func (e *Engine) applyFill(ctx context.Context, incoming *model.Order, f *Fill) (*model.Trade, error) {
	maker := f.Maker

	buy, sell := incoming, &maker
	if incoming.Side == model.SideSell {
		buy, sell = &maker, incoming
	}

	ref, err := e.transferWithRetry(ctx, ledgerRef(sell), ledgerRef(buy), incoming.Market, f.Quantity)
	settlement := model.SettlementSettled
	if err != nil {
		// Matching is not blocked by a failing ledger: keep the trade,
		// park it for the settlement retry loop.
		settlement = model.SettlementPending
		ref = ""
		metrics.SettlementFailures.Inc()
		slog.Error("ledger transfer failed, trade parked",
			"market", incoming.Market.String(),
			"seller", sell.AccountID,
			"buyer", buy.AccountID,
			"qty", f.Quantity,
			"err", err,
		)
	}

	incoming.ApplyFill(f.Quantity)
	maker.ApplyFill(f.Quantity)

	trade := &model.Trade{
		ID:               uuid.New().String(),
		BuyOrderID:       buy.ID,
		SellOrderID:      sell.ID,
		BuyerAccountID:   buy.AccountID,
		SellerAccountID:  sell.AccountID,
		Market:           incoming.Market,
		Quantity:         f.Quantity,
		Price:            f.Price,
		Total:            f.Price.Mul(decimal.NewFromInt(f.Quantity)),
		SettlementRef:    ref,
		SettlementStatus: settlement,
		CreatedAt:        time.Now().UTC(),
	}

	// Debit the lot that funded a bot-owned sell. This happens before the
	// fill record lands: a concurrent Take must never see the traded
	// credits as free while the order still counts as unfilled.
	if sell.BotID != "" && sell.LotID != "" && e.inv != nil {
		if err := e.inv.Settle(ctx, sell.LotID, f.Quantity); err != nil {
			// Invariant violation or store failure; the trade stands.
			slog.Error("inventory settle failed",
				"lot", sell.LotID, "bot", sell.BotID, "qty", f.Quantity, "err", err)
		}
	}

	if err := e.store.RecordFill(ctx, trade, buy, sell); err != nil {
		return nil, fmt.Errorf("record fill: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(string(incoming.Market.UnitType)).Inc()
	metrics.TradeVolume.WithLabelValues(incoming.Market.String()).Add(float64(f.Quantity))

	if e.hub != nil {
		e.hub.BroadcastTrade(*trade)
	}

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"market", trade.Market.String(),
		"qty", trade.Quantity,
		"price", trade.Price.String(),
		"settlement", string(trade.SettlementStatus),
	)
	return trade, nil
}

// Cancel marks an order CANCELLED. Terminal and idempotent: cancelling a
// FILLED or already-CANCELLED order is a no-op, not an error. Serialized
// against Submit for the same market so a fill cannot race the cancel.
func (e *Engine) Cancel(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lock := e.marketLock(o.Market)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the market lock; a fill may have landed in between.
	o, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Open() {
		return o, nil
	}

	o.Status = model.StatusCancelled
	if err := e.store.UpdateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	metrics.OrdersCancelled.Inc()
	return o, nil
}

// RetrySettlements attempts one ledger transfer for each parked trade and
// records the reference on success. Returns the number settled. Invoked by
// the bot scheduler every tick.
func (e *Engine) RetrySettlements(ctx context.Context) int {
	trades, err := e.store.PendingSettlements(ctx, 50)
	if err != nil {
		slog.Error("load pending settlements", "err", err)
		return 0
	}

	settled := 0
	for _, t := range trades {
		ref, err := e.ledger.Transfer(ctx, t.SellerAccountID, t.BuyerAccountID, t.Market, t.Quantity)
		if err != nil {
			metrics.SettlementRetries.WithLabelValues("failed").Inc()
			continue
		}
		if err := e.store.MarkTradeSettled(ctx, t.ID, ref); err != nil {
			slog.Error("mark trade settled", "trade", t.ID, "err", err)
			continue
		}
		metrics.SettlementRetries.WithLabelValues("settled").Inc()
		settled++
	}
	return settled
}

func (e *Engine) transferWithRetry(ctx context.Context, sellerRef, buyerRef string, market model.MarketKey, qty int64) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.SettleAttempts; attempt++ {
		ref, err := e.ledger.Transfer(ctx, sellerRef, buyerRef, market, qty)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if attempt < e.cfg.SettleAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.cfg.SettleBackoff * time.Duration(attempt)):
			}
		}
	}
	return "", lastErr
}

func ledgerRef(o *model.Order) string {
	if o.AssetRef != "" {
		return o.AssetRef
	}
	return o.AccountID
}

func validate(o *model.Order) error {
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, o.Quantity)
	}
	if o.Side != model.SideBuy && o.Side != model.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, o.Side)
	}
	switch o.Kind {
	case model.KindLimit:
		if o.Price == nil || o.Price.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: LIMIT order requires a positive price", ErrInvalidOrder)
		}
	case model.KindMarket:
		if o.Price != nil {
			return fmt.Errorf("%w: MARKET order must not carry a price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: kind must be LIMIT or MARKET, got %q", ErrInvalidOrder, o.Kind)
	}
	if o.AccountID == "" {
		return fmt.Errorf("%w: account_id required", ErrInvalidOrder)
	}
	if o.Market.IsZero() {
		return fmt.Errorf("%w: market required", ErrInvalidOrder)
	}
	return nil
}
