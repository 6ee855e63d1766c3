// Package bot implements the autonomous trading strategies (market-making
// and sell-ladder) and the scheduler that drives them.
//
// A strategy's resting orders are derived state: every tick re-derives what
// the bot should hold from market state and its inventory queue, then issues
// cancels and submissions through the matching engine.
package bot

import (
	"context"

	"github.com/nutrex/credit-engine/internal/inventory"
	"github.com/nutrex/credit-engine/internal/match"
	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

// Strategy is one bot kind's tick behaviour.
type Strategy interface {
	Kind() model.BotKind
	Evaluate(ctx context.Context, b *model.Bot) error
}

// Deps carries the shared collaborators every strategy needs.
type Deps struct {
	Store     store.Store
	Engine    *match.Engine
	Inventory *inventory.Service
}

// cancelResting cancels all of a bot's open orders and returns how many it
// cancelled.
func (d Deps) cancelResting(ctx context.Context, botID string) (int, error) {
	orders, err := d.Store.OrdersByBot(ctx, botID)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range orders {
		if !orders[i].Open() {
			continue
		}
		if _, err := d.Engine.Cancel(ctx, orders[i].ID); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// marketView loads the inputs every pricing decision needs: the recent trade
// tape (newest first) and a depth snapshot of the resting book.
func (d Deps) marketView(ctx context.Context, market model.MarketKey) ([]model.Trade, model.BookSnapshot, error) {
	trades, err := d.Store.RecentTrades(ctx, market, priceWindow)
	if err != nil {
		return nil, model.BookSnapshot{}, err
	}
	open, err := d.Store.OpenOrdersByMarket(ctx, market)
	if err != nil {
		return nil, model.BookSnapshot{}, err
	}
	return trades, model.BuildBook(market, open), nil
}
