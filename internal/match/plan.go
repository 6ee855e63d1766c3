package match

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// Fill is one planned match step: trade qty credits with maker at price.
// Fills are intents only; buildPlan performs no I/O and mutates nothing.
type Fill struct {
	Maker    model.Order
	Quantity int64
	Price    decimal.Decimal
}

// buildPlan walks the opposite-side book in price-time priority and returns
// the fills a submission would produce. buyerFunds holds the spendable
// balance of the incoming buyer (only consulted when incoming is a BUY);
// planning stops at the first fill the buyer cannot afford, and the second
// return reports that stop so the caller can tell an unaffordable rest from
// a quiet book.
//
// Resting orders are always LIMIT (market orders never rest), so the
// execution price is always the maker's price.
func buildPlan(incoming *model.Order, book []model.Order, buyerFunds decimal.Decimal) ([]Fill, bool) {
	candidates := sortCandidates(incoming, book)

	var fills []Fill
	remaining := incoming.Remaining
	spent := decimal.Zero

	for i := range candidates {
		if remaining <= 0 {
			break
		}
		cand := candidates[i]

		// Self-trade guard: skip own orders, keep walking.
		if cand.AccountID == incoming.AccountID {
			continue
		}

		// Price compatibility (both LIMIT). The book is price-sorted, so the
		// first incompatible candidate proves nothing further can match.
		if incoming.Kind == model.KindLimit {
			if incoming.Side == model.SideBuy && cand.Price.GreaterThan(*incoming.Price) {
				break
			}
			if incoming.Side == model.SideSell && cand.Price.LessThan(*incoming.Price) {
				break
			}
		}

		price := *cand.Price
		qty := remaining
		if cand.Remaining < qty {
			qty = cand.Remaining
		}

		// Affordability (incoming BUY only). A buyer who cannot afford the
		// best price must not be offered a worse one: stop the walk.
		if incoming.Side == model.SideBuy {
			cost := price.Mul(decimal.NewFromInt(qty))
			if spent.Add(cost).GreaterThan(buyerFunds) {
				return fills, true
			}
			spent = spent.Add(cost)
		}

		fills = append(fills, Fill{Maker: cand, Quantity: qty, Price: price})
		remaining -= qty
	}

	return fills, false
}

// sortCandidates filters the book down to matchable opposite-side orders and
// sorts them best-price-first, oldest-first on ties.
func sortCandidates(incoming *model.Order, book []model.Order) []model.Order {
	opposite := model.SideSell
	if incoming.Side == model.SideSell {
		opposite = model.SideBuy
	}

	var candidates []model.Order
	for i := range book {
		o := book[i]
		if o.ID == incoming.ID || o.Side != opposite || !o.Open() || o.Price == nil {
			continue
		}
		candidates = append(candidates, o)
	}

	buyIncoming := incoming.Side == model.SideBuy
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].Price, candidates[j].Price
		if !pi.Equal(*pj) {
			if buyIncoming {
				return pi.LessThan(*pj) // cheapest ask first
			}
			return pi.GreaterThan(*pj) // highest bid first
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}
