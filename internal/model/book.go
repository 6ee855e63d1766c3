package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PriceLevel aggregates resting quantity at one price.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot is a point-in-time view of one market's resting book,
// derived from open limit orders. Bids are sorted best (highest) first,
// asks best (lowest) first.
type BookSnapshot struct {
	Market  MarketKey        `json:"market"`
	Bids    []PriceLevel     `json:"bids"`
	Asks    []PriceLevel     `json:"asks"`
	BestBid *decimal.Decimal `json:"best_bid,omitempty"`
	BestAsk *decimal.Decimal `json:"best_ask,omitempty"`
}

// BuildBook aggregates open limit orders into a depth snapshot. Market
// orders and orders from other markets are ignored.
func BuildBook(market MarketKey, orders []Order) BookSnapshot {
	bidLevels := make(map[string]*PriceLevel)
	askLevels := make(map[string]*PriceLevel)

	for i := range orders {
		o := &orders[i]
		if o.Market != market || !o.Open() || o.Price == nil {
			continue
		}
		levels := bidLevels
		if o.Side == SideSell {
			levels = askLevels
		}
		key := o.Price.String()
		lvl, ok := levels[key]
		if !ok {
			lvl = &PriceLevel{Price: *o.Price}
			levels[key] = lvl
		}
		lvl.Quantity += o.Remaining
		lvl.Orders++
	}

	snap := BookSnapshot{
		Market: market,
		Bids:   flattenLevels(bidLevels, true),
		Asks:   flattenLevels(askLevels, false),
	}
	if len(snap.Bids) > 0 {
		p := snap.Bids[0].Price
		snap.BestBid = &p
	}
	if len(snap.Asks) > 0 {
		p := snap.Asks[0].Price
		snap.BestAsk = &p
	}
	return snap
}

func flattenLevels(levels map[string]*PriceLevel, descending bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
