package bot

import (
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// priceWindow is how many recent trades feed the weighted reference price.
const priceWindow = 10

// pricePlaces is the rounding applied to quoted prices (pence precision).
const pricePlaces = 2

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// referencePrice derives the price a strategy quotes around, in priority order:
//
//  1. weighted average of the recent trade tape, the most recent trade
//     weighted highest (weight priceWindow−i for the i-th most recent);
//  2. midpoint of best bid and best ask when both sides are quoted;
//  3. a single quoted side offset by half the configured spread;
//  4. the configured base price.
//
// trades must be newest first, as RecentTrades returns them.
func referencePrice(trades []model.Trade, book model.BookSnapshot, spreadPct, basePrice decimal.Decimal) decimal.Decimal {
	if len(trades) > 0 {
		weighted := decimal.Zero
		weightSum := decimal.Zero
		for i, t := range trades {
			if i >= priceWindow {
				break
			}
			w := decimal.NewFromInt(int64(priceWindow - i))
			weighted = weighted.Add(t.Price.Mul(w))
			weightSum = weightSum.Add(w)
		}
		return weighted.Div(weightSum)
	}

	half := spreadPct.Div(two)
	switch {
	case book.BestBid != nil && book.BestAsk != nil:
		return book.BestBid.Add(*book.BestAsk).Div(two)
	case book.BestBid != nil:
		return book.BestBid.Mul(one.Add(half))
	case book.BestAsk != nil:
		return book.BestAsk.Mul(one.Sub(half))
	default:
		return basePrice
	}
}

// inventoryRatio is the fraction of a bot's total assigned credits still
// unsold. A bot holding no inventory at all reads as neutral (0.5) rather
// than dividing by zero.
func inventoryRatio(available, taken int64) decimal.Decimal {
	total := available + taken
	if total == 0 {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromInt(available).Div(decimal.NewFromInt(total))
}

// quote returns the bid and ask around ref for the given full spread.
func quote(ref, spreadPct decimal.Decimal) (bid, ask decimal.Decimal) {
	half := spreadPct.Div(two)
	bid = ref.Mul(one.Sub(half)).Round(pricePlaces)
	ask = ref.Mul(one.Add(half)).Round(pricePlaces)
	return bid, ask
}
