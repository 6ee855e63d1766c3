package bot

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrex/credit-engine/internal/model"
)

func (env *botEnv) ladderBot(t *testing.T, cfg *model.SellLadderConfig) *model.Bot {
	t.Helper()
	require.NoError(t, cfg.Validate())
	b := &model.Bot{
		ID:         uuid.New().String(),
		AccountID:  "house-ladder",
		Market:     env.market,
		Kind:       model.BotSellLadder,
		IsActive:   true,
		SellLadder: cfg,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, env.store.CreateBot(context.Background(), b))
	return b
}

func ladderRungs(t *testing.T, env *botEnv, botID string) []model.Order {
	t.Helper()
	orders, err := env.store.OrdersByBot(context.Background(), botID)
	require.NoError(t, err)
	var rungs []model.Order
	for _, o := range orders {
		if o.Level > 0 && o.Status != model.StatusCancelled {
			rungs = append(rungs, o)
		}
	}
	sort.Slice(rungs, func(i, j int) bool { return rungs[i].Level < rungs[j].Level })
	return rungs
}

func TestSellLadder_SeedsConfiguredLevels(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 50,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 500)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))

	rungs := ladderRungs(t, env, bot.ID)
	require.Len(t, rungs, 3)
	// 20 × 1.02, 1.04, 1.06.
	wantPrices := []float64{20.4, 20.8, 21.2}
	for i, r := range rungs {
		assert.Equal(t, i+1, r.Level)
		assert.Equal(t, model.SideSell, r.Side)
		assert.Equal(t, int64(50), r.Quantity)
		assert.True(t, r.Price.Equal(d(wantPrices[i])),
			"level %d: expected %v, got %s", r.Level, wantPrices[i], r.Price)
		assert.NotEmpty(t, r.LotID)
	}
}

func TestSellLadder_TickIsIdempotentWhileFull(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 50,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 500)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))
	require.NoError(t, ladder.Evaluate(ctx, bot))

	assert.Len(t, ladderRungs(t, env, bot.ID), 3, "a full ladder must not grow")
}

func TestSellLadder_FilledRungClimbsNotReposts(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 50,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 500)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))
	seeded := ladderRungs(t, env, bot.ID)
	require.Len(t, seeded, 3)

	// A buyer lifts the lowest rung (level 1 at 20.40).
	p := d(20.40)
	_, trades, err := env.engine.Submit(ctx, &model.Order{
		AccountID: "buyer", Market: env.market, Side: model.SideBuy,
		Kind: model.KindLimit, Price: &p, Quantity: 50,
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	require.NoError(t, ladder.Evaluate(ctx, bot))

	rungs := ladderRungs(t, env, bot.ID)
	require.Len(t, rungs, 4, "filled rung stays, one new rung appears")

	byLevel := make(map[int]model.Order)
	for _, r := range rungs {
		byLevel[r.Level] = r
	}

	// Level 1 is filled, never re-posted.
	assert.Equal(t, model.StatusFilled, byLevel[1].Status)
	// Levels 2 and 3 are the original orders, untouched.
	assert.Equal(t, seeded[1].ID, byLevel[2].ID)
	assert.Equal(t, seeded[2].ID, byLevel[3].ID)

	// The new rung sits one above the old top, priced off the post-fill
	// reference (the tape now shows 20.40): 20.40 × 1.08.
	l4, ok := byLevel[4]
	require.True(t, ok, "expected a new level 4 rung")
	assert.True(t, l4.Open())
	assert.True(t, l4.Price.Equal(d(22.03)), "expected 22.03, got %s", l4.Price)
}

func TestSellLadder_GrowthCappedAtTwiceLevels(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            2,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 10,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 1000)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)

	// Repeatedly lift every open rung, then re-tick. The ladder climbs but
	// never past level 4 (2 × 2 configured levels).
	for round := 0; round < 6; round++ {
		require.NoError(t, ladder.Evaluate(ctx, bot))
		for _, r := range ladderRungs(t, env, bot.ID) {
			if !r.Open() {
				continue
			}
			price := *r.Price
			_, _, err := env.engine.Submit(ctx, &model.Order{
				AccountID: "buyer", Market: env.market, Side: model.SideBuy,
				Kind: model.KindLimit, Price: &price, Quantity: r.Remaining,
			})
			require.NoError(t, err)
		}
	}
	require.NoError(t, ladder.Evaluate(ctx, bot))

	maxLevel := 0
	for _, r := range ladderRungs(t, env, bot.ID) {
		if r.Level > maxLevel {
			maxLevel = r.Level
		}
	}
	assert.LessOrEqual(t, maxLevel, 4, "ladder must never exceed twice the configured levels")
}

func TestSellLadder_StopsWhenInventoryExhausted(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 50,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	// No lots at all: nothing to ladder.
	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))
	assert.Empty(t, ladderRungs(t, env, bot.ID))
}

func TestSellLadder_PartialLotFundsSmallerRung(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 50,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	// A 30-credit lot cannot fund a full 50-credit rung; the grant caps at
	// the lot and never spans into a second one.
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 30)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))

	rungs := ladderRungs(t, env, bot.ID)
	require.Len(t, rungs, 1)
	assert.Equal(t, int64(30), rungs[0].Quantity)
}

func TestSellLadder_RestingNeverExceedsInventory(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            3,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 60,
		StartingPrice:     dp(20),
		BasePrice:         d(20),
	})
	// A 100-credit mandate cannot back three 60-credit rungs: each rung
	// reserves its grant, so the tick rests 60 + 40 and stops.
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 100)
	require.NoError(t, err)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))

	rungs := ladderRungs(t, env, bot.ID)
	require.Len(t, rungs, 2)
	var resting int64
	for _, r := range rungs {
		resting += r.Remaining
	}
	available, err := env.inv.TotalAvailable(ctx, bot.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, resting, available)
	assert.Equal(t, int64(100), resting)

	// Re-evaluating while the rungs rest must not find free credits.
	require.NoError(t, ladder.Evaluate(ctx, bot))
	assert.Len(t, ladderRungs(t, env, bot.ID), 2)

	// Lifting the whole ladder delivers exactly the mandate, no more.
	_, trades, err := env.engine.Submit(ctx, &model.Order{
		AccountID: "buyer",
		Market:    env.market,
		Side:      model.SideBuy,
		Kind:      model.KindLimit,
		Price:     dp(25),
		Quantity:  200,
	})
	require.NoError(t, err)
	var delivered int64
	for _, tr := range trades {
		delivered += tr.Quantity
	}
	assert.Equal(t, int64(100), delivered)

	available, taken, err := env.inv.Totals(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), available)
	assert.Equal(t, int64(100), taken)
}

func TestSellLadder_StartingPriceOnlyBeforeFirstTrade(t *testing.T) {
	env := newBotEnv(t)
	ctx := context.Background()

	bot := env.ladderBot(t, &model.SellLadderConfig{
		Levels:            1,
		IncrementPct:      d(0.02),
		OrderSizePerLevel: 10,
		StartingPrice:     dp(100),
		BasePrice:         d(100),
	})
	_, err := env.inv.AddLot(ctx, bot.ID, "mandate-a", model.SourceClient, 500)
	require.NoError(t, err)

	// Market has traded well below the configured starting price.
	env.seedTrade(t, 10, 5)

	ladder := NewSellLadder(env.deps)
	require.NoError(t, ladder.Evaluate(ctx, bot))

	rungs := ladderRungs(t, env, bot.ID)
	require.Len(t, rungs, 1)
	// 10 × 1.02, not 100 × 1.02.
	assert.True(t, rungs[0].Price.Equal(d(10.2)), "expected 10.20, got %s", rungs[0].Price)
}
