package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const orderColumns = `id, account_id, catchment, unit_type, side, kind,
	price::TEXT, quantity, filled, remaining, status,
	asset_ref, bot_id, lot_id, level, created_at`

// --- Orders ---

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	var price *string
	if o.Price != nil {
		p := o.Price.String()
		price = &p
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, account_id, catchment, unit_type, side, kind,
		                     price, quantity, filled, remaining, status,
		                     asset_ref, bot_id, lot_id, level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.AccountID, o.Market.Catchment, string(o.Market.UnitType),
		string(o.Side), string(o.Kind), price,
		o.Quantity, o.Filled, o.Remaining, string(o.Status),
		o.AssetRef, o.BotID, o.LotID, o.Level, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return o, err
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE orders SET filled = $2, remaining = $3, status = $4 WHERE id = $1`,
		o.ID, o.Filled, o.Remaining, string(o.Status),
	)
	return err
}

func (s *PostgresStore) OpenOrdersByMarket(ctx context.Context, market model.MarketKey) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE catchment = $1 AND unit_type = $2
		   AND status IN ('PENDING', 'PARTIALLY_FILLED')
		 ORDER BY created_at, id`,
		market.Catchment, string(market.UnitType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PostgresStore) OrdersByBot(ctx context.Context, botID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE bot_id = $1 ORDER BY created_at, id`,
		botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// --- Trades ---

// RecordFill applies one match step in a single transaction: append the
// trade, update both order rows. This is the atomicity unit that keeps the
// book consistent under concurrent submissions.
func (s *PostgresStore) RecordFill(ctx context.Context, t *model.Trade, buy, sell *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, buy_order_id, sell_order_id,
		                     buyer_account_id, seller_account_id,
		                     catchment, unit_type, quantity, price, total,
		                     settlement_ref, settlement_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
		t.ID, t.BuyOrderID, t.SellOrderID,
		t.BuyerAccountID, t.SellerAccountID,
		t.Market.Catchment, string(t.Market.UnitType),
		t.Quantity, t.Price.String(), t.Total.String(),
		t.SettlementRef, string(t.SettlementStatus), t.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, o := range []*model.Order{buy, sell} {
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET filled = $2, remaining = $3, status = $4 WHERE id = $1`,
			o.ID, o.Filled, o.Remaining, string(o.Status)); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) RecentTrades(ctx context.Context, market model.MarketKey, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, buy_order_id, sell_order_id, buyer_account_id, seller_account_id,
		        catchment, unit_type, quantity, price::TEXT, total::TEXT,
		        settlement_ref, settlement_status, created_at
		 FROM trades
		 WHERE catchment = $1 AND unit_type = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		market.Catchment, string(market.UnitType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) PendingSettlements(ctx context.Context, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, buy_order_id, sell_order_id, buyer_account_id, seller_account_id,
		        catchment, unit_type, quantity, price::TEXT, total::TEXT,
		        settlement_ref, settlement_status, created_at
		 FROM trades
		 WHERE settlement_status = 'SETTLEMENT_PENDING'
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *PostgresStore) MarkTradeSettled(ctx context.Context, tradeID, settlementRef string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE trades SET settlement_ref = $2, settlement_status = 'SETTLED' WHERE id = $1`,
		tradeID, settlementRef)
	return err
}

// --- Inventory lots ---

func (s *PostgresStore) CreateLot(ctx context.Context, lot *model.InventoryLot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inventory_lots (id, bot_id, source_id, source_kind,
		                             credits_available, credits_taken, position, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lot.ID, lot.BotID, lot.SourceID, string(lot.SourceKind),
		lot.CreditsAvailable, lot.CreditsTaken, lot.Position, lot.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetLot(ctx context.Context, id string) (*model.InventoryLot, error) {
	var lot model.InventoryLot
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT id, bot_id, source_id, source_kind, credits_available, credits_taken, position, created_at
		 FROM inventory_lots WHERE id = $1`, id).
		Scan(&lot.ID, &lot.BotID, &lot.SourceID, &kind,
			&lot.CreditsAvailable, &lot.CreditsTaken, &lot.Position, &lot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: lot %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get lot %s: %w", id, err)
	}
	lot.SourceKind = model.SourceKind(kind)
	return &lot, nil
}

func (s *PostgresStore) LotsByBot(ctx context.Context, botID string) ([]model.InventoryLot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, bot_id, source_id, source_kind, credits_available, credits_taken, position, created_at
		 FROM inventory_lots WHERE bot_id = $1 ORDER BY position, created_at`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []model.InventoryLot
	for rows.Next() {
		var lot model.InventoryLot
		var kind string
		if err := rows.Scan(&lot.ID, &lot.BotID, &lot.SourceID, &kind,
			&lot.CreditsAvailable, &lot.CreditsTaken, &lot.Position, &lot.CreatedAt); err != nil {
			return nil, err
		}
		lot.SourceKind = model.SourceKind(kind)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) UpdateLotCredits(ctx context.Context, id string, available, taken int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE inventory_lots SET credits_available = $2, credits_taken = $3 WHERE id = $1`,
		id, available, taken)
	return err
}

// --- Bots ---

func (s *PostgresStore) CreateBot(ctx context.Context, b *model.Bot) error {
	cfg, err := marshalBotConfig(b)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO bots (id, account_id, catchment, unit_type, kind, is_active, config, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.AccountID, b.Market.Catchment, string(b.Market.UnitType),
		string(b.Kind), b.IsActive, cfg, b.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetBot(ctx context.Context, id string) (*model.Bot, error) {
	var b model.Bot
	var catchment, unit, kind string
	var cfg []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, account_id, catchment, unit_type, kind, is_active, config, created_at
		 FROM bots WHERE id = $1`, id).
		Scan(&b.ID, &b.AccountID, &catchment, &unit, &kind, &b.IsActive, &cfg, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: bot %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %s: %w", id, err)
	}
	b.Market = model.MarketKey{Catchment: catchment, UnitType: model.UnitType(unit)}
	b.Kind = model.BotKind(kind)
	if err := unmarshalBotConfig(&b, cfg); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ListActiveBots(ctx context.Context) ([]model.Bot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, catchment, unit_type, kind, is_active, config, created_at
		 FROM bots WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []model.Bot
	for rows.Next() {
		var b model.Bot
		var catchment, unit, kind string
		var cfg []byte
		if err := rows.Scan(&b.ID, &b.AccountID, &catchment, &unit, &kind,
			&b.IsActive, &cfg, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Market = model.MarketKey{Catchment: catchment, UnitType: model.UnitType(unit)}
		b.Kind = model.BotKind(kind)
		if err := unmarshalBotConfig(&b, cfg); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (s *PostgresStore) UpdateBot(ctx context.Context, b *model.Bot) error {
	cfg, err := marshalBotConfig(b)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE bots SET is_active = $2, config = $3 WHERE id = $1`,
		b.ID, b.IsActive, cfg)
	return err
}

// --- Scan helpers ---

func marshalBotConfig(b *model.Bot) ([]byte, error) {
	switch b.Kind {
	case model.BotMarketMaker:
		return json.Marshal(b.MarketMaker)
	case model.BotSellLadder:
		return json.Marshal(b.SellLadder)
	default:
		return nil, fmt.Errorf("unknown bot kind %q", b.Kind)
	}
}

func unmarshalBotConfig(b *model.Bot, cfg []byte) error {
	switch b.Kind {
	case model.BotMarketMaker:
		b.MarketMaker = &model.MarketMakerConfig{}
		return json.Unmarshal(cfg, b.MarketMaker)
	case model.BotSellLadder:
		b.SellLadder = &model.SellLadderConfig{}
		return json.Unmarshal(cfg, b.SellLadder)
	default:
		return fmt.Errorf("unknown bot kind %q", b.Kind)
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrder(row scannable) (*model.Order, error) {
	var o model.Order
	var catchment, unit, side, kind, status string
	var price *string

	err := row.Scan(&o.ID, &o.AccountID, &catchment, &unit, &side, &kind,
		&price, &o.Quantity, &o.Filled, &o.Remaining, &status,
		&o.AssetRef, &o.BotID, &o.LotID, &o.Level, &o.CreatedAt)
	if err != nil {
		return nil, err
	}

	o.Market = model.MarketKey{Catchment: catchment, UnitType: model.UnitType(unit)}
	o.Side = model.Side(side)
	o.Kind = model.OrderKind(kind)
	o.Status = model.OrderStatus(status)
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad price %q: %w", o.ID, *price, err)
		}
		o.Price = &p
	}
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var catchment, unit, status, priceS, totalS string

		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID,
			&t.BuyerAccountID, &t.SellerAccountID,
			&catchment, &unit, &t.Quantity, &priceS, &totalS,
			&t.SettlementRef, &status, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Market = model.MarketKey{Catchment: catchment, UnitType: model.UnitType(unit)}
		t.SettlementStatus = model.SettlementStatus(status)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Total, _ = decimal.NewFromString(totalS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
