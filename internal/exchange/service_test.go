package exchange_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/exchange"
	"github.com/nutrex/credit-engine/internal/inventory"
	"github.com/nutrex/credit-engine/internal/ledger"
	"github.com/nutrex/credit-engine/internal/match"
	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

func dp(f float64) *decimal.Decimal {
	v := decimal.NewFromFloat(f)
	return &v
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	led := ledger.NewMemory(decimal.NewFromInt(1_000_000))
	inv := inventory.NewService(ms)
	engine := match.New(ms, led, led, inv, nil, match.Config{
		SettleAttempts: 1,
		SettleBackoff:  time.Millisecond,
	})
	svc := exchange.NewService(ms, engine, inv)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		svc.RegisterRoutes(r)
	})
	return ms, r
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitOrder(t *testing.T, router chi.Router, req exchange.SubmitOrderRequest) exchange.SubmitOrderResponse {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/orders", req)
	if w.Code != http.StatusOK {
		t.Fatalf("submit order: status %d, body %s", w.Code, w.Body.String())
	}
	var resp exchange.SubmitOrderResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// --- Order endpoints ---

func TestSubmitOrder_RestsOnEmptyBook(t *testing.T) {
	_, router := newTestEnv(t)

	resp := submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice",
		Catchment: "river-tone",
		UnitType:  "nitrate",
		Side:      "SELL",
		Kind:      "LIMIT",
		Price:     dp(10),
		Quantity:  100,
	})
	if resp.Order.Status != model.StatusPending {
		t.Errorf("expected PENDING, got %s", resp.Order.Status)
	}
	if len(resp.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(resp.Trades))
	}
}

func TestSubmitOrder_CrossingOrdersTrade(t *testing.T) {
	_, router := newTestEnv(t)

	submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(10), Quantity: 100,
	})
	resp := submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "bob", Catchment: "river-tone", UnitType: "nitrate",
		Side: "BUY", Kind: "LIMIT", Price: dp(12), Quantity: 100,
	})

	if len(resp.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(resp.Trades))
	}
	if !resp.Trades[0].Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected execution at maker price 10, got %s", resp.Trades[0].Price)
	}
	if resp.Order.Status != model.StatusFilled {
		t.Errorf("expected FILLED, got %s", resp.Order.Status)
	}
}

func TestSubmitOrder_InvalidRejected(t *testing.T) {
	_, router := newTestEnv(t)

	tests := []struct {
		name string
		req  exchange.SubmitOrderRequest
	}{
		{"bad market", exchange.SubmitOrderRequest{
			AccountID: "alice", Catchment: "river-tone", UnitType: "carbon",
			Side: "BUY", Kind: "LIMIT", Price: dp(10), Quantity: 1,
		}},
		{"limit without price", exchange.SubmitOrderRequest{
			AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
			Side: "BUY", Kind: "LIMIT", Quantity: 1,
		}},
		{"market with price", exchange.SubmitOrderRequest{
			AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
			Side: "BUY", Kind: "MARKET", Price: dp(10), Quantity: 1,
		}},
		{"zero quantity", exchange.SubmitOrderRequest{
			AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
			Side: "BUY", Kind: "LIMIT", Price: dp(10),
		}},
	}
	for _, tt := range tests {
		w := doJSON(t, router, "POST", "/api/v1/orders", tt.req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, w.Code)
		}
	}
}

func TestSubmitOrder_MarketOrderNoLiquidity(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/orders", exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "BUY", Kind: "MARKET", Quantity: 50,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var resp exchange.SubmitOrderResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order == nil || resp.Order.Status != model.StatusCancelled {
		t.Errorf("caller should see the cancelled order, got %+v", resp.Order)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func TestGetOrder(t *testing.T) {
	_, router := newTestEnv(t)

	resp := submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(10), Quantity: 100,
	})

	w := doJSON(t, router, "GET", "/api/v1/orders/"+resp.Order.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.Order
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != resp.Order.ID {
		t.Errorf("expected order %s, got %s", resp.Order.ID, got.ID)
	}

	w = doJSON(t, router, "GET", "/api/v1/orders/no-such-order", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCancelOrder_Idempotent(t *testing.T) {
	_, router := newTestEnv(t)

	resp := submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(10), Quantity: 100,
	})

	for i := 0; i < 2; i++ {
		w := doJSON(t, router, "DELETE", "/api/v1/orders/"+resp.Order.ID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d", i+1, w.Code)
		}
		var got model.Order
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != model.StatusCancelled {
			t.Errorf("expected CANCELLED, got %s", got.Status)
		}
	}

	w := doJSON(t, router, "DELETE", "/api/v1/orders/no-such-order", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

// --- Market data endpoints ---

func TestGetBook(t *testing.T) {
	_, router := newTestEnv(t)

	submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(11), Quantity: 40,
	})
	submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "bob", Catchment: "river-tone", UnitType: "nitrate",
		Side: "BUY", Kind: "LIMIT", Price: dp(10), Quantity: 60,
	})

	w := doJSON(t, router, "GET", "/api/v1/markets/river-tone/nitrate/book", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var book model.BookSnapshot
	if err := json.NewDecoder(w.Body).Decode(&book); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Fatalf("expected 1x1 book, got %dx%d", len(book.Bids), len(book.Asks))
	}
	if book.Bids[0].Quantity != 60 || book.Asks[0].Quantity != 40 {
		t.Errorf("unexpected depth: bid %d, ask %d", book.Bids[0].Quantity, book.Asks[0].Quantity)
	}

	w = doJSON(t, router, "GET", "/api/v1/markets/river-tone/carbon/book", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad unit type, got %d", w.Code)
	}
}

func TestGetTrades(t *testing.T) {
	_, router := newTestEnv(t)

	submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "alice", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(10), Quantity: 50,
	})
	submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "bob", Catchment: "river-tone", UnitType: "nitrate",
		Side: "BUY", Kind: "LIMIT", Price: dp(10), Quantity: 50,
	})

	w := doJSON(t, router, "GET", "/api/v1/markets/river-tone/nitrate/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var trades []model.Trade
	if err := json.NewDecoder(w.Body).Decode(&trades); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	// Other markets see an empty tape, not a null.
	w = doJSON(t, router, "GET", "/api/v1/markets/river-tone/phosphate/trades", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body == "null\n" {
		t.Error("empty tape should encode as [], not null")
	}
}

// --- Bot endpoints ---

func createBot(t *testing.T, router chi.Router) model.Bot {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/bots", model.Bot{
		AccountID: "house",
		Market:    model.MarketKey{Catchment: "river-tone", UnitType: model.UnitNitrate},
		Kind:      model.BotMarketMaker,
		IsActive:  true,
		MarketMaker: &model.MarketMakerConfig{
			SpreadPct: decimal.NewFromFloat(0.05),
			BasePrice: decimal.NewFromInt(20),
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create bot: status %d, body %s", w.Code, w.Body.String())
	}
	var b model.Bot
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatalf("decode bot: %v", err)
	}
	return b
}

func TestCreateBot_AndGet(t *testing.T) {
	_, router := newTestEnv(t)
	b := createBot(t, router)

	if b.ID == "" {
		t.Fatal("expected a generated bot ID")
	}

	w := doJSON(t, router, "GET", "/api/v1/bots/"+b.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/bots/no-such-bot", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateBot_InvalidConfig(t *testing.T) {
	_, router := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/bots", model.Bot{
		AccountID: "house",
		Market:    model.MarketKey{Catchment: "river-tone", UnitType: model.UnitNitrate},
		Kind:      model.BotSellLadder,
		// Missing sell ladder config.
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeactivateBot_CancelsRestingOrders(t *testing.T) {
	ms, router := newTestEnv(t)
	b := createBot(t, router)

	// Rest an order owned by the bot.
	resp := submitOrder(t, router, exchange.SubmitOrderRequest{
		AccountID: "house", Catchment: "river-tone", UnitType: "nitrate",
		Side: "SELL", Kind: "LIMIT", Price: dp(10), Quantity: 100,
	})
	stored, err := ms.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	stored.BotID = b.ID
	if err := ms.UpdateOrder(context.Background(), stored); err != nil {
		t.Fatalf("tag order: %v", err)
	}

	w := doJSON(t, router, "POST", "/api/v1/bots/"+b.ID+"/deactivate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	after, err := ms.GetOrder(context.Background(), resp.Order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if after.Status != model.StatusCancelled {
		t.Errorf("deactivation should cancel resting orders, got %s", after.Status)
	}

	w = doJSON(t, router, "POST", "/api/v1/bots/"+b.ID+"/activate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got model.Bot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsActive {
		t.Error("expected bot active after activate")
	}
}

func TestAddLot_AndInventory(t *testing.T) {
	_, router := newTestEnv(t)
	b := createBot(t, router)

	w := doJSON(t, router, "POST", "/api/v1/bots/"+b.ID+"/lots", exchange.AddLotRequest{
		SourceID: "mandate-a", SourceKind: "CLIENT", Credits: 100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add lot: status %d, body %s", w.Code, w.Body.String())
	}
	w = doJSON(t, router, "POST", "/api/v1/bots/"+b.ID+"/lots", exchange.AddLotRequest{
		SourceID: "house", SourceKind: "HOUSE", Credits: 50,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add lot: status %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/bots/"+b.ID+"/inventory", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var inv exchange.InventoryResponse
	if err := json.NewDecoder(w.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inv.Lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(inv.Lots))
	}
	if inv.TotalAvailable != 150 || inv.TotalTaken != 0 {
		t.Errorf("expected totals 150/0, got %d/%d", inv.TotalAvailable, inv.TotalTaken)
	}
}

func TestAddLot_Invalid(t *testing.T) {
	_, router := newTestEnv(t)
	b := createBot(t, router)

	w := doJSON(t, router, "POST", "/api/v1/bots/"+b.ID+"/lots", exchange.AddLotRequest{
		SourceID: "mandate-a", SourceKind: "CLIENT", Credits: 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero credits, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/bots/no-such-bot/lots", exchange.AddLotRequest{
		SourceID: "mandate-a", SourceKind: "CLIENT", Credits: 10,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown bot, got %d", w.Code)
	}
}
