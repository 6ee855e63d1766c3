// Package exchange provides the HTTP handlers for order submission, market
// data, and bot management.
//
// All monetary values use shopspring/decimal, never float64, for money.
package exchange

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nutrex/credit-engine/internal/inventory"
	"github.com/nutrex/credit-engine/internal/match"
	"github.com/nutrex/credit-engine/internal/model"
	"github.com/nutrex/credit-engine/internal/store"
)

// Service handles exchange operations over HTTP. All matching state changes
// go through the matching engine; the service itself holds no book state.
type Service struct {
	store  store.Store
	engine *match.Engine
	inv    *inventory.Service
}

// NewService creates a new exchange service.
func NewService(st store.Store, engine *match.Engine, inv *inventory.Service) *Service {
	return &Service{store: st, engine: engine, inv: inv}
}

// RegisterRoutes mounts all exchange endpoints on the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)

	r.Get("/markets/{catchment}/{unitType}/book", s.GetBook)
	r.Get("/markets/{catchment}/{unitType}/trades", s.GetTrades)

	r.Post("/bots", s.CreateBot)
	r.Get("/bots/{botID}", s.GetBot)
	r.Post("/bots/{botID}/activate", s.ActivateBot)
	r.Post("/bots/{botID}/deactivate", s.DeactivateBot)
	r.Post("/bots/{botID}/lots", s.AddLot)
	r.Get("/bots/{botID}/inventory", s.GetInventory)
}

// --- Request/Response types ---

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	AccountID string           `json:"account_id"`
	Catchment string           `json:"catchment"`
	UnitType  string           `json:"unit_type"`
	Side      string           `json:"side"`
	Kind      string           `json:"kind"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Quantity  int64            `json:"quantity"`
	AssetRef  string           `json:"asset_ref,omitempty"`
}

// SubmitOrderResponse returns the post-match order state and any trades.
type SubmitOrderResponse struct {
	Order  *model.Order  `json:"order"`
	Trades []model.Trade `json:"trades"`
	Error  string        `json:"error,omitempty"`
}

// AddLotRequest is the JSON body for POST /bots/{botID}/lots.
type AddLotRequest struct {
	SourceID   string `json:"source_id"`
	SourceKind string `json:"source_kind"` // CLIENT or HOUSE
	Credits    int64  `json:"credits"`
}

// InventoryResponse summarises a bot's FIFO queue.
type InventoryResponse struct {
	BotID          string               `json:"bot_id"`
	Lots           []model.InventoryLot `json:"lots"`
	TotalAvailable int64                `json:"total_available"`
	TotalTaken     int64                `json:"total_taken"`
}

// --- Order handlers ---

// SubmitOrder handles POST /api/v1/orders.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := model.NewMarketKey(req.Catchment, model.UnitType(req.UnitType))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := &model.Order{
		AccountID: req.AccountID,
		Market:    market,
		Side:      model.Side(req.Side),
		Kind:      model.OrderKind(req.Kind),
		Price:     req.Price,
		Quantity:  req.Quantity,
		AssetRef:  req.AssetRef,
	}

	updated, trades, err := s.engine.Submit(r.Context(), order)
	switch {
	case errors.Is(err, match.ErrInvalidOrder):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, match.ErrNoLiquidity):
		// The order was cancelled; the caller still gets its final state.
		writeJSON(w, http.StatusConflict, SubmitOrderResponse{
			Order: updated, Trades: []model.Trade{}, Error: err.Error(),
		})
		return
	case err != nil:
		slog.Error("order submission failed", "err", err)
		writeError(w, "order submission failed", http.StatusInternalServerError)
		return
	}

	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, SubmitOrderResponse{Order: updated, Trades: trades})
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}. Idempotent: repeated
// cancels return the same terminal state.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "order not found", http.StatusNotFound)
			return
		}
		slog.Error("cancel failed", "err", err)
		writeError(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// --- Market data handlers ---

func (s *Service) marketFromURL(r *http.Request) (model.MarketKey, error) {
	return model.NewMarketKey(
		chi.URLParam(r, "catchment"),
		model.UnitType(chi.URLParam(r, "unitType")),
	)
}

// GetBook handles GET /api/v1/markets/{catchment}/{unitType}/book.
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	market, err := s.marketFromURL(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	open, err := s.store.OpenOrdersByMarket(r.Context(), market)
	if err != nil {
		writeError(w, "failed to load book", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model.BuildBook(market, open))
}

// GetTrades handles GET /api/v1/markets/{catchment}/{unitType}/trades.
// Optional ?limit=N, default 50, capped at 500.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	market, err := s.marketFromURL(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	trades, err := s.store.RecentTrades(r.Context(), market, limit)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Bot handlers ---

// CreateBot handles POST /api/v1/bots. The strategy config is validated
// here, on write; ticks trust it afterwards.
func (s *Service) CreateBot(w http.ResponseWriter, r *http.Request) {
	var b model.Bot
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := model.NewMarketKey(b.Market.Catchment, b.Market.UnitType)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.Market = market

	if err := model.ValidateBot(&b); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.ID = uuid.New().String()
	b.CreatedAt = time.Now().UTC()

	if err := s.store.CreateBot(r.Context(), &b); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("bot created",
		"id", b.ID,
		"kind", string(b.Kind),
		"market", b.Market.String(),
		"active", b.IsActive,
	)
	writeJSON(w, http.StatusCreated, &b)
}

// GetBot handles GET /api/v1/bots/{botID}.
func (s *Service) GetBot(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBot(r.Context(), chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, "bot not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ActivateBot handles POST /api/v1/bots/{botID}/activate.
func (s *Service) ActivateBot(w http.ResponseWriter, r *http.Request) {
	s.setBotActive(w, r, true)
}

// DeactivateBot handles POST /api/v1/bots/{botID}/deactivate. Also cancels
// the bot's resting orders so a dormant bot leaves nothing on the book.
func (s *Service) DeactivateBot(w http.ResponseWriter, r *http.Request) {
	s.setBotActive(w, r, false)
}

func (s *Service) setBotActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	b, err := s.store.GetBot(ctx, chi.URLParam(r, "botID"))
	if err != nil {
		writeError(w, "bot not found", http.StatusNotFound)
		return
	}

	b.IsActive = active
	if err := s.store.UpdateBot(ctx, b); err != nil {
		writeError(w, "failed to update bot", http.StatusInternalServerError)
		return
	}

	if !active {
		orders, err := s.store.OrdersByBot(ctx, b.ID)
		if err == nil {
			for i := range orders {
				if orders[i].Open() {
					if _, err := s.engine.Cancel(ctx, orders[i].ID); err != nil {
						slog.Warn("deactivation cancel failed", "order", orders[i].ID, "err", err)
					}
				}
			}
		}
	}

	slog.Info("bot state changed", "id", b.ID, "active", active)
	writeJSON(w, http.StatusOK, b)
}

// AddLot handles POST /api/v1/bots/{botID}/lots: assigns a client mandate or
// house grant to the back of the bot's FIFO queue.
func (s *Service) AddLot(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	if _, err := s.store.GetBot(r.Context(), botID); err != nil {
		writeError(w, "bot not found", http.StatusNotFound)
		return
	}

	var req AddLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	lot, err := s.inv.AddLot(r.Context(), botID, req.SourceID, model.SourceKind(req.SourceKind), req.Credits)
	if err != nil {
		if errors.Is(err, inventory.ErrInvalidLot) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to add lot", http.StatusInternalServerError)
		return
	}

	slog.Info("lot assigned",
		"bot", botID,
		"lot", lot.ID,
		"source", lot.SourceID,
		"kind", string(lot.SourceKind),
		"credits", lot.CreditsAvailable,
	)
	writeJSON(w, http.StatusCreated, lot)
}

// GetInventory handles GET /api/v1/bots/{botID}/inventory.
func (s *Service) GetInventory(w http.ResponseWriter, r *http.Request) {
	botID := chi.URLParam(r, "botID")
	lots, err := s.store.LotsByBot(r.Context(), botID)
	if err != nil {
		writeError(w, "failed to load inventory", http.StatusInternalServerError)
		return
	}
	if lots == nil {
		lots = []model.InventoryLot{}
	}

	resp := InventoryResponse{BotID: botID, Lots: lots}
	for _, lot := range lots {
		resp.TotalAvailable += lot.CreditsAvailable
		resp.TotalTaken += lot.CreditsTaken
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
