// Package api exposes the exchange over HTTP and WebSocket.
//
// Prices are integer cents and amounts are whole shares; errors are
// returned as {"error", "code", "retryable"} with a status derived from
// the error code.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/store"
)

// UserHeader identifies the caller on requests that act on a user's own
// orders.
const UserHeader = "X-User-ID"

const (
	defaultTradeLimit       = 50
	defaultLeaderboardLimit = 10
	maxListLimit            = 500
)

// Handler serves the exchange's HTTP endpoints.
type Handler struct {
	svc *exchange.Service
}

// NewHandler creates a handler over svc.
func NewHandler(svc *exchange.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the exchange endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/book", h.GetBook)
	r.Get("/markets/{marketID}/trades", h.GetTrades)
	r.Get("/markets/{marketID}/settlements", h.GetSettlements)
	r.Post("/markets/{marketID}/resolve", h.Resolve)

	r.Post("/trade", h.PlaceTrade)
	r.Post("/orders", h.PostOrder)
	r.Delete("/orders/{orderID}", h.CancelOrder)

	r.Get("/portfolio/{userID}", h.GetPortfolio)
	r.Get("/leaderboard", h.GetLeaderboard)
	r.Get("/house", h.GetHousePot)
}

// CreateMarket handles POST /api/v1/markets.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req exchange.CreateMarketRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.CreateMarket(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets?guild_id=&status=.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := store.MarketFilter{GuildID: r.URL.Query().Get("guild_id")}
	switch status := model.MarketStatus(r.URL.Query().Get("status")); status {
	case "":
	case model.MarketActive, model.MarketResolved:
		f.Status = status
	default:
		writeError(w, model.Rejected("status must be active or resolved"))
		return
	}
	markets, err := h.svc.ListMarkets(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetBook handles GET /api/v1/markets/{marketID}/book?depth=.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := intParam(r, "depth", 5)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.svc.Book(r.Context(), chi.URLParam(r, "marketID"), depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades?limit=.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultTradeLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	trades, err := h.svc.MarketTrades(r.Context(), chi.URLParam(r, "marketID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetSettlements handles GET /api/v1/markets/{marketID}/settlements.
func (h *Handler) GetSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.svc.Settlements(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Result model.Side `json:"result"`
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "marketID"), req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PlaceTrade handles POST /api/v1/trade. The order always fills; the
// liquidity bot takes any remainder.
func (h *Handler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req exchange.TradeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.PlaceTrade(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PostOrder handles POST /api/v1/orders. Unmatched quantity rests.
func (h *Handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req exchange.TradeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.PostOrder(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Resting > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, model.Rejected("%s header is required", UserHeader))
		return
	}
	o, err := h.svc.CancelOrder(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}?guild_id=.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := h.svc.Portfolio(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("guild_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetLeaderboard handles GET /api/v1/leaderboard?limit=.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLeaderboardLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetHousePot handles GET /api/v1/house.
func (h *Handler) GetHousePot(w http.ResponseWriter, r *http.Request) {
	pot, err := h.svc.HousePot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pot)
}

// --- helpers ---

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func statusFor(code string) int {
	switch code {
	case model.CodeValidation:
		return http.StatusBadRequest
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeForbidden:
		return http.StatusForbidden
	case model.CodeAlreadySettled, model.CodeAlreadyResolved, model.CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := model.Code(err)
	msg := err.Error()
	if code == model.CodeInternal {
		slog.Error("request failed", "err", err)
		msg = "internal error"
	}
	writeJSON(w, statusFor(code), errorResponse{Error: msg, Code: code, Retryable: model.Retryable(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var syntax *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntax), errors.As(err, &typ):
			writeError(w, model.Rejected("invalid request body: %v", err))
		default:
			writeError(w, model.Rejected("invalid request body"))
		}
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, model.Rejected("%s must be between 1 and %d", name, maxListLimit)
	}
	return n, nil
}
