package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// tradeRequest is the body of buy and sell requests. Price is optional;
// without it the trade executes at a fresh market quote.
type tradeRequest struct {
	Symbol   string           `json:"symbol"`
	Quantity decimal.Decimal  `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// userID returns the caller's id or writes a 401
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(headerUserID))
	if id == "" {
		respondError(w, http.StatusUnauthorized, apperrors.CodeUnauthorized, "User ID required", nil)
		return "", false
	}
	return id, true
}

// handleGetPortfolio handles GET /api/portfolio
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	view, err := s.services.Accounts.GetPortfolio(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleBuy handles POST /api/portfolio/buy
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.services.Ledger.Buy)
}

// handleSell handles POST /api/portfolio/sell
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.services.Ledger.Sell)
}

type tradeFunc func(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (*service.TradeResult, error)

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, trade tradeFunc) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var req tradeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeInvalidParameter, "Invalid request body", nil)
		return
	}

	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	} else {
		if strings.TrimSpace(req.Symbol) == "" {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("symbol", "must not be empty"))
			return
		}
		// trades never execute against a stale quote
		quote, err := s.services.Quotes.Get(r.Context(), req.Symbol, false)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		price = quote.Price
	}

	result, err := trade(r.Context(), uid, req.Symbol, req.Quantity, price)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetHoldings handles GET /api/portfolio/holdings
func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	view, err := s.services.Accounts.GetHoldings(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleGetTransactions handles GET /api/portfolio/transactions
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := models.TransactionFilter{Symbol: query.Get("symbol")}

	for _, p := range []struct {
		name string
		dst  **time.Time
		end  bool
	}{{"since", &filter.Since, false}, {"until", &filter.Until, true}} {
		raw := query.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw, p.end)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError(p.name, "must be RFC3339 or YYYY-MM-DD"))
			return
		}
		*p.dst = &t
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondServiceError(w, r, apperrors.NewInvalidParameterError("limit", "must be an integer"))
			return
		}
		filter.Limit = limit
	}

	txns, err := s.services.Accounts.ListTransactions(r.Context(), uid, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"count":        len(txns),
	})
}

// parseTime accepts RFC3339 or a UTC date. As an exclusive end bound a date
// means the end of that day.
func parseTime(raw string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if end {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}
