package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lucky7games/ledger/internal/service"
)

type RateHandler struct {
	svc *service.RateService
}

func NewRateHandler(svc *service.RateService) *RateHandler {
	return &RateHandler{svc: svc}
}

// ListRates returns the full rate table.
func (h *RateHandler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.svc.GetRates(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rates)
}

// GetRate returns the rate of a single currency.
func (h *RateHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.svc.GetRate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rate)
}

// SetRate records a new rate for a currency. Admin only.
func (h *RateHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	rate, err := h.svc.SetRate(r.Context(), chi.URLParam(r, "code"), req.Rate)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rate)
}
