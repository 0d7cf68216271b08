package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/service"
)

type WalletHandler struct {
	svc *service.WalletService
}

func NewWalletHandler(svc *service.WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// CreateUserWallet provisions a user wallet with the standard account set.
// Admin only.
func (h *WalletHandler) CreateUserWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "invalid user_id")
		return
	}

	wallet, err := h.svc.AddForUser(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wallet)
}

// CreatePlatformWallet provisions a named platform wallet. Admin only.
func (h *WalletHandler) CreatePlatformWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Flow string `json:"flow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	wallet, err := h.svc.AddForPlatform(r.Context(), req.Name, req.Flow)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, wallet)
}

// AddPlatformAccount provisions a per-currency account on a platform wallet.
// Admin only.
func (h *WalletHandler) AddPlatformAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	account, err := h.svc.AddPlatformAccount(r.Context(), chi.URLParam(r, "name"), req.Currency)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

// GetBalances returns the observable account balances of a user wallet.
// Users may only read their own; admins may read any.
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	balances, err := h.svc.ObservableBalances(r.Context(), userID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, balances)
}

// GetStatement lists posted transactions of one user account, newest first.
func (h *WalletHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	account := r.URL.Query().Get("account")
	if account == "" {
		account = domain.AccountWithdrawable
	}
	limit := queryInt32(r, "limit", 50)
	offset := queryInt32(r, "offset", 0)

	txs, err := h.svc.Statement(r.Context(), userID, account, limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, txs)
}

// subjectUser resolves the {userID} path param and enforces ownership.
func (h *WalletHandler) subjectUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "invalid user id")
		return uuid.Nil, false
	}

	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return uuid.Nil, false
	}
	if !isAdmin && actorID != userID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "cannot read another user's wallet")
		return uuid.Nil, false
	}
	return userID, true
}

func queryInt32(r *http.Request, key string, def int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}
