package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucky7games/ledger/internal/domain"
	"github.com/lucky7games/ledger/internal/models"
	"github.com/lucky7games/ledger/internal/transfer"
)

// EntryReader loads posted entries for inspection.
type EntryReader interface {
	GetEntry(ctx context.Context, id uuid.UUID) (*models.WalletEntry, error)
}

type TransferHandler struct {
	processor *transfer.Processor
	entries   EntryReader
}

func NewTransferHandler(processor *transfer.Processor, entries EntryReader) *TransferHandler {
	return &TransferHandler{processor: processor, entries: entries}
}

type legPayload struct {
	Wallet     string `json:"wallet"` // "platform" or "user"
	Name       string `json:"name,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Account    string `json:"account"`
	BypassFlow bool   `json:"bypass_flow,omitempty"`
}

type transferPayload struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Purpose       string          `json:"purpose"`
	Memo          string          `json:"memo,omitempty"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	LinkedEntryID string          `json:"linked_entry_id,omitempty"`
	From          []legPayload    `json:"from"`
	To            []legPayload    `json:"to"`
}

// Create builds and processes a transfer. Non-admin callers may only fund a
// transfer from their own wallet, and only without flow bypass.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var p transferPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}
	if len(p.From) == 0 || len(p.To) == 0 {
		RespondError(w, r, http.StatusBadRequest, "request/missing-legs", "at least one from and one to leg are required")
		return
	}
	if !isAdmin {
		for _, leg := range p.From {
			legUser, parseErr := uuid.Parse(leg.UserID)
			if leg.Wallet != domain.WalletTypeUser || parseErr != nil || legUser != actorID || leg.BypassFlow {
				RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions",
					"transfers may only be funded from your own wallet")
				return
			}
		}
		for _, leg := range p.To {
			if leg.BypassFlow {
				RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions",
					"flow bypass requires admin privileges")
				return
			}
		}
	}

	requesterType := domain.RequesterUser
	if isAdmin {
		requesterType = domain.RequesterAdmin
	}

	req, err := h.buildRequest(&p, requesterType, actorID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	entry, err := h.processor.Process(r.Context(), req)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, entry)
}

func (h *TransferHandler) buildRequest(p *transferPayload, requesterType string, actorID uuid.UUID) (*transfer.Request, error) {
	b, err := transfer.New(p.Amount, p.Currency, p.Purpose)
	if err != nil {
		return nil, err
	}
	meta := b.RequestedBy(requesterType, actorID.String())
	if p.Memo != "" {
		meta = meta.Memo(p.Memo)
	}
	if p.ExternalRef != "" {
		meta = meta.ExternalRef(p.ExternalRef)
	}
	if p.LinkedEntryID != "" {
		linked, err := uuid.Parse(p.LinkedEntryID)
		if err != nil {
			return nil, domain.Validationf("invalid linked_entry_id")
		}
		meta = meta.LinkedTo(linked)
	}

	var src *transfer.SourceStage
	for i, leg := range p.From {
		userID, opts, err := parseLeg(leg)
		if err != nil {
			return nil, err
		}
		switch {
		case i == 0 && leg.Wallet == domain.WalletTypeUser:
			src = meta.FromUser(userID, leg.Account, opts...)
		case i == 0:
			src = meta.FromPlatform(leg.Name, leg.Account, opts...)
		case leg.Wallet == domain.WalletTypeUser:
			src = src.FromUser(userID, leg.Account, opts...)
		default:
			src = src.FromPlatform(leg.Name, leg.Account, opts...)
		}
	}

	var tgt *transfer.TargetStage
	for i, leg := range p.To {
		userID, opts, err := parseLeg(leg)
		if err != nil {
			return nil, err
		}
		switch {
		case i == 0 && leg.Wallet == domain.WalletTypeUser:
			tgt = src.ToUser(userID, leg.Account, opts...)
		case i == 0:
			tgt = src.ToPlatform(leg.Name, leg.Account, opts...)
		case leg.Wallet == domain.WalletTypeUser:
			tgt = tgt.ToUser(userID, leg.Account, opts...)
		default:
			tgt = tgt.ToPlatform(leg.Name, leg.Account, opts...)
		}
	}

	return tgt.Commit()
}

func parseLeg(leg legPayload) (uuid.UUID, []transfer.LegOption, error) {
	var opts []transfer.LegOption
	if leg.BypassFlow {
		opts = append(opts, transfer.BypassFlow())
	}

	switch leg.Wallet {
	case domain.WalletTypeUser:
		userID, err := uuid.Parse(leg.UserID)
		if err != nil {
			return uuid.Nil, nil, domain.Validationf("invalid user_id on leg")
		}
		return userID, opts, nil
	case domain.WalletTypePlatform:
		if leg.Name == "" {
			return uuid.Nil, nil, domain.Validationf("platform leg requires a wallet name")
		}
		return uuid.Nil, opts, nil
	default:
		return uuid.Nil, nil, domain.Validationf("unknown wallet type %q on leg", leg.Wallet)
	}
}

// GetEntry returns a posted entry with its transactions. Admin only.
func (h *TransferHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-entry-id", "invalid entry id")
		return
	}

	entry, err := h.entries.GetEntry(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}
