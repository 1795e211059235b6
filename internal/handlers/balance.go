package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"ledger/internal/middleware"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/services"
)

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load balance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       userID,
		"balance_minor": balance,
		"balance":       money.FormatMinor(balance),
		"currency":      h.cfg.Currency,
	})
}

type adjustRequest struct {
	// Amount is signed, in minor units: positive credits, negative debits.
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdjustBalance applies a credit or debit to the caller's account. Replays
// carrying the same Idempotency-Key header return the original transaction
// with 200 instead of committing a second one.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Amount == 0 {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}

	adjust := services.AdjustRequest{
		UserID:      userID,
		Type:        models.TxAdjustment,
		Description: req.Description,
	}
	// The key may travel in the body or the Idempotency-Key header; the
	// header wins when both are present.
	key := req.IdempotencyKey
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		key = header
	}
	if key != "" {
		adjust.IdempotencyKey = &key
	}

	var result services.AdjustResult
	var err error
	if req.Amount > 0 {
		adjust.Amount = req.Amount
		result, err = h.ledger.Credit(r.Context(), adjust)
	} else {
		adjust.Amount = -req.Amount
		result, err = h.ledger.Debit(r.Context(), adjust)
	}
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, services.ErrInsufficientBalance):
			respondError(w, http.StatusBadRequest, "insufficient_funds")
		case errors.Is(err, services.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, services.ErrInProgress):
			respondError(w, http.StatusConflict, "duplicate_request")
		default:
			respondError(w, http.StatusInternalServerError, "adjustment_failed")
		}
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"transaction_id": result.Transaction.ID,
		"amount":         result.Transaction.Amount,
		"balance_minor":  result.NewBalance,
		"balance":        money.FormatMinor(result.NewBalance),
		"duplicate":      result.Duplicate,
	})
}

func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	stored, calculated, err := h.ledger.SelfCheck(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to self_check")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stored_balance":     money.FormatMinor(stored),
		"calculated_balance": money.FormatMinor(calculated),
		"difference":         money.FormatMinor(stored - calculated),
		"consistent":         stored == calculated,
	})
}
