package handlers

import (
	"errors"
	"net/http"

	"ledger/internal/middleware"
	"ledger/internal/models"
	"ledger/internal/money"
	"ledger/internal/services"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := parsePagination(r)
	transactions, err := h.ledger.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load transactions")
		return
	}
	normalized := make([]map[string]any, 0, len(transactions))
	for _, txn := range transactions {
		normalized = append(normalized, transactionJSON(txn))
	}
	respondJSON(w, http.StatusOK, normalized)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	txn, err := h.ledger.GetTransaction(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load transaction")
		return
	}
	respondJSON(w, http.StatusOK, transactionJSON(txn))
}

func transactionJSON(txn models.Transaction) map[string]any {
	return map[string]any{
		"id":           txn.ID,
		"amount_minor": txn.Amount,
		"amount":       money.FormatMinor(txn.Amount),
		"type":         txn.Type,
		"status":       txn.Status,
		"description":  txn.Description,
		"created_at":   txn.CreatedAt,
	}
}
