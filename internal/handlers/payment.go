package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ledger/internal/gateway"
	"ledger/internal/middleware"
	"ledger/internal/money"
	"ledger/internal/services"
)

const signatureHeader = "Payment-Signature"

// maxWebhookBody bounds how much of a delivery is read before signature
// verification runs.
const maxWebhookBody = 1 << 20

type createSessionRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) CreateTopUpSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load user")
		return
	}
	result, err := h.topup.CreateSession(r.Context(), userID, user.Email, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			respondError(w, http.StatusBadRequest, "invalid_amount")
		case errors.Is(err, services.ErrBelowMinimum):
			respondError(w, http.StatusBadRequest, "amount_below_minimum")
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			respondError(w, http.StatusBadGateway, "payment_provider_unavailable")
		default:
			respondError(w, http.StatusInternalServerError, "unable to create session")
		}
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"session_id":   result.SessionID,
		"redirect_url": result.RedirectURL,
	})
}

// VerifyTopUpSession is the pull-based half of reconciliation: the client
// lands back from checkout and asks whether its payment went through. The
// credit is keyed by the session id, so this endpoint and the webhook can
// both run without double-crediting.
func (h *Handler) VerifyTopUpSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserIDFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	result, err := h.topup.VerifySession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, services.ErrInProgress):
			respondError(w, http.StatusConflict, "verification_in_progress")
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			respondError(w, http.StatusBadGateway, "payment_provider_unavailable")
		default:
			respondError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}
	if !result.Paid {
		respondJSON(w, http.StatusOK, map[string]any{"paid": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"paid":         true,
		"amount_minor": result.Amount,
		"amount":       money.FormatMinor(result.Amount),
	})
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	result := h.webhooks.Process(r.Context(), payload, r.Header.Get(signatureHeader))
	if !result.Ack {
		// Signature failures are the caller's fault; anything else that
		// wants a retry is ours.
		status := http.StatusInternalServerError
		if result.Reason == "signature verification failed" {
			status = http.StatusBadRequest
		}
		respondError(w, status, result.Reason)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": string(result.Outcome),
	})
}

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserIDFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, offset := parsePagination(r)
	logs, err := h.audit.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}
