package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/intervia/backend/internal/middleware"
	"github.com/intervia/backend/internal/models"
	"github.com/intervia/backend/internal/services"
)

// CreditHandler serves the read-only credit endpoints. All writes go
// through the event pipeline; HTTP only ever observes.
type CreditHandler struct {
	Query  *services.QueryService
	Logger *slog.Logger
}

type entryResponse struct {
	EntryID        string `json:"entry_id"`
	AccountID      string `json:"account_id"`
	CounterpartyID string `json:"counterparty_account_id,omitempty"`
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind"`
	ReferenceID    string `json:"reference_id"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type transactionsResponse struct {
	Entries    []entryResponse `json:"entries"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type canAffordResponse struct {
	Amount     int64 `json:"amount"`
	Affordable bool  `json:"affordable"`
}

// GetBalance handles GET /api/v1/credits/balance.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	summary, err := h.Query.Balance(r.Context(), accountID)
	if err != nil {
		h.Logger.Error("balance query failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetEarnings handles GET /api/v1/credits/earnings.
func (h *CreditHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	summary, err := h.Query.Earnings(r.Context(), accountID)
	if err != nil {
		h.Logger.Error("earnings query failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListTransactions handles GET /api/v1/credits/transactions?limit=&cursor=.
func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var limit int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		limit = int32(n)
	}
	cursor := r.URL.Query().Get("cursor")

	entries, next, err := h.Query.Transactions(r.Context(), accountID, cursor, limit)
	if err != nil {
		h.Logger.Error("transaction query failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	resp := transactionsResponse{Entries: make([]entryResponse, 0, len(entries)), NextCursor: next}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CanAfford handles GET /api/v1/credits/can-afford?amount=. The answer is
// advisory; the authoritative check runs inside the hold transition.
func (h *CreditHandler) CanAfford(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromCtx(r.Context())
	if accountID == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return
	}
	ok, err := h.Query.CanAfford(r.Context(), accountID, amount)
	if err != nil {
		h.Logger.Error("affordability query failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, canAffordResponse{Amount: amount, Affordable: ok})
}

func entryToResponse(e *models.LedgerEntry) entryResponse {
	resp := entryResponse{
		EntryID:     e.EntryID.String(),
		AccountID:   e.AccountID.String(),
		Amount:      e.Amount,
		Kind:        e.Kind,
		ReferenceID: e.ReferenceID,
		Note:        e.Note,
		CreatedAt:   e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
	}
	if e.CounterpartyAccountID != nil {
		resp.CounterpartyID = e.CounterpartyAccountID.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
