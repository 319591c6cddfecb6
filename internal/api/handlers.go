package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/auth"
	"github.com/xtrntr/factoring/internal/invoice"
	"github.com/xtrntr/factoring/internal/models"
	"github.com/xtrntr/factoring/internal/policy"
	"github.com/xtrntr/factoring/internal/stats"
	"github.com/xtrntr/factoring/internal/users"
	"go.uber.org/zap"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Service *policy.Service
	Tokens  *auth.TokenService
	Stats   *stats.Aggregator
	Logger  *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(svc *policy.Service, tokens *auth.TokenService, agg *stats.Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, Tokens: tokens, Stats: agg, Logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConflict, apperr.KindInvoiceLocked,
		apperr.KindDealNotNegotiating, apperr.KindDuplicateOffer:
		return http.StatusConflict
	case apperr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if kind == apperr.KindUnknown {
			msg = "internal error"
		}
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind.String()})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// list keeps empty results encoded as [] rather than null.
func list[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// JWTAuthMiddleware verifies bearer tokens and stores the principal in the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			h.writeError(w, r, apperr.New(apperr.KindUnauthenticated, "authorization header required"))
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		p, err := h.Tokens.Parse(tokenString)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// Register creates the caller's user record
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var profile users.Profile
	if err := decode(r, &profile); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.Service.Register(r.Context(), profile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetMe returns the caller's user record
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.Me(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateMe applies a partial profile update
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.Service.Me(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	profile := users.ProfileOf(u)
	if err := decode(r, &profile); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err = h.Service.UpdateMe(r.Context(), profile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListUsers returns every user (admin only)
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	all, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(all))
}

// ListBuyers returns the buyer directory
func (h *Handler) ListBuyers(w http.ResponseWriter, r *http.Request) {
	buyers, err := h.Service.ListBuyers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(buyers))
}

// SetUserStatus sets a user's status, or flips it when the body names none
func (h *Handler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.UserStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := h.Service.SetUserStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateInvoice lists a new invoice for the caller
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var attrs invoice.Attrs
	if err := decode(r, &attrs); err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.Service.CreateInvoice(r.Context(), attrs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// UpdateInvoice applies a partial edit to an open invoice
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := h.Service.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	attrs := invoice.AttrsOf(&inv.Invoice)
	if err := decode(r, &attrs); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Service.UpdateInvoice(r.Context(), id, attrs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ListOpenInvoices returns the marketplace listing
func (h *Handler) ListOpenInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Service.ListOpenInvoices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(invoices))
}

// ListMyInvoices returns the caller's own listings
func (h *Handler) ListMyInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.Service.ListMyInvoices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(invoices))
}

// GetInvoice returns one invoice with its pending offer count
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// SubmitOffer bids on an invoice. A repeated offer returns the existing
// deal with 200 instead of 201.
func (h *Handler) SubmitOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount  int64  `json:"amount"`
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, created, err := h.Service.SubmitOffer(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, d)
}

// GetInvoiceDeals returns the ranked offers on an invoice
func (h *Handler) GetInvoiceDeals(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.Service.InvoiceDeals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(ranked))
}

// GetMyDeals returns the deals the caller takes part in
func (h *Handler) GetMyDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.Service.MyDeals(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(deals))
}

// GetRecentDeals returns the admin activity feed
func (h *Handler) GetRecentDeals(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, apperr.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	deals, err := h.Service.RecentDeals(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(deals))
}

// GetDeal returns one deal
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetDeal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// AcceptOffer accepts a pending offer
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.AcceptOffer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CompleteDeal concludes a negotiation
func (h *Handler) CompleteDeal(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.CompleteDeal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetMessages returns a deal's thread
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.Service.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(msgs))
}

// PostMessage sends a chat message to the other party
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.Service.PostMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetMarketStats returns the current market snapshot
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats.Snapshot())
}
