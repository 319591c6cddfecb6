// Package invoice owns invoice listings and their status lifecycle.
package invoice

import (
	"context"
	"errors"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/models"
	"github.com/xtrntr/factoring/internal/validate"
	"go.uber.org/zap"
)

// Attrs are the seller-supplied listing attributes. A nil RequestedAmount
// defaults to 95% of Amount.
type Attrs struct {
	Amount          int64  `json:"amount" validate:"gt=0"`
	DueDate         string `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Industry        string `json:"industry" validate:"required,max=100"`
	CompanySize     string `json:"companySize" validate:"omitempty,oneof=Listed Large SMB Individual"`
	CompanyCredit   string `json:"companyCredit" validate:"max=200"`
	RequestedAmount *int64 `json:"requestedAmount" validate:"omitempty,gt=0"`
	EvidenceURL     string `json:"evidenceUrl" validate:"omitempty,url"`
	EvidenceName    string `json:"evidenceName" validate:"max=200"`
}

// AttrsOf returns the editable attributes of inv.
func AttrsOf(inv *models.Invoice) Attrs {
	requested := inv.RequestedAmount
	return Attrs{
		Amount:          inv.Amount,
		DueDate:         inv.DueDate,
		Industry:        inv.Industry,
		CompanySize:     inv.CompanySize,
		CompanyCredit:   inv.CompanyCredit,
		RequestedAmount: &requested,
		EvidenceURL:     inv.EvidenceURL,
		EvidenceName:    inv.EvidenceName,
	}
}

// DefaultRequestedAmount is floor(amount * 0.95).
func DefaultRequestedAmount(amount int64) int64 {
	return amount/100*95 + amount%100*95/100
}

func (a Attrs) validate() error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	if a.RequestedAmount != nil && *a.RequestedAmount > a.Amount {
		return apperr.Validation("requestedAmount must not exceed amount")
	}
	return nil
}

func (a Attrs) apply(inv *models.Invoice) {
	inv.Amount = a.Amount
	inv.DueDate = a.DueDate
	inv.Industry = a.Industry
	inv.CompanySize = a.CompanySize
	inv.CompanyCredit = a.CompanyCredit
	inv.EvidenceURL = a.EvidenceURL
	inv.EvidenceName = a.EvidenceName
	if a.RequestedAmount != nil {
		inv.RequestedAmount = *a.RequestedAmount
	} else {
		inv.RequestedAmount = DefaultRequestedAmount(a.Amount)
	}
}

// CanTransition reports whether an invoice may move from one status to
// another. Status only moves forward.
func CanTransition(from, to models.InvoiceStatus) bool {
	switch from {
	case models.InvoiceOpen:
		return to == models.InvoiceNegotiating
	case models.InvoiceNegotiating:
		return to == models.InvoiceSold
	default:
		return false
	}
}

// Repository manages invoices in the record store.
type Repository struct {
	store  db.Store
	logger *zap.Logger
}

// NewRepository creates a repository backed by store.
func NewRepository(store db.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, logger: logger}
}

// WithStore returns a copy of the repository bound to s, typically an open
// transaction.
func (r *Repository) WithStore(s db.Store) *Repository {
	return &Repository{store: s, logger: r.logger}
}

// Create lists a new open invoice owned by sellerID.
func (r *Repository) Create(ctx context.Context, sellerID string, attrs Attrs) (*models.Invoice, error) {
	if sellerID == "" {
		return nil, apperr.Validation("seller id is required")
	}
	if err := attrs.validate(); err != nil {
		return nil, err
	}

	inv := &models.Invoice{SellerID: sellerID, Status: models.InvoiceOpen}
	attrs.apply(inv)
	if err := r.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	r.logger.Info("Invoice listed",
		zap.String("invoice_id", inv.ID),
		zap.String("seller_id", sellerID),
		zap.Int64("amount", inv.Amount),
		zap.Int64("requested_amount", inv.RequestedAmount))
	return inv, nil
}

// ListOpen returns the invoices open for offers, newest first.
func (r *Repository) ListOpen(ctx context.Context) ([]models.Invoice, error) {
	return r.store.ListInvoices(ctx, db.InvoiceFilter{Status: models.InvoiceOpen})
}

// ListBySeller returns every invoice of a seller, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]models.Invoice, error) {
	return r.store.ListInvoices(ctx, db.InvoiceFilter{SellerID: sellerID})
}

// Get returns one invoice.
func (r *Repository) Get(ctx context.Context, id string) (*models.Invoice, error) {
	return r.store.GetInvoice(ctx, id)
}

// Lock reads an invoice and holds a row lock on it for the rest of the
// enclosing transaction.
func (r *Repository) Lock(ctx context.Context, id string, mode db.LockMode) (*models.Invoice, error) {
	return r.store.LockInvoice(ctx, id, mode)
}

// EnsureOpen reports InvoiceLocked unless inv still accepts offers.
func EnsureOpen(inv *models.Invoice) error {
	if inv.Status != models.InvoiceOpen {
		return apperr.Newf(apperr.KindInvoiceLocked, "invoice %s is %s and no longer accepts offers", inv.ID, inv.Status)
	}
	return nil
}

// Update replaces the listing attributes of an open invoice. Only the
// owning seller may edit, and only before any offer has been accepted.
func (r *Repository) Update(ctx context.Context, sellerID, id string, attrs Attrs) (*models.Invoice, error) {
	if err := attrs.validate(); err != nil {
		return nil, err
	}

	var inv *models.Invoice
	for attempt := 0; ; attempt++ {
		var err error
		inv, err = r.store.GetInvoice(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.SellerID != sellerID {
			return nil, apperr.Forbidden("only the owning seller may edit this invoice")
		}
		if err := EnsureOpen(inv); err != nil {
			return nil, err
		}

		attrs.apply(inv)
		err = r.store.UpdateInvoice(ctx, inv)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt > 0 {
			return nil, err
		}
		r.logger.Warn("Invoice update conflicted, retrying", zap.String("invoice_id", id))
	}

	r.logger.Info("Invoice updated", zap.String("invoice_id", id), zap.Int("version", inv.Version))
	return inv, nil
}

// TransitionStatus moves an invoice forward in its lifecycle. Callers that
// need the transition to be atomic with other writes bind the repository
// to a transaction with WithStore.
func (r *Repository) TransitionStatus(ctx context.Context, id string, to models.InvoiceStatus) error {
	inv, err := r.store.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(inv.Status, to) {
		return apperr.Newf(apperr.KindInvalidTransition, "invoice %s cannot move from %s to %s", id, inv.Status, to)
	}
	if err := r.store.UpdateInvoiceStatus(ctx, id, inv.Status, to); err != nil {
		return err
	}

	r.logger.Info("Invoice status changed",
		zap.String("invoice_id", id),
		zap.String("from", string(inv.Status)),
		zap.String("to", string(to)))
	return nil
}
