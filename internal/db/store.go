package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/xtrntr/factoring/internal/models"
)

// LockMode selects the row lock taken by the Lock* reads inside a transaction.
type LockMode int

const (
	LockShare LockMode = iota
	LockUpdate
)

// InvoiceFilter narrows ListInvoices. Zero fields match everything.
type InvoiceFilter struct {
	Status   models.InvoiceStatus
	SellerID string
}

// DealFilter narrows ListDeals. Zero fields match everything.
type DealFilter struct {
	InvoiceID string
	BuyerID   string
	SellerID  string
	Status    models.DealStatus
}

// Store is the record store the marketplace core runs against.
//
// Conditional writes (UpdateInvoice, UpdateInvoiceStatus, UpdateDealStatus)
// fail with apperr.ErrConflict when the stored row does not match the
// expected state. Missing rows fail with apperr.ErrNotFound and driver
// failures with apperr.ErrStoreUnavailable.
type Store interface {
	// Tx runs fn against a transactional view of the store. Every write made
	// through that view commits together or not at all.
	Tx(ctx context.Context, fn func(tx Store) error) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserProfile(ctx context.Context, user *models.User) error
	UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error
	CountUsers(ctx context.Context, status models.UserStatus) (int, error)

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	LockInvoice(ctx context.Context, id string, mode LockMode) (*models.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error)
	UpdateInvoice(ctx context.Context, invoice *models.Invoice) error
	UpdateInvoiceStatus(ctx context.Context, id string, from, to models.InvoiceStatus) error

	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, id string) (*models.Deal, error)
	LockDeal(ctx context.Context, id string) (*models.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]models.Deal, error)
	UpdateDealStatus(ctx context.Context, id string, from, to models.DealStatus, at time.Time) error
	TouchDeal(ctx context.Context, id string, at time.Time) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, dealID string) ([]models.Message, error)
}

func newID() string {
	return uuid.NewString()
}

// newMessageID returns a ULID so ids sort with their timestamps.
func newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// Now returns the current time at the precision the stores persist.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func prepareUser(u *models.User) {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.Status == "" {
		u.Status = models.UserActive
	}
	if u.RegisteredAt.IsZero() {
		u.RegisteredAt = Now()
	}
}

func prepareInvoice(inv *models.Invoice) {
	if inv.ID == "" {
		inv.ID = newID()
	}
	if inv.Status == "" {
		inv.Status = models.InvoiceOpen
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = Now()
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
}

func prepareDeal(d *models.Deal) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = models.DealPending
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = Now()
	}
	if d.LastActivityAt.IsZero() {
		d.LastActivityAt = d.StartedAt
	}
}

func prepareMessage(m *models.Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = Now()
	}
	if m.ID == "" {
		m.ID = newMessageID(m.Timestamp)
	}
}
