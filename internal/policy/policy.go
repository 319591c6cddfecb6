// Package policy is the access gate in front of every marketplace
// operation. The acting user is always taken from the principal source,
// never from caller-supplied ids.
package policy

import (
	"context"
	"errors"
	"slices"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/auth"
	"github.com/xtrntr/factoring/internal/deal"
	"github.com/xtrntr/factoring/internal/invoice"
	"github.com/xtrntr/factoring/internal/messaging"
	"github.com/xtrntr/factoring/internal/models"
	"github.com/xtrntr/factoring/internal/users"
)

// Service exposes the marketplace operations on behalf of the current
// principal.
type Service struct {
	source   auth.PrincipalSource
	users    *users.Directory
	invoices *invoice.Repository
	deals    *deal.Engine
	messages *messaging.Log
}

// NewService creates the access gate over the marketplace components.
func NewService(source auth.PrincipalSource, dir *users.Directory, invoices *invoice.Repository, deals *deal.Engine, messages *messaging.Log) *Service {
	return &Service{
		source:   source,
		users:    dir,
		invoices: invoices,
		deals:    deals,
		messages: messages,
	}
}

// actor resolves the registered user behind the current principal. Mutating
// operations refuse suspended users.
func (s *Service) actor(ctx context.Context, mutating bool, roles ...models.Role) (*models.User, error) {
	p, err := s.source.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, p.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Forbidden("principal is not registered")
	}
	if err != nil {
		return nil, err
	}
	if mutating && u.Status == models.UserSuspended {
		return nil, apperr.Forbidden("account is suspended")
	}
	if len(roles) > 0 && !slices.Contains(roles, u.Role) {
		return nil, apperr.Newf(apperr.KindForbidden, "%s may not perform this operation", u.Role)
	}
	return u, nil
}

// Register creates the user record for the current principal.
func (s *Service) Register(ctx context.Context, profile users.Profile) (*models.User, error) {
	p, err := s.source.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	return s.users.Register(ctx, p.ID, p.Role, profile)
}

// Me returns the current user.
func (s *Service) Me(ctx context.Context) (*models.User, error) {
	return s.actor(ctx, false)
}

// UpdateMe replaces the current user's profile.
func (s *Service) UpdateMe(ctx context.Context, profile users.Profile) (*models.User, error) {
	u, err := s.actor(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.users.UpdateProfile(ctx, u.ID, profile)
}

// ListUsers returns every user. Admin only.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	if _, err := s.actor(ctx, false, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.users.List(ctx)
}

// ListBuyers returns the buyer directory to sellers and admins.
func (s *Service) ListBuyers(ctx context.Context) ([]models.User, error) {
	if _, err := s.actor(ctx, false, models.RoleSeller, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.users.ListBuyers(ctx)
}

// SetUserStatus activates or suspends a user. An empty status flips the
// current one. Admin only.
func (s *Service) SetUserStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	admin, err := s.actor(ctx, true, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if admin.ID == userID && status != models.UserActive {
		// an admin acting here is active, so a toggle would suspend
		return nil, apperr.Forbidden("admins cannot suspend themselves")
	}
	if status == "" {
		return s.users.Toggle(ctx, userID)
	}
	return s.users.SetStatus(ctx, userID, status)
}

// CreateInvoice lists a new invoice under the current principal.
func (s *Service) CreateInvoice(ctx context.Context, attrs invoice.Attrs) (*models.Invoice, error) {
	u, err := s.actor(ctx, true, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.invoices.Create(ctx, u.ID, attrs)
}

// UpdateInvoice edits an open invoice listed by the current principal.
// Admins get no override: they edit only the invoices they listed.
func (s *Service) UpdateInvoice(ctx context.Context, invoiceID string, attrs invoice.Attrs) (*models.Invoice, error) {
	u, err := s.actor(ctx, true, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.invoices.Update(ctx, u.ID, invoiceID, attrs)
}

// InvoiceView is an invoice with the number of offers still waiting on it.
type InvoiceView struct {
	models.Invoice
	PendingOffers int `json:"pendingOffers"`
}

// ListOpenInvoices returns the marketplace listing.
func (s *Service) ListOpenInvoices(ctx context.Context) ([]InvoiceView, error) {
	if _, err := s.actor(ctx, false); err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.deals.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]InvoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = InvoiceView{Invoice: inv, PendingOffers: counts[inv.ID]}
	}
	return views, nil
}

// ListMyInvoices returns the invoices listed by the current principal.
func (s *Service) ListMyInvoices(ctx context.Context) ([]models.Invoice, error) {
	u, err := s.actor(ctx, false, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.invoices.ListBySeller(ctx, u.ID)
}

// GetInvoice returns one invoice with its pending offer count.
func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*InvoiceView, error) {
	if _, err := s.actor(ctx, false); err != nil {
		return nil, err
	}
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	counts, err := s.deals.PendingCounts(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceView{Invoice: *inv, PendingOffers: counts[inv.ID]}, nil
}

// SubmitOffer bids on an invoice as the current buyer.
func (s *Service) SubmitOffer(ctx context.Context, invoiceID string, amount int64, note string) (*models.Deal, bool, error) {
	u, err := s.actor(ctx, true, models.RoleBuyer, models.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return s.deals.SubmitOffer(ctx, invoiceID, u.ID, amount, note)
}

// InvoiceDeals returns the ranked offers on an invoice to its seller or an
// admin.
func (s *Service) InvoiceDeals(ctx context.Context, invoiceID string) ([]deal.Ranked, error) {
	u, err := s.actor(ctx, false)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleAdmin && inv.SellerID != u.ID {
		return nil, apperr.Forbidden("only the invoice's seller may view its offers")
	}
	return s.deals.ListForInvoice(ctx, invoiceID)
}

// MyDeals lists the deals the current user takes part in.
func (s *Service) MyDeals(ctx context.Context) ([]models.Deal, error) {
	u, err := s.actor(ctx, false)
	if err != nil {
		return nil, err
	}
	if u.Role == models.RoleBuyer {
		return s.deals.ListForBuyer(ctx, u.ID)
	}
	return s.deals.ListForSeller(ctx, u.ID)
}

// RecentDeals returns the admin activity feed.
func (s *Service) RecentDeals(ctx context.Context, limit int) ([]models.Deal, error) {
	if _, err := s.actor(ctx, false, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.deals.Recent(ctx, limit)
}

// GetDeal returns a deal to its parties or an admin.
func (s *Service) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	_, d, err := s.dealForParty(ctx, dealID, false)
	return d, err
}

// AcceptOffer accepts a pending offer on the current seller's invoice.
func (s *Service) AcceptOffer(ctx context.Context, dealID string) (*models.Deal, error) {
	u, err := s.actor(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.deals.AcceptOffer(ctx, dealID, u.ID)
}

// CompleteDeal concludes a negotiation on behalf of one of its parties.
func (s *Service) CompleteDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	u, err := s.actor(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.deals.CompleteDeal(ctx, dealID, u.ID)
}

// PostMessage sends content to the other party of a deal.
func (s *Service) PostMessage(ctx context.Context, dealID, content string) (*models.Message, error) {
	u, d, err := s.dealForParty(ctx, dealID, true)
	if err != nil {
		return nil, err
	}
	if !d.HasParty(u.ID) {
		return nil, apperr.Forbidden("only the deal's parties may post messages")
	}
	return s.messages.Append(ctx, dealID, u.ID, d.Counterpart(u.ID), content)
}

// Messages returns a deal's thread to its parties or an admin.
func (s *Service) Messages(ctx context.Context, dealID string) ([]models.Message, error) {
	if _, _, err := s.dealForParty(ctx, dealID, false); err != nil {
		return nil, err
	}
	return s.messages.ListForDeal(ctx, dealID)
}

// dealForParty loads a deal visible to the current user: one of its parties
// or an admin.
func (s *Service) dealForParty(ctx context.Context, dealID string, mutating bool) (*models.User, *models.Deal, error) {
	u, err := s.actor(ctx, mutating)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.deals.Get(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	if u.Role != models.RoleAdmin && !d.HasParty(u.ID) {
		return nil, nil, apperr.Forbidden("only the deal's parties may view it")
	}
	return u, d, nil
}
