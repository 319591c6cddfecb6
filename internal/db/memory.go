package db

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness rules
// as the Postgres schema. Transactions work on a copy of the data that is
// swapped in on commit, so a failed Tx leaves nothing behind.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	users    map[string]models.User
	invoices map[string]models.Invoice
	deals    map[string]models.Deal
	messages map[string][]models.Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			users:    make(map[string]models.User),
			invoices: make(map[string]models.Invoice),
			deals:    make(map[string]models.Deal),
			messages: make(map[string][]models.Message),
		},
	}
}

func (d *memData) clone() *memData {
	msgs := make(map[string][]models.Message, len(d.messages))
	for k, v := range d.messages {
		msgs[k] = slices.Clone(v)
	}
	return &memData{
		users:    maps.Clone(d.users),
		invoices: maps.Clone(d.invoices),
		deals:    maps.Clone(d.deals),
		messages: msgs,
	}
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Tx serializes fn against every other store operation.
func (s *MemoryStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &MemoryStore{mu: s.mu, data: s.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	defer s.lock()()
	prepareUser(user)
	if _, ok := s.data.users[user.ID]; ok {
		return apperr.Newf(apperr.KindConflict, "user %s already exists", user.ID)
	}
	s.data.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	defer s.lock()()
	u, ok := s.data.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return &u, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	defer s.lock()()
	users := make([]models.User, 0, len(s.data.users))
	for _, u := range s.data.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].RegisteredAt.Equal(users[j].RegisteredAt) {
			return users[i].RegisteredAt.Before(users[j].RegisteredAt)
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *MemoryStore) UpdateUserProfile(ctx context.Context, user *models.User) error {
	defer s.lock()()
	u, ok := s.data.users[user.ID]
	if !ok {
		return apperr.NotFound("user", user.ID)
	}
	u.Name = user.Name
	u.CompanyName = user.CompanyName
	u.AvatarURL = user.AvatarURL
	u.Budget = user.Budget
	u.AppealPoint = user.AppealPoint
	s.data.users[u.ID] = u
	return nil
}

func (s *MemoryStore) UpdateUserStatus(ctx context.Context, id string, status models.UserStatus) error {
	defer s.lock()()
	u, ok := s.data.users[id]
	if !ok {
		return apperr.NotFound("user", id)
	}
	u.Status = status
	s.data.users[id] = u
	return nil
}

func (s *MemoryStore) CountUsers(ctx context.Context, status models.UserStatus) (int, error) {
	defer s.lock()()
	n := 0
	for _, u := range s.data.users {
		if status == "" || u.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, inv *models.Invoice) error {
	defer s.lock()()
	prepareInvoice(inv)
	if _, ok := s.data.invoices[inv.ID]; ok {
		return apperr.Newf(apperr.KindConflict, "invoice %s already exists", inv.ID)
	}
	if _, ok := s.data.users[inv.SellerID]; !ok {
		return apperr.NotFound("user", inv.SellerID)
	}
	s.data.invoices[inv.ID] = *inv
	return nil
}

func (s *MemoryStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	defer s.lock()()
	inv, ok := s.data.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id)
	}
	return &inv, nil
}

// LockInvoice is a plain read: a memory transaction already excludes every
// other operation.
func (s *MemoryStore) LockInvoice(ctx context.Context, id string, mode LockMode) (*models.Invoice, error) {
	return s.GetInvoice(ctx, id)
}

func (s *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, error) {
	defer s.lock()()
	var invoices []models.Invoice
	for _, inv := range s.data.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.SellerID != "" && inv.SellerID != filter.SellerID {
			continue
		}
		invoices = append(invoices, inv)
	}
	sort.Slice(invoices, func(i, j int) bool {
		if !invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return invoices[i].ID > invoices[j].ID
	})
	return invoices, nil
}

func (s *MemoryStore) UpdateInvoice(ctx context.Context, inv *models.Invoice) error {
	defer s.lock()()
	cur, ok := s.data.invoices[inv.ID]
	if !ok {
		return apperr.NotFound("invoice", inv.ID)
	}
	if cur.Version != inv.Version || cur.Status != models.InvoiceOpen {
		return apperr.Newf(apperr.KindConflict, "invoice %s changed concurrently", inv.ID)
	}
	cur.Amount = inv.Amount
	cur.DueDate = inv.DueDate
	cur.Industry = inv.Industry
	cur.CompanySize = inv.CompanySize
	cur.CompanyCredit = inv.CompanyCredit
	cur.RequestedAmount = inv.RequestedAmount
	cur.EvidenceURL = inv.EvidenceURL
	cur.EvidenceName = inv.EvidenceName
	cur.Version++
	cur.UpdatedAt = Now()
	s.data.invoices[cur.ID] = cur

	inv.Version = cur.Version
	inv.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) UpdateInvoiceStatus(ctx context.Context, id string, from, to models.InvoiceStatus) error {
	defer s.lock()()
	inv, ok := s.data.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	if inv.Status != from {
		return apperr.Newf(apperr.KindConflict, "invoice %s changed concurrently", id)
	}
	inv.Status = to
	inv.Version++
	inv.UpdatedAt = Now()
	s.data.invoices[id] = inv
	return nil
}

func (s *MemoryStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	defer s.lock()()
	prepareDeal(deal)
	if _, ok := s.data.deals[deal.ID]; ok {
		return apperr.Newf(apperr.KindConflict, "deal %s already exists", deal.ID)
	}
	if _, ok := s.data.invoices[deal.InvoiceID]; !ok {
		return apperr.NotFound("invoice", deal.InvoiceID)
	}
	for _, d := range s.data.deals {
		if d.InvoiceID != deal.InvoiceID {
			continue
		}
		if d.BuyerID == deal.BuyerID && d.Status != models.DealRejected && deal.Status != models.DealRejected {
			return apperr.New(apperr.KindDuplicateOffer, "buyer already has an offer on this invoice")
		}
		if d.Status.Active() && deal.Status.Active() {
			return apperr.Newf(apperr.KindConflict, "invoice %s already has an active deal", deal.InvoiceID)
		}
	}
	s.data.deals[deal.ID] = *deal
	return nil
}

func (s *MemoryStore) GetDeal(ctx context.Context, id string) (*models.Deal, error) {
	defer s.lock()()
	d, ok := s.data.deals[id]
	if !ok {
		return nil, apperr.NotFound("deal", id)
	}
	return &d, nil
}

func (s *MemoryStore) LockDeal(ctx context.Context, id string) (*models.Deal, error) {
	return s.GetDeal(ctx, id)
}

func (s *MemoryStore) ListDeals(ctx context.Context, filter DealFilter) ([]models.Deal, error) {
	defer s.lock()()
	var deals []models.Deal
	for _, d := range s.data.deals {
		if filter.InvoiceID != "" && d.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.BuyerID != "" && d.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SellerID != "" && d.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		deals = append(deals, d)
	}
	sort.Slice(deals, func(i, j int) bool {
		if !deals[i].StartedAt.Equal(deals[j].StartedAt) {
			return deals[i].StartedAt.Before(deals[j].StartedAt)
		}
		return deals[i].ID < deals[j].ID
	})
	return deals, nil
}

func (s *MemoryStore) UpdateDealStatus(ctx context.Context, id string, from, to models.DealStatus, at time.Time) error {
	defer s.lock()()
	deal, ok := s.data.deals[id]
	if !ok {
		return apperr.NotFound("deal", id)
	}
	if deal.Status != from {
		return apperr.Newf(apperr.KindConflict, "deal %s changed concurrently", id)
	}
	if to.Active() && !from.Active() {
		for _, d := range s.data.deals {
			if d.ID != id && d.InvoiceID == deal.InvoiceID && d.Status.Active() {
				return apperr.Newf(apperr.KindConflict, "invoice %s already has an active deal", deal.InvoiceID)
			}
		}
	}
	deal.Status = to
	if at.After(deal.LastActivityAt) {
		deal.LastActivityAt = at
	}
	s.data.deals[id] = deal
	return nil
}

func (s *MemoryStore) TouchDeal(ctx context.Context, id string, at time.Time) error {
	defer s.lock()()
	deal, ok := s.data.deals[id]
	if !ok {
		return apperr.NotFound("deal", id)
	}
	if at.After(deal.LastActivityAt) {
		deal.LastActivityAt = at
		s.data.deals[id] = deal
	}
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer s.lock()()
	if _, ok := s.data.deals[msg.DealID]; !ok {
		return apperr.NotFound("deal", msg.DealID)
	}
	prepareMessage(msg)
	s.data.messages[msg.DealID] = append(s.data.messages[msg.DealID], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, dealID string) ([]models.Message, error) {
	defer s.lock()()
	msgs := slices.Clone(s.data.messages[dealID])
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs, nil
}
