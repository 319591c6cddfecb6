package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

// runStoreSuite exercises the behaviour every Store adapter must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("Invoices", func(t *testing.T) { testInvoices(t, open(t)) })
	t.Run("InvoiceConditionalWrites", func(t *testing.T) { testInvoiceConditionalWrites(t, open(t)) })
	t.Run("Deals", func(t *testing.T) { testDeals(t, open(t)) })
	t.Run("DealStatus", func(t *testing.T) { testDealStatus(t, open(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, open(t)) })
}

var base = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func seedParties(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for i, u := range []models.User{
		{ID: "seller1", Name: "Seller", CompanyName: "Tanaka Works", Role: models.RoleSeller},
		{ID: "buyer1", Name: "Buyer One", CompanyName: "Fund A", Role: models.RoleBuyer},
		{ID: "buyer2", Name: "Buyer Two", CompanyName: "Fund B", Role: models.RoleBuyer},
	} {
		u.RegisteredAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateUser(ctx, &u))
	}
}

func seedInvoice(t *testing.T, s Store, id string, created time.Time) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{
		ID:              id,
		SellerID:        "seller1",
		Amount:          1000000,
		DueDate:         "2025-06-30",
		Industry:        "Manufacturing",
		CompanySize:     models.CompanyLarge,
		CompanyCredit:   "A",
		RequestedAmount: 950000,
		CreatedAt:       created,
	}
	require.NoError(t, s.CreateInvoice(context.Background(), inv))
	return inv
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)

	u, err := s.GetUser(ctx, "buyer1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, u.Role)
	assert.Equal(t, models.UserActive, u.Status)

	_, err = s.GetUser(ctx, "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	err = s.CreateUser(ctx, &models.User{ID: "buyer1", Name: "Again", Role: models.RoleBuyer})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	require.NoError(t, s.UpdateUserStatus(ctx, "buyer2", models.UserSuspended))
	active, err := s.CountUsers(ctx, models.UserActive)
	require.NoError(t, err)
	assert.Equal(t, 2, active)
	all, err := s.CountUsers(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all)

	u.Budget = "50M"
	u.AppealPoint = "Fast funding"
	require.NoError(t, s.UpdateUserProfile(ctx, u))
	got, err := s.GetUser(ctx, "buyer1")
	require.NoError(t, err)
	assert.Equal(t, "50M", got.Budget)
	assert.Equal(t, "Fast funding", got.AppealPoint)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "seller1", users[0].ID)
}

func testInvoices(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)

	seedInvoice(t, s, "inv1", base)
	seedInvoice(t, s, "inv2", base.Add(time.Hour))
	seedInvoice(t, s, "inv3", base.Add(2*time.Hour))
	require.NoError(t, s.UpdateInvoiceStatus(ctx, "inv2", models.InvoiceOpen, models.InvoiceNegotiating))

	tests := []struct {
		name   string
		filter InvoiceFilter
		want   []string
	}{
		{"All", InvoiceFilter{}, []string{"inv3", "inv2", "inv1"}},
		{"Open", InvoiceFilter{Status: models.InvoiceOpen}, []string{"inv3", "inv1"}},
		{"Seller", InvoiceFilter{SellerID: "seller1"}, []string{"inv3", "inv2", "inv1"}},
		{"OtherSeller", InvoiceFilter{SellerID: "buyer1"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			invoices, err := s.ListInvoices(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, inv := range invoices {
				ids = append(ids, inv.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	inv, err := s.GetInvoice(ctx, "inv2")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceNegotiating, inv.Status)
	assert.Equal(t, 2, inv.Version)

	err = s.CreateInvoice(ctx, &models.Invoice{SellerID: "ghost", Amount: 1, RequestedAmount: 1, DueDate: "x", Industry: "x", CompanyCredit: "x"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testInvoiceConditionalWrites(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)
	inv := seedInvoice(t, s, "inv1", base)

	stale := *inv
	inv.RequestedAmount = 900000
	require.NoError(t, s.UpdateInvoice(ctx, inv))
	assert.Equal(t, 2, inv.Version)

	stale.RequestedAmount = 800000
	err := s.UpdateInvoice(ctx, &stale)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	got, err := s.GetInvoice(ctx, "inv1")
	require.NoError(t, err)
	assert.Equal(t, int64(900000), got.RequestedAmount)

	err = s.UpdateInvoiceStatus(ctx, "inv1", models.InvoiceNegotiating, models.InvoiceSold)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	err = s.UpdateInvoiceStatus(ctx, "missing", models.InvoiceOpen, models.InvoiceNegotiating)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, s.UpdateInvoiceStatus(ctx, "inv1", models.InvoiceOpen, models.InvoiceNegotiating))
	got.RequestedAmount = 1
	err = s.UpdateInvoice(ctx, got)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "non-open invoice must not be editable")
}

func testDeals(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)
	seedInvoice(t, s, "inv1", base)
	seedInvoice(t, s, "inv2", base)

	d1 := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer1", SellerID: "seller1", InitialOfferAmount: 940000, CurrentAmount: 940000, StartedAt: base}
	require.NoError(t, s.CreateDeal(ctx, d1))
	assert.NotEmpty(t, d1.ID)
	assert.Equal(t, models.DealPending, d1.Status)
	assert.Equal(t, base, d1.LastActivityAt)

	dup := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer1", SellerID: "seller1", InitialOfferAmount: 930000, CurrentAmount: 930000}
	err := s.CreateDeal(ctx, dup)
	assert.True(t, errors.Is(err, apperr.ErrDuplicateOffer))

	d2 := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer2", SellerID: "seller1", InitialOfferAmount: 945000, CurrentAmount: 945000, StartedAt: base.Add(time.Minute)}
	require.NoError(t, s.CreateDeal(ctx, d2))
	d3 := &models.Deal{InvoiceID: "inv2", BuyerID: "buyer1", SellerID: "seller1", InitialOfferAmount: 450000, CurrentAmount: 450000, StartedAt: base.Add(2 * time.Minute)}
	require.NoError(t, s.CreateDeal(ctx, d3))

	tests := []struct {
		name   string
		filter DealFilter
		want   []string
	}{
		{"Invoice", DealFilter{InvoiceID: "inv1"}, []string{d1.ID, d2.ID}},
		{"Buyer", DealFilter{BuyerID: "buyer1"}, []string{d1.ID, d3.ID}},
		{"Seller", DealFilter{SellerID: "seller1"}, []string{d1.ID, d2.ID, d3.ID}},
		{"BuyerOnInvoice", DealFilter{InvoiceID: "inv1", BuyerID: "buyer2"}, []string{d2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deals, err := s.ListDeals(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, d := range deals {
				ids = append(ids, d.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	got, err := s.GetDeal(ctx, d2.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(945000), got.CurrentAmount)

	_, err = s.GetDeal(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testDealStatus(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)
	seedInvoice(t, s, "inv1", base)

	d1 := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer1", SellerID: "seller1", InitialOfferAmount: 940000, CurrentAmount: 940000, StartedAt: base}
	d2 := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer2", SellerID: "seller1", InitialOfferAmount: 945000, CurrentAmount: 945000, StartedAt: base}
	require.NoError(t, s.CreateDeal(ctx, d1))
	require.NoError(t, s.CreateDeal(ctx, d2))

	at := base.Add(time.Hour)
	require.NoError(t, s.UpdateDealStatus(ctx, d1.ID, models.DealPending, models.DealNegotiating, at))

	err := s.UpdateDealStatus(ctx, d2.ID, models.DealPending, models.DealNegotiating, at)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "second active deal must be refused")

	err = s.UpdateDealStatus(ctx, d1.ID, models.DealPending, models.DealNegotiating, at)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	require.NoError(t, s.UpdateDealStatus(ctx, d2.ID, models.DealPending, models.DealRejected, at))

	// a rejected offer frees the buyer's slot
	again := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer2", SellerID: "seller1", InitialOfferAmount: 946000, CurrentAmount: 946000}
	require.NoError(t, s.CreateDeal(ctx, again))

	require.NoError(t, s.TouchDeal(ctx, d1.ID, base.Add(2*time.Hour)))
	require.NoError(t, s.TouchDeal(ctx, d1.ID, base))
	got, err := s.LockDeal(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealNegotiating, got.Status)
	assert.Equal(t, base.Add(2*time.Hour), got.LastActivityAt, "activity time never moves backwards")

	err = s.TouchDeal(ctx, "missing", base)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)
	seedInvoice(t, s, "inv1", base)
	deal := &models.Deal{InvoiceID: "inv1", BuyerID: "buyer1", SellerID: "seller1", InitialOfferAmount: 940000, CurrentAmount: 940000, StartedAt: base}
	require.NoError(t, s.CreateDeal(ctx, deal))

	second := &models.Message{DealID: deal.ID, SenderID: "seller1", ReceiverID: "buyer1", Content: "second", Timestamp: base.Add(2 * time.Second)}
	first := &models.Message{DealID: deal.ID, SenderID: "buyer1", ReceiverID: "seller1", Content: "first", Timestamp: base.Add(time.Second)}
	require.NoError(t, s.CreateMessage(ctx, second))
	require.NoError(t, s.CreateMessage(ctx, first))
	assert.Len(t, first.ID, 26, "message ids are ULIDs")
	assert.Less(t, first.ID, second.ID, "ULIDs sort with their timestamps")

	msgs, err := s.ListMessages(ctx, deal.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)

	empty, err := s.ListMessages(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)

	err = s.CreateMessage(ctx, &models.Message{DealID: "missing", SenderID: "buyer1", ReceiverID: "seller1", Content: "x"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func testTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	seedParties(t, s)
	seedInvoice(t, s, "inv1", base)

	boom := errors.New("boom")
	err := s.Tx(ctx, func(tx Store) error {
		inv, err := tx.LockInvoice(ctx, "inv1", LockUpdate)
		if err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, models.InvoiceOpen, models.InvoiceNegotiating); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inv, err := s.GetInvoice(ctx, "inv1")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceOpen, inv.Status, "rolled back write must not be visible")

	err = s.Tx(ctx, func(tx Store) error {
		return tx.UpdateInvoiceStatus(ctx, "inv1", models.InvoiceOpen, models.InvoiceNegotiating)
	})
	require.NoError(t, err)
	inv, err = s.GetInvoice(ctx, "inv1")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceNegotiating, inv.Status)
}
