package db

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ConcurrentDuplicateOffers(t *testing.T) {
	s := NewMemoryStore()
	seedParties(t, s)
	seedInvoice(t, s, "inv1", base)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateDeal(context.Background(), &models.Deal{
				InvoiceID: "inv1", BuyerID: "buyer1", SellerID: "seller1",
				InitialOfferAmount: 900000, CurrentAmount: 900000,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperr.ErrDuplicateOffer):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 19, duplicate)
}

func TestMemoryStore_NestedTxJoinsOuter(t *testing.T) {
	s := NewMemoryStore()
	seedParties(t, s)
	ctx := context.Background()

	err := s.Tx(ctx, func(tx Store) error {
		return tx.Tx(ctx, func(inner Store) error {
			return inner.UpdateUserStatus(ctx, "buyer1", models.UserSuspended)
		})
	})
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "buyer1")
	require.NoError(t, err)
	assert.Equal(t, models.UserSuspended, u.Status)
}

func TestMemoryStore_TxHonoursCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Tx(ctx, func(tx Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
