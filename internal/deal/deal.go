// Package deal runs the offer and negotiation lifecycle: buyers submit
// offers on open invoices, the seller accepts one, and the parties close it.
package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/invoice"
	"github.com/xtrntr/factoring/internal/messaging"
	"github.com/xtrntr/factoring/internal/models"
	"go.uber.org/zap"
)

// System notices appended to deal threads.
const (
	NoticeAccepted  = "Offer accepted. Negotiation has started."
	NoticeOutbid    = "Another offer was accepted for this invoice."
	NoticeConcluded = "Deal concluded. The invoice has been sold."
)

// DefaultRecentLimit is the size of the admin activity feed.
const DefaultRecentLimit = 10

// CompletionRecorder receives the face and sale value of every completed deal.
type CompletionRecorder interface {
	RecordCompletion(face, sale int64) error
}

// Engine coordinates deals, their invoices and their message threads.
type Engine struct {
	store    db.Store
	invoices *invoice.Repository
	messages *messaging.Log
	stats    CompletionRecorder
	logger   *zap.Logger
}

// NewEngine creates a deal engine.
func NewEngine(store db.Store, invoices *invoice.Repository, messages *messaging.Log, stats CompletionRecorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		invoices: invoices,
		messages: messages,
		stats:    stats,
		logger:   logger,
	}
}

// SubmitOffer opens a pending deal for buyerID on an open invoice and seeds
// its thread with note. If the buyer already holds a live offer on the
// invoice, that deal is returned unchanged and created is false.
func (e *Engine) SubmitOffer(ctx context.Context, invoiceID, buyerID string, amount int64, note string) (deal *models.Deal, created bool, err error) {
	if amount <= 0 {
		return nil, false, apperr.Validation("offer amount must be positive")
	}
	if note == "" {
		note = fmt.Sprintf("Offer of %d JPY submitted.", amount)
	}

	err = e.store.Tx(ctx, func(tx db.Store) error {
		inv, err := e.invoices.WithStore(tx).Lock(ctx, invoiceID, db.LockShare)
		if err != nil {
			return err
		}
		if err := invoice.EnsureOpen(inv); err != nil {
			return err
		}
		if inv.SellerID == buyerID {
			return apperr.Forbidden("sellers cannot bid on their own invoice")
		}
		if amount > inv.Amount {
			return apperr.Validation("offer amount must not exceed the invoice amount")
		}

		existing, err := liveDeal(ctx, tx, invoiceID, buyerID)
		if err != nil {
			return err
		}
		if existing != nil {
			deal = existing
			return nil
		}

		now := db.Now()
		deal = &models.Deal{
			InvoiceID:          inv.ID,
			BuyerID:            buyerID,
			SellerID:           inv.SellerID,
			Status:             models.DealPending,
			InitialOfferAmount: amount,
			CurrentAmount:      amount,
			StartedAt:          now,
			LastActivityAt:     now,
		}
		if err := tx.CreateDeal(ctx, deal); err != nil {
			return err
		}
		if _, err := e.messages.WithStore(tx).AppendOpening(ctx, deal, note); err != nil {
			return err
		}
		created = true
		return nil
	})

	if errors.Is(err, apperr.ErrDuplicateOffer) {
		// a concurrent submission by the same buyer won the insert
		existing, lookupErr := liveDeal(ctx, e.store, invoiceID, buyerID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	if created {
		e.logger.Info("Offer submitted",
			zap.String("deal_id", deal.ID),
			zap.String("invoice_id", invoiceID),
			zap.String("buyer_id", buyerID),
			zap.Int64("amount", amount))
	}
	return deal, created, nil
}

func liveDeal(ctx context.Context, s db.Store, invoiceID, buyerID string) (*models.Deal, error) {
	deals, err := s.ListDeals(ctx, db.DealFilter{InvoiceID: invoiceID, BuyerID: buyerID})
	if err != nil {
		return nil, err
	}
	for i := range deals {
		if deals[i].Status != models.DealRejected {
			return &deals[i], nil
		}
	}
	return nil, nil
}

// AcceptOffer lets the invoice's seller pick one pending offer. The chosen
// deal moves to negotiating, every other offer on the invoice is rejected
// and the invoice is locked, all in one transaction.
func (e *Engine) AcceptOffer(ctx context.Context, dealID, sellerID string) (*models.Deal, error) {
	var rejected int
	err := e.retry(ctx, "accept", dealID, func() error {
		rejected = 0
		return e.store.Tx(ctx, func(tx db.Store) error {
			deal, inv, err := e.lockDeal(ctx, tx, dealID)
			if err != nil {
				return err
			}
			if inv.SellerID != sellerID {
				return apperr.Forbidden("only the invoice's seller may accept an offer")
			}
			if deal.Status != models.DealPending {
				return apperr.Newf(apperr.KindInvalidTransition, "deal %s is %s, only pending offers can be accepted", deal.ID, deal.Status)
			}
			if err := invoice.EnsureOpen(inv); err != nil {
				return err
			}

			at := db.Now()
			if err := tx.UpdateDealStatus(ctx, deal.ID, models.DealPending, models.DealNegotiating, at); err != nil {
				return err
			}

			siblings, err := tx.ListDeals(ctx, db.DealFilter{InvoiceID: inv.ID})
			if err != nil {
				return err
			}
			msgs := e.messages.WithStore(tx)
			for _, s := range siblings {
				if s.ID == deal.ID || s.Status == models.DealRejected {
					continue
				}
				if err := tx.UpdateDealStatus(ctx, s.ID, s.Status, models.DealRejected, at); err != nil {
					return err
				}
				if _, err := msgs.AppendSystem(ctx, s.ID, NoticeOutbid); err != nil {
					return err
				}
				rejected++
			}

			if err := e.invoices.WithStore(tx).TransitionStatus(ctx, inv.ID, models.InvoiceNegotiating); err != nil {
				return err
			}
			_, err = msgs.AppendSystem(ctx, deal.ID, NoticeAccepted)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Offer accepted",
		zap.String("deal_id", deal.ID),
		zap.String("invoice_id", deal.InvoiceID),
		zap.Int("rejected", rejected))
	return deal, nil
}

// CompleteDeal closes a negotiation as agreed and marks the invoice sold.
// Either party may conclude. The sale is then recorded in the market
// statistics.
func (e *Engine) CompleteDeal(ctx context.Context, dealID, actorID string) (*models.Deal, error) {
	var face, sale int64
	err := e.retry(ctx, "complete", dealID, func() error {
		return e.store.Tx(ctx, func(tx db.Store) error {
			deal, inv, err := e.lockDeal(ctx, tx, dealID)
			if err != nil {
				return err
			}
			if !deal.HasParty(actorID) {
				return apperr.Forbidden("only a party to the deal may conclude it")
			}
			if deal.Status != models.DealNegotiating {
				return apperr.Newf(apperr.KindInvalidTransition, "deal %s is %s, only negotiating deals can be concluded", deal.ID, deal.Status)
			}

			if _, err := e.messages.WithStore(tx).AppendSystem(ctx, deal.ID, NoticeConcluded); err != nil {
				return err
			}
			if err := tx.UpdateDealStatus(ctx, deal.ID, models.DealNegotiating, models.DealAgreed, db.Now()); err != nil {
				return err
			}
			if err := e.invoices.WithStore(tx).TransitionStatus(ctx, inv.ID, models.InvoiceSold); err != nil {
				return err
			}

			face, sale = inv.Amount, deal.CurrentAmount
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if e.stats != nil {
		if err := e.stats.RecordCompletion(face, sale); err != nil {
			// the sale is committed; a bad aggregate must not undo it
			e.logger.Error("Failed to record completed deal", zap.String("deal_id", dealID), zap.Error(err))
		}
	}

	deal, err := e.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Deal concluded",
		zap.String("deal_id", deal.ID),
		zap.String("invoice_id", deal.InvoiceID),
		zap.Int64("face", face),
		zap.Int64("sale", sale))
	return deal, nil
}

// lockDeal locks a deal and its invoice, invoice first, so that every
// writer takes row locks in the same order.
func (e *Engine) lockDeal(ctx context.Context, tx db.Store, dealID string) (*models.Deal, *models.Invoice, error) {
	peek, err := tx.GetDeal(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	inv, err := e.invoices.WithStore(tx).Lock(ctx, peek.InvoiceID, db.LockUpdate)
	if err != nil {
		return nil, nil, err
	}
	deal, err := tx.LockDeal(ctx, dealID)
	if err != nil {
		return nil, nil, err
	}
	return deal, inv, nil
}

// retry runs fn again once when it fails with a store conflict.
func (e *Engine) retry(ctx context.Context, op, dealID string, fn func() error) error {
	err := fn()
	if !errors.Is(err, apperr.ErrConflict) || ctx.Err() != nil {
		return err
	}

	e.logger.Warn("Deal update conflicted, retrying",
		zap.String("op", op),
		zap.String("deal_id", dealID),
		zap.Error(err))
	return fn()
}

// Get returns one deal.
func (e *Engine) Get(ctx context.Context, dealID string) (*models.Deal, error) {
	return e.store.GetDeal(ctx, dealID)
}

// ListForInvoice returns the offers on an invoice in rank order.
func (e *Engine) ListForInvoice(ctx context.Context, invoiceID string) ([]Ranked, error) {
	if _, err := e.invoices.Get(ctx, invoiceID); err != nil {
		return nil, err
	}
	deals, err := e.store.ListDeals(ctx, db.DealFilter{InvoiceID: invoiceID})
	if err != nil {
		return nil, err
	}
	return Rank(deals), nil
}

// PendingCounts returns the number of pending offers per invoice. With no
// ids it counts across every invoice.
func (e *Engine) PendingCounts(ctx context.Context, invoiceIDs ...string) (map[string]int, error) {
	filter := db.DealFilter{Status: models.DealPending}
	if len(invoiceIDs) == 1 {
		filter.InvoiceID = invoiceIDs[0]
	}
	deals, err := e.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(invoiceIDs))
	for _, id := range invoiceIDs {
		counts[id] = 0
	}
	for _, d := range deals {
		if len(invoiceIDs) > 0 {
			if _, ok := counts[d.InvoiceID]; !ok {
				continue
			}
		}
		counts[d.InvoiceID]++
	}
	return counts, nil
}

// ListForBuyer returns a buyer's deals, most recently active first.
func (e *Engine) ListForBuyer(ctx context.Context, buyerID string) ([]models.Deal, error) {
	return e.listByActivity(ctx, db.DealFilter{BuyerID: buyerID}, 0)
}

// ListForSeller returns the deals on a seller's invoices, most recently
// active first.
func (e *Engine) ListForSeller(ctx context.Context, sellerID string) ([]models.Deal, error) {
	return e.listByActivity(ctx, db.DealFilter{SellerID: sellerID}, 0)
}

// Recent returns the most recently active deals across the marketplace.
func (e *Engine) Recent(ctx context.Context, limit int) ([]models.Deal, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return e.listByActivity(ctx, db.DealFilter{}, limit)
}

func (e *Engine) listByActivity(ctx context.Context, filter db.DealFilter, limit int) ([]models.Deal, error) {
	deals, err := e.store.ListDeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	byRecentActivity(deals)
	if limit > 0 && len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}
