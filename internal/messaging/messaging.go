// Package messaging is the append-only chat log attached to each deal.
package messaging

import (
	"context"
	"strings"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/models"
	"go.uber.org/zap"
)

// Log appends and reads deal messages.
type Log struct {
	store  db.Store
	logger *zap.Logger
}

// NewLog creates a message log backed by store.
func NewLog(store db.Store, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{store: store, logger: logger}
}

// WithStore returns a copy of the log bound to s.
func (l *Log) WithStore(s db.Store) *Log {
	return &Log{store: s, logger: l.logger}
}

// Append posts a message between the two parties of a deal that is under
// negotiation.
func (l *Log) Append(ctx context.Context, dealID, senderID, receiverID, content string) (*models.Message, error) {
	return l.post(ctx, &models.Message{
		DealID:     dealID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}, true)
}

// AppendOpening records the note a buyer attaches to a new offer. The deal
// is still pending at that point so the negotiation gate does not apply.
func (l *Log) AppendOpening(ctx context.Context, deal *models.Deal, content string) (*models.Message, error) {
	return l.post(ctx, &models.Message{
		DealID:     deal.ID,
		SenderID:   deal.BuyerID,
		ReceiverID: deal.SellerID,
		Content:    content,
	}, false)
}

// AppendSystem posts a notice from the system to both parties regardless of
// the deal's status.
func (l *Log) AppendSystem(ctx context.Context, dealID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("message content is required")
	}

	msg := &models.Message{
		DealID:     dealID,
		SenderID:   models.SystemSender,
		ReceiverID: models.BroadcastUser,
		Content:    content,
	}
	err := l.store.Tx(ctx, func(tx db.Store) error {
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchDeal(ctx, dealID, msg.Timestamp)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (l *Log) post(ctx context.Context, msg *models.Message, gated bool) (*models.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, apperr.Validation("message content is required")
	}

	err := l.store.Tx(ctx, func(tx db.Store) error {
		deal, err := tx.LockDeal(ctx, msg.DealID)
		if err != nil {
			return err
		}
		if gated && deal.Status != models.DealNegotiating {
			return apperr.Newf(apperr.KindDealNotNegotiating, "deal %s is %s, messages are closed", deal.ID, deal.Status)
		}
		if msg.SenderID == msg.ReceiverID || !deal.HasParty(msg.SenderID) || !deal.HasParty(msg.ReceiverID) {
			return apperr.Forbidden("messages may only pass between the deal's buyer and seller")
		}

		msg.Timestamp = db.Now()
		if err := tx.CreateMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchDeal(ctx, deal.ID, msg.Timestamp)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Debug("Message appended",
		zap.String("deal_id", msg.DealID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID))
	return msg, nil
}

// ListForDeal returns a deal's thread in chronological order.
func (l *Log) ListForDeal(ctx context.Context, dealID string) ([]models.Message, error) {
	if _, err := l.store.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return l.store.ListMessages(ctx, dealID)
}
