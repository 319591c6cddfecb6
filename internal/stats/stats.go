// Package stats keeps the running market statistics shown on the ticker.
package stats

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/models"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// DefaultSeed is the baseline the marketplace launches with.
func DefaultSeed() models.MarketStatistics {
	return models.MarketStatistics{
		TotalVolume:         154000000,
		CompletedDeals:      124,
		AverageDiscountRate: 4.8,
		AvgFundingDays:      2.5,
		ActiveUsers:         142,
		IncidentRate:        0.2,
	}
}

// Aggregator accumulates completed deals into market statistics.
// Rates are held at full precision and rounded only when read.
type Aggregator struct {
	mu             sync.RWMutex
	totalVolume    int64
	completedDeals int64
	avgDiscount    decimal.Decimal
	avgFundingDays decimal.Decimal
	activeUsers    int64
	incidentRate   decimal.Decimal
	logger         *zap.Logger
}

// NewAggregator creates an aggregator seeded with DefaultSeed.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{logger: logger}
	a.Seed(DefaultSeed())
	return a
}

// Seed replaces the current figures with s.
func (a *Aggregator) Seed(s models.MarketStatistics) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalVolume = s.TotalVolume
	a.completedDeals = s.CompletedDeals
	a.avgDiscount = decimal.NewFromFloat(s.AverageDiscountRate)
	a.avgFundingDays = decimal.NewFromFloat(s.AvgFundingDays)
	a.activeUsers = s.ActiveUsers
	a.incidentRate = decimal.NewFromFloat(s.IncidentRate)
}

// RecordCompletion folds one completed sale into the totals. The discount
// rate of the sale is (face - sale) / face * 100.
func (a *Aggregator) RecordCompletion(face, sale int64) error {
	if face <= 0 {
		return apperr.Validation("face amount must be positive")
	}
	if sale <= 0 {
		return apperr.Validation("sale amount must be positive")
	}

	discount := decimal.NewFromInt(face - sale).Div(decimal.NewFromInt(face)).Mul(hundred)

	a.mu.Lock()
	defer a.mu.Unlock()

	count := decimal.NewFromInt(a.completedDeals)
	a.completedDeals++
	a.avgDiscount = a.avgDiscount.Mul(count).Add(discount).Div(decimal.NewFromInt(a.completedDeals))
	a.totalVolume += sale

	a.logger.Info("Recorded completed deal",
		zap.Int64("face", face),
		zap.Int64("sale", sale),
		zap.String("discount_rate", discount.StringFixed(2)),
		zap.Int64("completed_deals", a.completedDeals))
	return nil
}

// SetActiveUsers refreshes the active participant count.
func (a *Aggregator) SetActiveUsers(n int64) {
	a.mu.Lock()
	a.activeUsers = n
	a.mu.Unlock()
}

// Snapshot returns a copy of the current statistics with rates rounded to
// one decimal place.
func (a *Aggregator) Snapshot() models.MarketStatistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return models.MarketStatistics{
		TotalVolume:         a.totalVolume,
		CompletedDeals:      a.completedDeals,
		AverageDiscountRate: a.avgDiscount.Round(1).InexactFloat64(),
		AvgFundingDays:      a.avgFundingDays.Round(1).InexactFloat64(),
		ActiveUsers:         a.activeUsers,
		IncidentRate:        a.incidentRate.Round(1).InexactFloat64(),
	}
}
