package deal

import (
	"sort"

	"github.com/xtrntr/factoring/internal/models"
)

// Ranked is a deal with its position among the offers on one invoice.
type Ranked struct {
	models.Deal
	Rank     int  `json:"rank"`
	TopOffer bool `json:"topOffer"`
}

// Rank orders offers by price-time priority: highest current amount first,
// then the offer that has been waiting longest.
func Rank(deals []models.Deal) []Ranked {
	sorted := make([]models.Deal, len(deals))
	copy(sorted, deals)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CurrentAmount != b.CurrentAmount {
			return a.CurrentAmount > b.CurrentAmount
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.Before(b.LastActivityAt)
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.ID < b.ID
	})

	ranked := make([]Ranked, len(sorted))
	for i, d := range sorted {
		ranked[i] = Ranked{Deal: d, Rank: i + 1, TopOffer: i == 0}
	}
	return ranked
}

// byRecentActivity sorts deals with the most recently active first.
func byRecentActivity(deals []models.Deal) {
	sort.SliceStable(deals, func(i, j int) bool {
		if !deals[i].LastActivityAt.Equal(deals[j].LastActivityAt) {
			return deals[i].LastActivityAt.After(deals[j].LastActivityAt)
		}
		return deals[i].ID > deals[j].ID
	})
}
