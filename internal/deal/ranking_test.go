package deal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/factoring/internal/models"
)

func TestRank(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		deals []models.Deal
		want  []string
	}{
		{
			name: "PriceThenActivity",
			deals: []models.Deal{
				{ID: "A", CurrentAmount: 100000, LastActivityAt: t0},
				{ID: "B", CurrentAmount: 150000, LastActivityAt: t0.Add(time.Minute)},
				{ID: "C", CurrentAmount: 150000, LastActivityAt: t0.Add(2 * time.Minute)},
			},
			want: []string{"B", "C", "A"},
		},
		{
			name: "ActivityTieFallsBackToStart",
			deals: []models.Deal{
				{ID: "X", CurrentAmount: 500, LastActivityAt: t0, StartedAt: t0.Add(time.Second)},
				{ID: "Y", CurrentAmount: 500, LastActivityAt: t0, StartedAt: t0},
			},
			want: []string{"Y", "X"},
		},
		{
			name: "FullTieFallsBackToID",
			deals: []models.Deal{
				{ID: "d2", CurrentAmount: 500, LastActivityAt: t0, StartedAt: t0},
				{ID: "d1", CurrentAmount: 500, LastActivityAt: t0, StartedAt: t0},
			},
			want: []string{"d1", "d2"},
		},
		{
			name:  "Empty",
			deals: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked := Rank(tt.deals)
			require.Len(t, ranked, len(tt.want))

			var ids []string
			for i, r := range ranked {
				ids = append(ids, r.ID)
				assert.Equal(t, i+1, r.Rank)
				assert.Equal(t, i == 0, r.TopOffer)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	deals := []models.Deal{
		{ID: "low", CurrentAmount: 1},
		{ID: "high", CurrentAmount: 2},
	}

	Rank(deals)

	assert.Equal(t, "low", deals[0].ID)
}

func TestRank_Deterministic(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	deals := []models.Deal{
		{ID: "A", CurrentAmount: 100000, LastActivityAt: t0},
		{ID: "B", CurrentAmount: 150000, LastActivityAt: t0.Add(time.Minute)},
		{ID: "C", CurrentAmount: 150000, LastActivityAt: t0.Add(2 * time.Minute)},
	}
	reversed := []models.Deal{deals[2], deals[1], deals[0]}

	assert.Equal(t, Rank(deals), Rank(reversed))
}
