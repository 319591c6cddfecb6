package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/models"
)

type counter struct{ n int64 }

func (c *counter) SetActiveUsers(n int64) { c.n = n }

func TestDirectory_Register(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		role    models.Role
		profile Profile
		wantErr error
	}{
		{"Seller", "seller1", models.RoleSeller, Profile{Name: "Tanaka", CompanyName: "Tanaka Works"}, nil},
		{"BuyerWithBudget", "buyer1", models.RoleBuyer, Profile{Name: "Fund", Budget: "50M", AppealPoint: "Same-day funding"}, nil},
		{"Admin", "admin1", models.RoleAdmin, Profile{Name: "Ops"}, nil},
		{"UnknownRole", "x1", models.Role("broker"), Profile{Name: "X"}, apperr.ErrValidation},
		{"MissingName", "x2", models.RoleSeller, Profile{}, apperr.ErrValidation},
		{"SellerWithBudget", "x3", models.RoleSeller, Profile{Name: "X", Budget: "1M"}, apperr.ErrValidation},
		{"BadAvatar", "x4", models.RoleBuyer, Profile{Name: "X", AvatarURL: "not a url"}, apperr.ErrValidation},
		{"MissingID", "", models.RoleBuyer, Profile{Name: "X"}, apperr.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &counter{}
			dir := NewDirectory(db.NewMemoryStore(), c, nil)

			u, err := dir.Register(context.Background(), tt.id, tt.role, tt.profile)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, u.Role)
			assert.Equal(t, models.UserActive, u.Status)
			assert.Equal(t, int64(1), c.n)
		})
	}
}

func TestDirectory_RegisterTwice(t *testing.T) {
	dir := NewDirectory(db.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	_, err := dir.Register(ctx, "buyer1", models.RoleBuyer, Profile{Name: "Fund"})
	require.NoError(t, err)
	_, err = dir.Register(ctx, "buyer1", models.RoleSeller, Profile{Name: "Fund"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	u, err := dir.Get(ctx, "buyer1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleBuyer, u.Role, "role is fixed at registration")
}

func TestDirectory_UpdateProfile(t *testing.T) {
	dir := NewDirectory(db.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	_, err := dir.Register(ctx, "buyer1", models.RoleBuyer, Profile{Name: "Fund"})
	require.NoError(t, err)
	_, err = dir.Register(ctx, "seller1", models.RoleSeller, Profile{Name: "Tanaka"})
	require.NoError(t, err)

	u, err := dir.UpdateProfile(ctx, "buyer1", Profile{Name: "Fund A", Budget: "80M"})
	require.NoError(t, err)
	assert.Equal(t, "Fund A", u.Name)
	assert.Equal(t, "80M", u.Budget)
	assert.Equal(t, models.RoleBuyer, u.Role)

	_, err = dir.UpdateProfile(ctx, "seller1", Profile{Name: "Tanaka", AppealPoint: "fast"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = dir.UpdateProfile(ctx, "missing", Profile{Name: "X"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDirectory_StatusAndCounts(t *testing.T) {
	c := &counter{}
	dir := NewDirectory(db.NewMemoryStore(), c, nil)
	ctx := context.Background()

	for _, id := range []string{"buyer1", "buyer2", "buyer3"} {
		_, err := dir.Register(ctx, id, models.RoleBuyer, Profile{Name: id})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), c.n)

	u, err := dir.Toggle(ctx, "buyer2")
	require.NoError(t, err)
	assert.Equal(t, models.UserSuspended, u.Status)
	assert.Equal(t, int64(2), c.n)

	n, err := dir.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	u, err = dir.Toggle(ctx, "buyer2")
	require.NoError(t, err)
	assert.Equal(t, models.UserActive, u.Status)
	assert.Equal(t, int64(3), c.n)

	_, err = dir.SetStatus(ctx, "buyer1", models.UserStatus("banned"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = dir.SetStatus(ctx, "missing", models.UserSuspended)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	all, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDirectory_ListBuyers(t *testing.T) {
	dir := NewDirectory(db.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	for _, u := range []struct {
		id   string
		role models.Role
	}{
		{"seller1", models.RoleSeller},
		{"buyer1", models.RoleBuyer},
		{"admin1", models.RoleAdmin},
		{"buyer2", models.RoleBuyer},
		{"buyer3", models.RoleBuyer},
	} {
		_, err := dir.Register(ctx, u.id, u.role, Profile{Name: u.id})
		require.NoError(t, err)
	}
	_, err := dir.SetStatus(ctx, "buyer2", models.UserSuspended)
	require.NoError(t, err)

	buyers, err := dir.ListBuyers(ctx)
	require.NoError(t, err)
	var ids []string
	for _, b := range buyers {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []string{"buyer1", "buyer3"}, ids)
}
