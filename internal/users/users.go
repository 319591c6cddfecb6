// Package users keeps participant profiles and their operational status.
package users

import (
	"context"

	"github.com/xtrntr/factoring/internal/apperr"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/models"
	"github.com/xtrntr/factoring/internal/validate"
	"go.uber.org/zap"
)

// Profile holds the self-editable fields of a user.
type Profile struct {
	Name        string `json:"name" validate:"required,max=100"`
	CompanyName string `json:"companyName" validate:"max=200"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,url"`
	Budget      string `json:"budget" validate:"max=100"`
	AppealPoint string `json:"appealPoint" validate:"max=1000"`
}

// ProfileOf returns the editable profile of u.
func ProfileOf(u *models.User) Profile {
	return Profile{
		Name:        u.Name,
		CompanyName: u.CompanyName,
		AvatarURL:   u.AvatarURL,
		Budget:      u.Budget,
		AppealPoint: u.AppealPoint,
	}
}

func (p Profile) validateFor(role models.Role) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if role != models.RoleBuyer && (p.Budget != "" || p.AppealPoint != "") {
		return apperr.Validation("budget and appealPoint apply to buyers only")
	}
	return nil
}

// ActiveCounter is told the number of active users whenever it changes.
type ActiveCounter interface {
	SetActiveUsers(n int64)
}

// Directory manages user records.
type Directory struct {
	store   db.Store
	counter ActiveCounter
	logger  *zap.Logger
}

// NewDirectory creates a directory. counter may be nil.
func NewDirectory(store db.Store, counter ActiveCounter, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, counter: counter, logger: logger}
}

// Register creates the record for an authenticated identity. The role is
// fixed from here on.
func (d *Directory) Register(ctx context.Context, id string, role models.Role, profile Profile) (*models.User, error) {
	if id == "" {
		return nil, apperr.Validation("user id is required")
	}
	if !role.Valid() {
		return nil, apperr.Validation("role must be one of seller, buyer, admin")
	}
	if err := profile.validateFor(role); err != nil {
		return nil, err
	}

	u := &models.User{
		ID:          id,
		Name:        profile.Name,
		CompanyName: profile.CompanyName,
		Role:        role,
		Status:      models.UserActive,
		AvatarURL:   profile.AvatarURL,
		Budget:      profile.Budget,
		AppealPoint: profile.AppealPoint,
	}
	if err := d.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	d.logger.Info("User registered", zap.String("user_id", id), zap.String("role", string(role)))
	d.refreshActive(ctx)
	return u, nil
}

// Get returns one user.
func (d *Directory) Get(ctx context.Context, id string) (*models.User, error) {
	return d.store.GetUser(ctx, id)
}

// List returns every user in registration order.
func (d *Directory) List(ctx context.Context) ([]models.User, error) {
	return d.store.ListUsers(ctx)
}

// ListBuyers returns the active buyers in registration order.
func (d *Directory) ListBuyers(ctx context.Context) ([]models.User, error) {
	all, err := d.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	buyers := make([]models.User, 0, len(all))
	for _, u := range all {
		if u.Role == models.RoleBuyer && u.Status == models.UserActive {
			buyers = append(buyers, u)
		}
	}
	return buyers, nil
}

// UpdateProfile replaces a user's profile. Role and status are not part of
// the profile and never change here.
func (d *Directory) UpdateProfile(ctx context.Context, id string, profile Profile) (*models.User, error) {
	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := profile.validateFor(u.Role); err != nil {
		return nil, err
	}

	u.Name = profile.Name
	u.CompanyName = profile.CompanyName
	u.AvatarURL = profile.AvatarURL
	u.Budget = profile.Budget
	u.AppealPoint = profile.AppealPoint
	if err := d.store.UpdateUserProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetStatus activates or suspends a user.
func (d *Directory) SetStatus(ctx context.Context, id string, status models.UserStatus) (*models.User, error) {
	if status != models.UserActive && status != models.UserSuspended {
		return nil, apperr.Validation("status must be active or suspended")
	}
	if err := d.store.UpdateUserStatus(ctx, id, status); err != nil {
		return nil, err
	}

	d.logger.Info("User status changed", zap.String("user_id", id), zap.String("status", string(status)))
	d.refreshActive(ctx)
	return d.store.GetUser(ctx, id)
}

// Toggle flips a user between active and suspended.
func (d *Directory) Toggle(ctx context.Context, id string) (*models.User, error) {
	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	next := models.UserSuspended
	if u.Status == models.UserSuspended {
		next = models.UserActive
	}
	return d.SetStatus(ctx, id, next)
}

// CountActive returns the number of active users.
func (d *Directory) CountActive(ctx context.Context) (int, error) {
	return d.store.CountUsers(ctx, models.UserActive)
}

func (d *Directory) refreshActive(ctx context.Context) {
	if d.counter == nil {
		return
	}
	n, err := d.CountActive(ctx)
	if err != nil {
		d.logger.Warn("Failed to count active users", zap.Error(err))
		return
	}
	d.counter.SetActiveUsers(int64(n))
}
