// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// CreateUser inserts u. CreatedAt is stamped in UTC when unset.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.Status == "" {
		u.Status = domain.StatusOffline
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(u).Error
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists reports whether a user row with id exists.
func UserExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// GetUsersByID loads the given users keyed by id. Unknown ids are absent
// from the result.
func GetUsersByID(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.User
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u
	}
	return out, nil
}

// SetUserStatus records a presence transition. lastActive is written only
// when non-nil. A missing user is not an error.
func SetUserStatus(ctx context.Context, db *gorm.DB, id, status string, lastActive *time.Time) error {
	fields := map[string]any{"status": status}
	if lastActive != nil {
		fields["last_active_at"] = *lastActive
	}
	return db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields).Error
}
