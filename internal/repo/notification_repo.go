// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Notification.
// List queries exclude rows whose expires_at has passed.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// CreateNotification inserts n, assigning ID and CreatedAt when unset.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(n).Error
}

// GetNotification fetches a notification by id, or ErrNotFound.
func GetNotification(ctx context.Context, db *gorm.DB, id string) (*domain.Notification, error) {
	var n domain.Notification
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func liveNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID).
		Where("expires_at IS NULL OR expires_at > ?", now)
}

// CountNotifications returns the number of live notifications for userID.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	var n int64
	err := liveNotifications(ctx, db, userID, now).Count(&n).Error
	return n, err
}

// ListNotificationsPage returns live notifications newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, now time.Time, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := liveNotifications(ctx, db, userID, now).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListUnreadNotifications returns every live unread notification newest first.
func ListUnreadNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.Notification, error) {
	var out []domain.Notification
	err := liveNotifications(ctx, db, userID, now).
		Where("is_read = ?", false).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// CountUnreadNotifications returns the unread badge count for userID.
func CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, error) {
	var n int64
	err := liveNotifications(ctx, db, userID, now).Where("is_read = ?", false).Count(&n).Error
	return n, err
}

// MarkNotificationRead flags one notification read. Already-read rows keep
// their original read_at.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]any{"is_read": true, "read_at": at}).Error
}

// MarkAllNotificationsRead flags every unread notification of userID read.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{"is_read": true, "read_at": at})
	return res.RowsAffected, res.Error
}

// DeleteNotification removes one notification.
func DeleteNotification(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Notification{}).Error
}

// DeleteAllNotifications removes every notification of userID.
func DeleteAllNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}

// PurgeExpiredNotifications removes notifications that expired at or before now.
func PurgeExpiredNotifications(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&domain.Notification{})
	return res.RowsAffected, res.Error
}
