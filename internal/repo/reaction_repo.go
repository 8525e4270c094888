// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read receipts and reactions, the two
// idempotent per-message mutations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// MarkRead records that userID read messageID. A second call for the same
// pair inserts nothing and still succeeds.
func MarkRead(ctx context.Context, db *gorm.DB, messageID, userID string, at time.Time) error {
	r := &domain.MessageRead{MessageID: messageID, UserID: userID, ReadAt: at}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("Message").
		Create(r).Error
}

// ReadersOf returns reader ids per message, ordered by read time.
func ReadersOf(ctx context.Context, db *gorm.DB, messageIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []domain.MessageRead
	err := db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("read_at ASC, user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.MessageID] = append(out[r.MessageID], r.UserID)
	}
	return out, nil
}

// ReplaceReaction deletes any (message, user, emoji) reaction and inserts a
// fresh one in a single transaction.
func ReplaceReaction(ctx context.Context, db *gorm.DB, messageID, userID, emoji, name string) (*domain.Reaction, error) {
	r := &domain.Reaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
			Delete(&domain.Reaction{}).Error; err != nil {
			return err
		}
		return tx.Omit("Message").Create(r).Error
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteReactions removes every (message, user, emoji) match and returns
// the number of rows removed.
func DeleteReactions(ctx context.Context, db *gorm.DB, messageID, userID, emoji string) (int64, error) {
	res := db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&domain.Reaction{})
	return res.RowsAffected, res.Error
}

// CountReactionsByUser counts (message, user, emoji) rows. Used by tests
// and diagnostics.
func CountReactionsByUser(ctx context.Context, db *gorm.DB, messageID, userID, emoji string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Reaction{}).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Count(&n).Error
	return n, err
}

// ReactionCounts groups reactions as message -> emoji -> count.
func ReactionCounts(ctx context.Context, db *gorm.DB, messageIDs []string) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		MessageID string
		Emoji     string
		N         int
	}
	err := db.WithContext(ctx).
		Model(&domain.Reaction{}).
		Select("message_id, emoji, COUNT(*) AS n").
		Where("message_id IN ?", messageIDs).
		Group("message_id, emoji").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if out[r.MessageID] == nil {
			out[r.MessageID] = map[string]int{}
		}
		out[r.MessageID][r.Emoji] = r.N
	}
	return out, nil
}
