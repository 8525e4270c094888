// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate query behind the weak
// ETag of a chat's message history.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// MessagesStats fingerprints the visible history of chatID: the number of
// live messages, reactions and read receipts, and the latest timestamp
// among them. Sends, edits, deletes, reactions and reads all move at least
// one of the two values. maxTS is nil for an untouched chat.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (count int64, maxTS *time.Time, err error) {
	live := db.WithContext(ctx).Model(&domain.Message{}).Select("id").Where("chat_id = ?", chatID)

	parts := []struct {
		q   func() *gorm.DB
		col string
	}{
		{func() *gorm.DB {
			return db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID)
		}, "updated_at"},
		{func() *gorm.DB {
			return db.WithContext(ctx).Model(&domain.Reaction{}).Where("message_id IN (?)", live)
		}, "created_at"},
		{func() *gorm.DB {
			return db.WithContext(ctx).Model(&domain.MessageRead{}).Where("message_id IN (?)", live)
		}, "read_at"},
	}

	for _, p := range parts {
		var n int64
		if err = p.q().Count(&n).Error; err != nil {
			return 0, nil, err
		}
		if n == 0 {
			continue
		}
		count += n
		ts, err := latest(p.q(), p.col)
		if err != nil {
			return 0, nil, err
		}
		if maxTS == nil || ts.After(*maxTS) {
			maxTS = &ts
		}
	}
	return count, maxTS, nil
}

// latest scans the greatest value of col. An ordered scan is used instead
// of MAX() because SQLite returns MAX() over datetimes as TEXT.
func latest(q *gorm.DB, col string) (time.Time, error) {
	var row struct{ TS time.Time }
	err := q.Select(col + " AS ts").Order(col + " DESC").Limit(1).Scan(&row).Error
	return row.TS, err
}
