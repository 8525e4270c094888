package domain

import "time"

// Idempotency remembers which message a submission produced, keyed by
// (user_id, chat_id, key). A retried POST carrying the same Idempotency-Key
// is answered with the stored message instead of creating and fanning out a
// duplicate. Column types stay portable between SQLite and Postgres.
type Idempotency struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_user_chat_key,priority:1"`
	ChatID    string    `json:"chat_id"    gorm:"type:char(36);not null;uniqueIndex:ux_user_chat_key,priority:2"`
	Key       string    `json:"key"        gorm:"type:varchar(200);not null;uniqueIndex:ux_user_chat_key,priority:3"`
	MessageID string    `json:"message_id" gorm:"type:char(36);not null"`
	Status    int       `json:"status"     gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index:idx_idempotency_expires"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Expired reports whether the record is no longer replayable at now.
func (i Idempotency) Expired(now time.Time) bool { return !i.ExpiresAt.After(now) }

// Replayable reports whether the record still answers for key at now.
func (i Idempotency) Replayable(key string, now time.Time) bool {
	return i.Key == key && i.MessageID != "" && !i.Expired(now)
}
