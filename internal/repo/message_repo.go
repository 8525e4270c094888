// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// CreateMessage inserts m. ID and CreatedAt are assigned here so the stored
// timestamp is the persistence time.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	return db.WithContext(ctx).Omit("Chat", "Attachments").Create(m).Error
}

// GetMessage fetches a live message with its attachments, or ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Preload("Attachments").
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageInChat fetches a live message by id only if it belongs to chatID.
func GetMessageInChat(ctx context.Context, db *gorm.DB, chatID, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND chat_id = ?", id, chatID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessagesByID loads live messages keyed by id. Missing ids are absent.
func GetMessagesByID(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.Message, error) {
	out := make(map[string]domain.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.Message
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, m := range rows {
		out[m.ID] = m
	}
	return out, nil
}

// UpdateMessageContent rewrites the content and marks the message edited.
// It returns ErrNotFound when no live message matches.
func UpdateMessageContent(ctx context.Context, db *gorm.DB, id, content string, editedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"content":        content,
			"content_folded": domain.Fold(content),
			"edited":         true,
			"edited_at":      editedAt,
			"updated_at":     editedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDeleteMessage sets the deleted flag and the GORM deletion marker in one
// transaction. It returns ErrNotFound when no live message matches.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Message{}).Where("id = ?", id).Update("deleted", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("id = ?", id).Delete(&domain.Message{}).Error
	})
}

// CountMessages returns the number of live messages in chatID.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a slice ordered newest first (CreatedAt DESC, ID DESC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Preload("Attachments").
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LastMessage returns the newest live message in chatID, or ErrNotFound.
func LastMessage(ctx context.Context, db *gorm.DB, chatID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Preload("Attachments").
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountUnread counts live messages in chatID not written by userID that
// userID has no read receipt for.
func CountUnread(ctx context.Context, db *gorm.DB, chatID, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ? AND sender_id <> ?", chatID, userID).
		Where("NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = messages.id AND r.user_id = ?)", userID).
		Count(&n).Error
	return n, err
}

// SearchMessages returns live messages in chatIDs whose content contains q
// under Unicode case folding, newest first, capped at limit (0 = uncapped).
func SearchMessages(ctx context.Context, db *gorm.DB, chatIDs []string, q string, limit int) ([]domain.Message, error) {
	if len(chatIDs) == 0 {
		return []domain.Message{}, nil
	}
	var out []domain.Message
	tx := db.WithContext(ctx).
		Preload("Attachments").
		Where("chat_id IN ?", chatIDs).
		Where("content_folded LIKE ? ESCAPE '\\'", likePattern(q)).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&out).Error
	return out, err
}

// AddAttachment creates a, links it to messageID and bumps the message's
// updated_at so history fingerprints change.
func AddAttachment(ctx context.Context, db *gorm.DB, messageID string, a *domain.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = domain.KindFromMIME(a.FileType)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		if err := tx.Exec("INSERT INTO message_attachments (message_id, attachment_id) VALUES (?, ?)", messageID, a.ID).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Message{}).Where("id = ?", messageID).Update("updated_at", time.Now().UTC()).Error
	})
}
