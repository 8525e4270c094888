// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model
// and its member set.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts c together with its initial members in one transaction.
// The creator does not need to be listed in memberIDs; it is always added.
func CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat, memberIDs []string) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(c).Error; err != nil {
			return err
		}
		seen := map[string]struct{}{}
		for _, uid := range append([]string{c.CreatorID}, memberIDs...) {
			uid = strings.TrimSpace(uid)
			if uid == "" {
				continue
			}
			if _, dup := seen[uid]; dup {
				continue
			}
			seen[uid] = struct{}{}
			if err := AddMember(ctx, tx, c.ID, uid); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChat fetches a live (not soft-deleted) chat by id, or ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindDirectChat returns the direct chat for the canonical pair key, or
// ErrNotFound.
func FindDirectChat(ctx context.Context, db *gorm.DB, key string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("type = ? AND direct_key = ?", domain.ChatDirect, key).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatsForUser returns every chat userID belongs to, most recently
// updated first.
func ListChatsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id").
		Where("chat_members.user_id = ?", userID).
		Order("chats.updated_at DESC, chats.id ASC").
		Find(&out).Error
	return out, err
}

// ListChatIDsForUser returns the ids of every live chat userID belongs to.
func ListChatIDsForUser(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id").
		Where("chat_members.user_id = ?", userID).
		Pluck("chats.id", &ids).Error
	return ids, err
}

// SearchChats returns chats of userID whose name contains q under Unicode
// case folding.
func SearchChats(ctx context.Context, db *gorm.DB, userID, q string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.chat_id = chats.id").
		Where("chat_members.user_id = ?", userID).
		Where("chats.name_folded LIKE ? ESCAPE '\\'", likePattern(q)).
		Order("chats.name ASC").
		Find(&out).Error
	return out, err
}

// UpdateChat applies the non-nil fields of u. It returns ErrNotFound when
// the chat does not exist.
func UpdateChat(ctx context.Context, db *gorm.DB, id string, u domain.ChatUpdate) error {
	fields := map[string]any{"updated_at": time.Now().UTC()}
	if u.Name != nil {
		fields["name"] = *u.Name
		fields["name_folded"] = domain.Fold(*u.Name)
	}
	if u.Description != nil {
		fields["description"] = *u.Description
	}
	if u.AvatarURL != nil {
		fields["avatar_url"] = *u.AvatarURL
	}
	res := db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchChat bumps updated_at so chat lists and ETags reflect new activity.
func TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", id).Update("updated_at", at).Error
}

// DeleteChat soft-deletes a chat. The direct key is released first so the
// same pair can open a new direct chat later.
func DeleteChat(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Chat{}).Where("id = ?", id).Update("direct_key", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// AddMember inserts (chatID, userID). Adding an existing member is a no-op.
func AddMember(ctx context.Context, db *gorm.DB, chatID, userID string) error {
	m := &domain.ChatMember{ChatID: chatID, UserID: userID, JoinedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

// RemoveMember deletes (chatID, userID) and reports whether a row existed.
func RemoveMember(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error) {
	res := db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&domain.ChatMember{})
	return res.RowsAffected > 0, res.Error
}

// IsMember reports whether userID currently belongs to chatID.
func IsMember(ctx context.Context, db *gorm.DB, chatID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListMemberIDs returns the members of chatID in join order.
func ListMemberIDs(ctx context.Context, db *gorm.DB, chatID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// likePattern folds q and escapes LIKE wildcards so user input is matched
// literally as a substring of a folded column.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(domain.Fold(q)) + "%"
}
