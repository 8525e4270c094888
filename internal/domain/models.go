// Package domain defines the persistence models for users, chats, messages,
// reactions, read receipts, attachments and notifications. These types are
// mapped with GORM and form the data layer of the real-time chat server.
package domain

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
)

// ChatType classifies a conversation.
type ChatType string

const (
	ChatDirect  ChatType = "DIRECT"
	ChatGroup   ChatType = "GROUP"
	ChatChannel ChatType = "CHANNEL"
)

// Valid reports whether t is one of the known chat types.
func (t ChatType) Valid() bool {
	switch t {
	case ChatDirect, ChatGroup, ChatChannel:
		return true
	}
	return false
}

// Presence statuses stored on User.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User is the thin identity record the chat core reads sender profiles from.
// Status and LastActiveAt are written on connect/disconnect transitions.
type User struct {
	ID           string     `json:"id"             gorm:"type:varchar(64);primaryKey"`
	Username     string     `json:"username"       gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	DisplayName  string     `json:"display_name"   gorm:"type:varchar(128)"`
	AvatarURL    string     `json:"avatar_url"     gorm:"type:varchar(512)"`
	Status       string     `json:"status"         gorm:"type:varchar(16);not null;default:'offline'"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat is a conversation with a member set.
//
// Fields:
//   - Type: DIRECT, GROUP or CHANNEL.
//   - CreatorID: user that created the chat; only the creator may edit or delete it.
//   - DirectKey: sorted "a:b" pair for DIRECT chats. The unique index makes
//     "at most one direct chat per unordered pair" a storage guarantee. It is
//     cleared when the chat is deleted so the pair can start over.
//   - DeletedAt: soft deletion marker.
type Chat struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string         `json:"name"        gorm:"type:varchar(255);not null;default:''"`
	Description string         `json:"description" gorm:"type:text"`
	AvatarURL   string         `json:"avatar_url"  gorm:"type:varchar(512)"`
	Type        ChatType       `json:"type"        gorm:"type:varchar(16);not null;check:type IN ('DIRECT','GROUP','CHANNEL')"`
	CreatorID   string         `json:"creator_id"  gorm:"type:varchar(64);not null;index:idx_chats_creator"`
	DirectKey   *string        `json:"-"           gorm:"type:varchar(140);uniqueIndex:ux_chats_direct_key"`
	NameFolded  string         `json:"-"           gorm:"type:varchar(255);not null;default:''"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`

	Members []ChatMember `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// BeforeSave keeps the search column in step with Name.
func (c *Chat) BeforeSave(*gorm.DB) error {
	c.NameFolded = Fold(c.Name)
	return nil
}

// DirectKey returns the canonical key for the unordered pair (a, b).
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// ChatMember links a user to a chat. The composite primary key keeps the
// member set unique by user id.
type ChatMember struct {
	ChatID   string    `json:"chat_id"   gorm:"type:char(36);primaryKey"`
	UserID   string    `json:"user_id"   gorm:"type:varchar(64);primaryKey;index:idx_members_user"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

// TableName returns the database table name for ChatMember.
func (ChatMember) TableName() string { return "chat_members" }

// Message is a single post within a chat.
//
// ReplyToID references another message by id only; replies are resolved
// through the store, never through an owned pointer.
//
// Deletion is soft: Deleted is set together with DeletedAt, and every read
// path filters the row out.
type Message struct {
	ID        string         `json:"id"          gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"     gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	SenderID  string         `json:"sender_id"   gorm:"type:varchar(64);not null;index"`
	Content   string         `json:"content"     gorm:"type:text;not null"`
	Folded    string         `json:"-"           gorm:"column:content_folded;type:text;not null;default:''"`
	ReplyToID *string        `json:"reply_to_id,omitempty" gorm:"type:char(36);index"`
	Edited    bool           `json:"edited"      gorm:"not null;default:false"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	Deleted   bool           `json:"deleted"     gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"created_at"  gorm:"index:idx_chat_msgs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"           gorm:"index"`

	Chat        Chat         `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Attachments []Attachment `json:"attachments,omitempty" gorm:"many2many:message_attachments;constraint:OnDelete:CASCADE"`
}

// BeforeSave keeps the search column in step with Content.
func (m *Message) BeforeSave(*gorm.DB) error {
	m.Folded = Fold(m.Content)
	return nil
}

// Fold returns s Unicode case-folded, the form stored in search columns.
func Fold(s string) string { return cases.Fold().String(s) }

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MessageRead records that UserID has seen MessageID. Rows are only ever
// inserted, so a message's reader set grows monotonically.
type MessageRead struct {
	MessageID string    `json:"message_id" gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	ReadAt    time.Time `json:"read_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for MessageRead.
func (MessageRead) TableName() string { return "message_reads" }

// Reaction is an emoji left by a user on a message. A (message, user, emoji)
// triple is unique.
type Reaction struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	MessageID string    `json:"message_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_reaction_msg_user_emoji,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_msg_user_emoji,priority:2"`
	Emoji     string    `json:"emoji"      gorm:"type:varchar(64);not null;uniqueIndex:ux_reaction_msg_user_emoji,priority:3"`
	Name      string    `json:"name"       gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Reaction.
func (Reaction) TableName() string { return "reactions" }

// AttachmentKind is the coarse media class of an attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "IMAGE"
	AttachmentVideo    AttachmentKind = "VIDEO"
	AttachmentAudio    AttachmentKind = "AUDIO"
	AttachmentDocument AttachmentKind = "DOCUMENT"
	AttachmentOther    AttachmentKind = "OTHER"
)

// KindFromMIME derives an AttachmentKind from a MIME type.
func KindFromMIME(mime string) AttachmentKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mime, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(mime, "audio/"):
		return AttachmentAudio
	case strings.HasPrefix(mime, "text/"),
		mime == "application/pdf",
		strings.Contains(mime, "document"),
		strings.Contains(mime, "msword"),
		strings.Contains(mime, "spreadsheet"),
		strings.Contains(mime, "presentation"):
		return AttachmentDocument
	}
	return AttachmentOther
}

// Attachment is file metadata. Binary content lives in external storage
// referenced by URL.
type Attachment struct {
	ID           string         `json:"id"            gorm:"type:char(36);primaryKey"`
	FileName     string         `json:"file_name"     gorm:"type:varchar(255);not null"`
	FileType     string         `json:"file_type"     gorm:"type:varchar(128);not null"`
	URL          string         `json:"url"           gorm:"type:varchar(1024);not null"`
	Size         int64          `json:"size"          gorm:"not null;default:0"`
	Kind         AttachmentKind `json:"kind"          gorm:"type:varchar(16);not null"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty" gorm:"type:varchar(1024)"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Attachment.
func (Attachment) TableName() string { return "attachments" }

// NotificationType enumerates notification categories.
type NotificationType string

const (
	NotifyMessage         NotificationType = "MESSAGE"
	NotifyFriendRequest   NotificationType = "FRIEND_REQUEST"
	NotifyFriendAccept    NotificationType = "FRIEND_ACCEPT"
	NotifyGroupInvitation NotificationType = "GROUP_INVITATION"
	NotifyGroupJoin       NotificationType = "GROUP_JOIN"
	NotifyMention         NotificationType = "MENTION"
	NotifyReaction        NotificationType = "REACTION"
	NotifySystem          NotificationType = "SYSTEM"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotifyMessage, NotifyFriendRequest, NotifyFriendAccept, NotifyGroupInvitation,
		NotifyGroupJoin, NotifyMention, NotifyReaction, NotifySystem:
		return true
	}
	return false
}

// Notification is an unread-until-acknowledged record addressed to UserID.
// Related* fields are optional and set only when the referenced entity
// existed at creation time.
type Notification struct {
	ID               string           `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID           string           `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_notifs,priority:1"`
	Type             NotificationType `json:"type"       gorm:"type:varchar(32);not null"`
	Title            string           `json:"title"      gorm:"type:varchar(255);not null"`
	Content          string           `json:"content"    gorm:"type:text"`
	RelatedUserID    *string          `json:"related_user_id,omitempty"    gorm:"type:varchar(64)"`
	RelatedChatID    *string          `json:"related_chat_id,omitempty"    gorm:"type:char(36)"`
	RelatedMessageID *string          `json:"related_message_id,omitempty" gorm:"type:char(36)"`
	Read             bool             `json:"read"       gorm:"column:is_read;not null;default:false"`
	ReadAt           *time.Time       `json:"read_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at" gorm:"index:idx_user_notifs,priority:2"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
