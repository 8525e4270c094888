package domain

import "time"

// UserSummary is the public projection of a user embedded in other views.
type UserSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ReplyView is the one-level projection of a replied-to message. It carries
// no reply of its own, so the tree is never expanded recursively.
type ReplyView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageView is the transfer representation of a Message.
// Reactions are grouped as emoji -> count.
type MessageView struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	Content     string         `json:"content"`
	Sender      UserSummary    `json:"sender"`
	ReplyTo     *ReplyView     `json:"reply_to,omitempty"`
	Attachments []Attachment   `json:"attachments"`
	Reactions   map[string]int `json:"reactions"`
	ReadBy      []string       `json:"read_by"`
	Edited      bool           `json:"edited"`
	EditedAt    *time.Time     `json:"edited_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ChatView decorates a chat with its members, newest message and the
// caller's unread count.
type ChatView struct {
	Chat
	Members     []string     `json:"members"`
	LastMessage *MessageView `json:"last_message,omitempty"`
	UnreadCount int64        `json:"unread_count"`
}

// Page is one slice of an ordered result set. Page numbers are 0-based.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// NewPage assembles a Page and derives TotalPages and HasNext.
func NewPage[T any](items []T, page, size int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}
	return Page[T]{
		Items:      items,
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page+1 < totalPages,
	}
}
