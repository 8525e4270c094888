// Package services – MessageService
//
// This file implements MessageService, the message pipeline. It validates
// and persists submitted messages, applies edits and soft deletes, records
// read receipts and reactions, and projects stored messages into their
// transfer representation (domain.MessageView).
//
// MessageService never checks membership or authorship: the caller decides
// who may act, MessageService only carries it out.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include chat/message/user identifiers where applicable.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/search"
	"github.com/tbourn/go-chat-realtime/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxContentRunes caps message content when MaxContentRunes is unset.
	DefaultMaxContentRunes = 4000
	// DefaultSearchLimit caps the candidates pulled from the store per search.
	DefaultSearchLimit = 100
	maxEmojiRunes      = 32
)

// MessageService is the message pipeline.
type MessageService struct {
	DB *gorm.DB

	// Ranker orders search hits. Nil keeps the store order (newest first).
	Ranker *search.Ranker

	// Optional guards
	MaxContentRunes int
	SearchLimit     int
}

func (s *MessageService) tracer() trace.Tracer { return otel.Tracer("services/MessageService") }

func (s *MessageService) maxRunes() int {
	if s.MaxContentRunes > 0 {
		return s.MaxContentRunes
	}
	return DefaultMaxContentRunes
}

// validateContent trims content and enforces the length rules.
func (s *MessageService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxRunes() {
		return "", ErrContentTooLong
	}
	return content, nil
}

// Create validates content and persists a new message from senderID in
// chatID. A replyToID that does not resolve to a live message of the same
// chat is dropped silently. Membership is not checked here.
func (s *MessageService) Create(ctx context.Context, senderID, chatID, content string, replyToID *string) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	ok, err := repo.UserExists(ctx, s.DB, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	if _, err := repo.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	m := &domain.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	}
	if replyToID != nil && strings.TrimSpace(*replyToID) != "" {
		parent, err := repo.GetMessageInChat(ctx, s.DB, chatID, strings.TrimSpace(*replyToID))
		switch {
		case err == nil:
			m.ReplyToID = &parent.ID
		case errors.Is(err, repo.ErrNotFound):
			span.SetAttributes(attribute.Bool("reply.dropped", true))
		default:
			return nil, err
		}
	}

	if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a live message or ErrMessageNotFound.
func (s *MessageService) Get(ctx context.Context, id string) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "Get",
		trace.WithAttributes(attribute.String("message.id", id)),
	)
	defer span.End()

	m, err := repo.GetMessage(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return m, err
}

// Edit replaces the content and marks the message edited.
func (s *MessageService) Edit(ctx context.Context, id string, u domain.MessageUpdate) (*domain.Message, error) {
	ctx, span := s.tracer().Start(ctx, "Edit",
		trace.WithAttributes(attribute.String("message.id", id)),
	)
	defer span.End()

	content, err := s.validateContent(u.Content)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateMessageContent(ctx, s.DB, id, content, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete soft-deletes the message. Reads stop returning it; reactions and
// receipts stay attached to the retained row.
func (s *MessageService) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("message.id", id)),
	)
	defer span.End()

	err := repo.SoftDeleteMessage(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// MarkRead records that userID has read messageID. Repeating it is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, messageID, userID string) (time.Time, error) {
	ctx, span := s.tracer().Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.Get(ctx, messageID); err != nil {
		return time.Time{}, err
	}
	at := time.Now().UTC()
	if err := repo.MarkRead(ctx, s.DB, messageID, userID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// AddReaction replaces any (message, user, emoji) reaction with a fresh one.
// Adding the same emoji twice leaves exactly one reaction.
func (s *MessageService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Reaction, error) {
	ctx, span := s.tracer().Start(ctx, "AddReaction",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, messageID); err != nil {
		return nil, err
	}

	r, err := repo.ReplaceReaction(ctx, s.DB, messageID, userID, emoji, emoji)
	if err != nil && repo.IsDuplicate(err) {
		// A concurrent add won the insert; replace once more so the caller
		// ends up with its own row.
		r, err = repo.ReplaceReaction(ctx, s.DB, messageID, userID, emoji, emoji)
	}
	return r, err
}

// RemoveReaction deletes every (message, user, emoji) reaction. Removing a
// reaction that does not exist succeeds.
func (s *MessageService) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	ctx, span := s.tracer().Start(ctx, "RemoveReaction",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return err
	}
	_, err = repo.DeleteReactions(ctx, s.DB, messageID, userID, emoji)
	return err
}

// Reactions returns the emoji counts of one message.
func (s *MessageService) Reactions(ctx context.Context, messageID string) (map[string]int, error) {
	counts, err := repo.ReactionCounts(ctx, s.DB, []string{messageID})
	if err != nil {
		return nil, err
	}
	if c, ok := counts[messageID]; ok {
		return c, nil
	}
	return map[string]int{}, nil
}

func normalizeEmoji(e string) (string, error) {
	e = strings.TrimSpace(e)
	if e == "" || utf8.RuneCountInString(e) > maxEmojiRunes {
		return "", ErrInvalidEmoji
	}
	return e, nil
}

// AttachmentInput is the metadata of an already stored file.
type AttachmentInput struct {
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// AddAttachment links attachment metadata to a message. The kind is derived
// from the MIME type.
func (s *MessageService) AddAttachment(ctx context.Context, messageID string, in AttachmentInput) (*domain.Attachment, error) {
	ctx, span := s.tracer().Start(ctx, "AddAttachment",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	if strings.TrimSpace(in.FileName) == "" || strings.TrimSpace(in.URL) == "" {
		return nil, fmt.Errorf("file_name and url are required: %w", ErrValidation)
	}
	if _, err := s.Get(ctx, messageID); err != nil {
		return nil, err
	}
	a := &domain.Attachment{
		FileName:     strings.TrimSpace(in.FileName),
		FileType:     strings.TrimSpace(in.FileType),
		URL:          strings.TrimSpace(in.URL),
		Size:         in.Size,
		ThumbnailURL: strings.TrimSpace(in.ThumbnailURL),
	}
	if err := repo.AddAttachment(ctx, s.DB, messageID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListPage returns one 0-based page of a chat's messages, newest first.
// page and pageSize are not clamped; an offset that cannot be represented
// is ErrInvalidPage.
func (s *MessageService) ListPage(ctx context.Context, chatID string, page, pageSize int) (domain.Page[domain.MessageView], error) {
	ctx, span := s.tracer().Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if !utils.PageInRange(page, pageSize) {
		return domain.Page[domain.MessageView]{}, ErrInvalidPage
	}
	if _, err := repo.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Page[domain.MessageView]{}, ErrChatNotFound
		}
		return domain.Page[domain.MessageView]{}, err
	}

	total, err := repo.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return domain.Page[domain.MessageView]{}, err
	}
	if total == 0 {
		return domain.NewPage[domain.MessageView](nil, page, pageSize, 0), nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, chatID, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return domain.Page[domain.MessageView]{}, err
	}
	views, err := s.ToViews(ctx, items)
	if err != nil {
		return domain.Page[domain.MessageView]{}, err
	}
	return domain.NewPage(views, page, pageSize, total), nil
}

// Search returns messages whose content contains query, case-insensitively.
// A non-empty chatID scopes the search to that chat (membership must be
// checked by the caller); otherwise every chat userID belongs to is searched.
func (s *MessageService) Search(ctx context.Context, query, chatID, userID string) ([]domain.MessageView, error) {
	ctx, span := s.tracer().Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var chatIDs []string
	if chatID != "" {
		chatIDs = []string{chatID}
	} else {
		ids, err := repo.ListChatIDsForUser(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		chatIDs = ids
	}

	limit := s.SearchLimit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	msgs, err := repo.SearchMessages(ctx, s.DB, chatIDs, query, limit)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("hits", len(msgs)))

	if s.Ranker != nil && len(msgs) > 1 {
		msgs = s.rank(query, msgs)
	}
	return s.ToViews(ctx, msgs)
}

func (s *MessageService) rank(query string, msgs []domain.Message) []domain.Message {
	docs := make([]search.Doc, len(msgs))
	byID := make(map[string]domain.Message, len(msgs))
	for i, m := range msgs {
		docs[i] = search.Doc{ID: m.ID, Text: m.Content, At: m.CreatedAt}
		byID[m.ID] = m
	}
	hits := s.Ranker.Rank(query, docs)
	out := make([]domain.Message, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.ID])
	}
	return out
}

// UnreadCount counts messages in chatID that userID did not write and has
// not read.
func (s *MessageService) UnreadCount(ctx context.Context, chatID, userID string) (int64, error) {
	return repo.CountUnread(ctx, s.DB, chatID, userID)
}

// LastMessage returns the newest live message of chatID, or nil.
func (s *MessageService) LastMessage(ctx context.Context, chatID string) (*domain.MessageView, error) {
	m, err := repo.LastMessage(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := s.ToView(ctx, m)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ToView projects one message. See ToViews.
func (s *MessageService) ToView(ctx context.Context, m *domain.Message) (domain.MessageView, error) {
	views, err := s.ToViews(ctx, []domain.Message{*m})
	if err != nil {
		return domain.MessageView{}, err
	}
	return views[0], nil
}

// ToViews projects messages into their transfer form, preserving order.
// Senders, reply targets, readers and reaction counts are loaded in one
// query each. A reply target is flattened to a single level and omitted
// when it has since been deleted.
func (s *MessageService) ToViews(ctx context.Context, msgs []domain.Message) ([]domain.MessageView, error) {
	if len(msgs) == 0 {
		return []domain.MessageView{}, nil
	}
	ctx, span := s.tracer().Start(ctx, "ToViews",
		trace.WithAttributes(attribute.Int("messages", len(msgs))),
	)
	defer span.End()

	ids := make([]string, 0, len(msgs))
	senderIDs := make([]string, 0, len(msgs))
	var replyIDs []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
		senderIDs = append(senderIDs, m.SenderID)
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	users, err := repo.GetUsersByID(ctx, s.DB, dedupe(senderIDs))
	if err != nil {
		return nil, err
	}
	parents, err := repo.GetMessagesByID(ctx, s.DB, dedupe(replyIDs))
	if err != nil {
		return nil, err
	}
	readers, err := repo.ReadersOf(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	reactions, err := repo.ReactionCounts(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.MessageView, len(msgs))
	for i, m := range msgs {
		v := domain.MessageView{
			ID:          m.ID,
			ChatID:      m.ChatID,
			Content:     m.Content,
			Sender:      summarize(m.SenderID, users),
			Attachments: m.Attachments,
			Reactions:   reactions[m.ID],
			ReadBy:      readers[m.ID],
			Edited:      m.Edited,
			EditedAt:    m.EditedAt,
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		}
		if m.ReplyToID != nil {
			if p, ok := parents[*m.ReplyToID]; ok {
				v.ReplyTo = &domain.ReplyView{
					ID:        p.ID,
					Content:   p.Content,
					SenderID:  p.SenderID,
					CreatedAt: p.CreatedAt,
				}
			}
		}
		if v.Attachments == nil {
			v.Attachments = []domain.Attachment{}
		}
		if v.Reactions == nil {
			v.Reactions = map[string]int{}
		}
		if v.ReadBy == nil {
			v.ReadBy = []string{}
		}
		out[i] = v
	}
	return out, nil
}

func summarize(id string, users map[string]domain.User) domain.UserSummary {
	u, ok := users[id]
	if !ok {
		return domain.UserSummary{ID: id}
	}
	return domain.UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
