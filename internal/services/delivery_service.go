// Package services – DeliveryService
//
// DeliveryService is the boundary the transports call. It authorizes the
// caller, runs the message pipeline, and only after the write has committed
// hands the result to the fan-out router and the notification side effects.
//
// Anything that fails after the commit is logged and counted but never
// returned: the message is durable and shows up on the next history load.
package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/utils"
)

// DefaultMaxPageSize bounds ListMessages when MaxPageSize is unset.
const DefaultMaxPageSize = 100

const previewRunes = 100

// postCommitFailures counts best-effort steps that failed after a write.
var postCommitFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_post_commit_failures_total",
		Help: "Best-effort steps that failed after the authoritative write.",
	},
	[]string{"step"},
)

func init() {
	prometheus.MustRegister(postCommitFailures)
}

// DeliveryService wires the pipeline to the real-time layer.
type DeliveryService struct {
	DB            *gorm.DB
	Guard         *MembershipGuard
	Messages      *MessageService
	Notifications *NotificationService
	Users         *UserService
	Router        *realtime.Router

	// MaxPageSize bounds the page size accepted by ListMessages.
	MaxPageSize int

	presenceMu [presenceStripes]sync.Mutex
}

const presenceStripes = 64

// NewDeliveryService builds a DeliveryService sharing db across its parts.
func NewDeliveryService(db *gorm.DB, messages *MessageService, notifications *NotificationService, router *realtime.Router) *DeliveryService {
	return &DeliveryService{
		DB:            db,
		Guard:         &MembershipGuard{DB: db},
		Messages:      messages,
		Notifications: notifications,
		Users:         &UserService{DB: db},
		Router:        router,
		MaxPageSize:   DefaultMaxPageSize,
	}
}

func (s *DeliveryService) tracer() trace.Tracer { return otel.Tracer("services/DeliveryService") }

// bestEffort logs and counts a post-commit failure.
func bestEffort(step string, err error, fields map[string]any) {
	if err == nil {
		return
	}
	postCommitFailures.WithLabelValues(step).Inc()
	log.Warn().Err(err).Fields(fields).Str("step", step).Msg("post-commit step failed")
}

// SubmitMessage persists a message from senderID and fans it out. Members
// that are offline get a private copy and a MESSAGE notification.
func (s *DeliveryService) SubmitMessage(ctx context.Context, chatID, senderID, content string, replyToID *string) (domain.MessageView, error) {
	ctx, span := s.tracer().Start(ctx, "SubmitMessage",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	if err := s.Guard.RequireMember(ctx, senderID, chatID); err != nil {
		return domain.MessageView{}, err
	}
	m, err := s.Messages.Create(ctx, senderID, chatID, content, replyToID)
	if err != nil {
		return domain.MessageView{}, err
	}

	// Committed. Nothing below may fail the submission.
	view, err := s.Messages.ToView(ctx, m)
	if err != nil {
		bestEffort("project", err, map[string]any{"message_id": m.ID})
		view = domain.MessageView{
			ID: m.ID, ChatID: m.ChatID, Content: m.Content,
			Sender:      domain.UserSummary{ID: m.SenderID},
			Attachments: []domain.Attachment{}, Reactions: map[string]int{}, ReadBy: []string{},
			CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		}
	}
	bestEffort("touch_chat", repo.TouchChat(ctx, s.DB, chatID, m.CreatedAt), map[string]any{"chat_id": chatID})

	members, err := repo.ListMemberIDs(ctx, s.DB, chatID)
	if err != nil {
		bestEffort("members", err, map[string]any{"chat_id": chatID})
		return view, nil
	}
	d := s.Router.BroadcastMessage(ctx, members, view, senderID)
	span.SetAttributes(
		attribute.Int("fanout.shared", d.Shared),
		attribute.Int("fanout.private", len(d.Private)),
	)

	for _, uid := range d.Private {
		s.notify(ctx, NotificationInput{
			UserID:           uid,
			Type:             domain.NotifyMessage,
			Title:            "New message from " + senderName(view.Sender),
			Content:          preview(view.Content),
			RelatedUserID:    &m.SenderID,
			RelatedChatID:    &m.ChatID,
			RelatedMessageID: &m.ID,
		})
	}
	return view, nil
}

// GetMessage returns one message for userID, who must be a member of its chat.
func (s *DeliveryService) GetMessage(ctx context.Context, userID, messageID string) (domain.MessageView, error) {
	m, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		return domain.MessageView{}, err
	}
	if err := s.Guard.RequireMember(ctx, userID, m.ChatID); err != nil {
		return domain.MessageView{}, err
	}
	return s.Messages.ToView(ctx, m)
}

// EditMessage lets the author change a message's content.
func (s *DeliveryService) EditMessage(ctx context.Context, userID, messageID string, u domain.MessageUpdate) (domain.MessageView, error) {
	ctx, span := s.tracer().Start(ctx, "EditMessage",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return domain.MessageView{}, err
	}
	m, err = s.Messages.Edit(ctx, m.ID, u)
	if err != nil {
		return domain.MessageView{}, err
	}
	view, err := s.Messages.ToView(ctx, m)
	if err != nil {
		return domain.MessageView{}, err
	}
	s.Router.BroadcastMessageUpdated(ctx, view)
	return view, nil
}

// DeleteMessage lets the author delete a message.
func (s *DeliveryService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	ctx, span := s.tracer().Start(ctx, "DeleteMessage",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.Messages.Delete(ctx, m.ID); err != nil {
		return err
	}
	s.Router.BroadcastMessageDeleted(ctx, m.ChatID, m.ID)
	return nil
}

// authored loads messageID and checks that userID wrote it and is still a
// member of its chat.
func (s *DeliveryService) authored(ctx context.Context, userID, messageID string) (*domain.Message, error) {
	m, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.RequireMember(ctx, userID, m.ChatID); err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, ErrForbidden
	}
	return m, nil
}

// MarkRead records a read receipt and tells the chat. An empty chatID is
// taken from the message; a non-empty one must match it.
func (s *DeliveryService) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	ctx, span := s.tracer().Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if chatID != "" && m.ChatID != chatID {
		return ErrMessageNotFound
	}
	if err := s.Guard.RequireMember(ctx, userID, m.ChatID); err != nil {
		return err
	}
	at, err := s.Messages.MarkRead(ctx, m.ID, userID)
	if err != nil {
		return err
	}
	s.Router.BroadcastReadReceipt(ctx, m.ChatID, m.ID, userID, at)
	return nil
}

// AddReaction adds userID's emoji to a message, broadcasts the new counts
// and notifies the author.
func (s *DeliveryService) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Reaction, error) {
	ctx, span := s.tracer().Start(ctx, "AddReaction",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.RequireMember(ctx, userID, m.ChatID); err != nil {
		return nil, err
	}
	r, err := s.Messages.AddReaction(ctx, m.ID, userID, emoji)
	if err != nil {
		return nil, err
	}
	s.broadcastReactions(ctx, m)

	if m.SenderID != userID {
		s.notify(ctx, NotificationInput{
			UserID:           m.SenderID,
			Type:             domain.NotifyReaction,
			Title:            "New reaction " + r.Emoji,
			Content:          preview(m.Content),
			RelatedUserID:    &userID,
			RelatedChatID:    &m.ChatID,
			RelatedMessageID: &m.ID,
		})
	}
	return r, nil
}

// RemoveReaction removes userID's emoji from a message and broadcasts the
// new counts. Removing an absent reaction succeeds.
func (s *DeliveryService) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	ctx, span := s.tracer().Start(ctx, "RemoveReaction",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	m, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.Guard.RequireMember(ctx, userID, m.ChatID); err != nil {
		return err
	}
	if err := s.Messages.RemoveReaction(ctx, m.ID, userID, emoji); err != nil {
		return err
	}
	s.broadcastReactions(ctx, m)
	return nil
}

func (s *DeliveryService) broadcastReactions(ctx context.Context, m *domain.Message) {
	counts, err := s.Messages.Reactions(ctx, m.ID)
	if err != nil {
		bestEffort("reaction_counts", err, map[string]any{"message_id": m.ID})
		return
	}
	s.Router.BroadcastReactions(ctx, m.ChatID, m.ID, counts)
}

// AddAttachment links attachment metadata to a message written by userID.
func (s *DeliveryService) AddAttachment(ctx context.Context, userID, messageID string, in AttachmentInput) (*domain.Attachment, error) {
	m, err := s.authored(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	a, err := s.Messages.AddAttachment(ctx, m.ID, in)
	if err != nil {
		return nil, err
	}
	if view, verr := s.Messages.ToView(ctx, m); verr == nil {
		view.Attachments = append(view.Attachments, *a)
		s.Router.BroadcastMessageUpdated(ctx, view)
	}
	return a, nil
}

// ListMessages returns a 0-based page of chatID's history for userID. Page
// parameters are validated here: page >= 0 and 1 <= pageSize <= MaxPageSize.
func (s *DeliveryService) ListMessages(ctx context.Context, chatID, userID string, page, pageSize int) (domain.Page[domain.MessageView], error) {
	ctx, span := s.tracer().Start(ctx, "ListMessages",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	maxSize := s.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	if !utils.PageInRange(page, pageSize) || pageSize > maxSize {
		return domain.Page[domain.MessageView]{}, ErrInvalidPage
	}
	if err := s.Guard.RequireMember(ctx, userID, chatID); err != nil {
		return domain.Page[domain.MessageView]{}, err
	}
	return s.Messages.ListPage(ctx, chatID, page, pageSize)
}

// SearchMessages searches one chat (chatID set, caller must be a member) or
// every chat of userID.
func (s *DeliveryService) SearchMessages(ctx context.Context, userID, query, chatID string) ([]domain.MessageView, error) {
	if chatID != "" {
		if err := s.Guard.RequireMember(ctx, userID, chatID); err != nil {
			return nil, err
		}
	}
	return s.Messages.Search(ctx, query, chatID, userID)
}

// Typing publishes a throttled typing indicator for a member. The bool is
// false when the throttle suppressed it.
func (s *DeliveryService) Typing(ctx context.Context, chatID, userID string) (bool, error) {
	if err := s.Guard.RequireMember(ctx, userID, chatID); err != nil {
		return false, err
	}
	return s.Router.BroadcastTyping(ctx, chatID, userID), nil
}

// CanJoin reports whether userID may subscribe to chatID's channel.
func (s *DeliveryService) CanJoin(ctx context.Context, userID, chatID string) error {
	return s.Guard.RequireMember(ctx, userID, chatID)
}

// IsOnline reports the presence of userID.
func (s *DeliveryService) IsOnline(userID string) bool {
	return s.Router.Presence().IsOnline(userID)
}

// OnConnect marks userID online behind connID and announces it.
func (s *DeliveryService) OnConnect(ctx context.Context, userID, connID string) {
	defer s.lockUser(userID)()
	prev, replaced := s.Router.Presence().Connect(userID, connID)
	ev := log.Info().Str("user_id", userID).Str("conn_id", connID)
	if replaced {
		ev = ev.Str("replaced_conn_id", prev)
	}
	ev.Msg("user connected")

	s.setStatus(ctx, userID, domain.StatusOnline)
	s.Router.BroadcastPresence(ctx, userID, domain.StatusOnline)
}

// OnDisconnect marks userID offline regardless of which connection backs it.
func (s *DeliveryService) OnDisconnect(ctx context.Context, userID string) {
	defer s.lockUser(userID)()
	if s.Router.Presence().Disconnect(userID) {
		s.wentOffline(ctx, userID)
	}
}

// OnDisconnectConn marks userID offline only if connID is still its current
// connection. It reports whether the user went offline.
func (s *DeliveryService) OnDisconnectConn(ctx context.Context, userID, connID string) bool {
	defer s.lockUser(userID)()
	if !s.Router.Presence().DisconnectConn(userID, connID) {
		log.Debug().Str("user_id", userID).Str("conn_id", connID).Msg("stale connection closed")
		return false
	}
	s.wentOffline(ctx, userID)
	return true
}

// lockUser serializes presence transitions of userID: the registry update,
// the stored status and the broadcast happen in one critical section, so
// the last transition is also the last status written.
func (s *DeliveryService) lockUser(userID string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &s.presenceMu[h.Sum32()%presenceStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *DeliveryService) wentOffline(ctx context.Context, userID string) {
	log.Info().Str("user_id", userID).Msg("user disconnected")
	s.setStatus(ctx, userID, domain.StatusOffline)
	s.Router.BroadcastPresence(ctx, userID, domain.StatusOffline)
}

func (s *DeliveryService) setStatus(ctx context.Context, userID, status string) {
	if s.Users == nil {
		return
	}
	err := s.Users.SetStatus(ctx, userID, status, time.Now().UTC())
	bestEffort("user_status", err, map[string]any{"user_id": userID, "status": status})
}

func (s *DeliveryService) notify(ctx context.Context, in NotificationInput) {
	if s.Notifications == nil {
		return
	}
	_, err := s.Notifications.Create(ctx, in)
	bestEffort("notify", err, map[string]any{
		"user_id": in.UserID,
		"type":    string(in.Type),
	})
}

func senderName(u domain.UserSummary) string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.ID
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return fmt.Sprintf("%s…", string([]rune(s)[:previewRunes]))
}
