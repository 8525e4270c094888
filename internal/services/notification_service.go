// Package services – NotificationService
//
// NotificationService creates unread notifications as side effects of chat
// activity and lets their owner page, acknowledge and delete them. Every
// per-notification operation checks that the acting user owns it.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/utils"
)

// Pusher delivers a freshly created notification to its owner's private
// channel. realtime.Router implements it.
type Pusher interface {
	NotifyUser(ctx context.Context, userID string, n domain.Notification)
}

// NotificationInput describes a notification to create. Related ids that do
// not resolve are dropped.
type NotificationInput struct {
	UserID           string
	Type             domain.NotificationType
	Title            string
	Content          string
	RelatedUserID    *string
	RelatedChatID    *string
	RelatedMessageID *string
	// ExpiresAt overrides the service TTL.
	ExpiresAt *time.Time
}

// NotificationService owns the notification side effects.
type NotificationService struct {
	DB *gorm.DB

	// TTL sets ExpiresAt on new notifications when positive.
	TTL time.Duration

	// Push is optional.
	Push Pusher

	now func() time.Time
}

func (s *NotificationService) tracer() trace.Tracer {
	return otel.Tracer("services/NotificationService")
}

func (s *NotificationService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create stores an unread notification for in.UserID and pushes it.
func (s *NotificationService) Create(ctx context.Context, in NotificationInput) (*domain.Notification, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", in.UserID),
			attribute.String("notification.type", string(in.Type)),
		),
	)
	defer span.End()

	if !in.Type.Valid() {
		return nil, fmt.Errorf("unknown notification type %q: %w", in.Type, ErrValidation)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("notification title is empty: %w", ErrValidation)
	}
	ok, err := repo.UserExists(ctx, s.DB, in.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	n := &domain.Notification{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     title,
		Content:   in.Content,
		CreatedAt: s.clock(),
		ExpiresAt: in.ExpiresAt,
	}
	if n.ExpiresAt == nil && s.TTL > 0 {
		exp := n.CreatedAt.Add(s.TTL)
		n.ExpiresAt = &exp
	}

	if n.RelatedUserID, err = resolveRef(in.RelatedUserID, func(id string) (bool, error) {
		return repo.UserExists(ctx, s.DB, id)
	}); err != nil {
		return nil, err
	}
	if n.RelatedChatID, err = resolveRef(in.RelatedChatID, func(id string) (bool, error) {
		_, err := repo.GetChat(ctx, s.DB, id)
		return found(err)
	}); err != nil {
		return nil, err
	}
	if n.RelatedMessageID, err = resolveRef(in.RelatedMessageID, func(id string) (bool, error) {
		_, err := repo.GetMessage(ctx, s.DB, id)
		return found(err)
	}); err != nil {
		return nil, err
	}

	if err := repo.CreateNotification(ctx, s.DB, n); err != nil {
		return nil, err
	}
	if s.Push != nil {
		s.Push.NotifyUser(ctx, n.UserID, *n)
	}
	return n, nil
}

// resolveRef keeps id only when exists reports it present.
func resolveRef(id *string, exists func(string) (bool, error)) (*string, error) {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*id)
	ok, err := exists(v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

func found(err error) (bool, error) {
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns one 0-based page of userID's live notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, page, pageSize int) (domain.Page[domain.Notification], error) {
	ctx, span := s.tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if !utils.PageInRange(page, pageSize) {
		return domain.Page[domain.Notification]{}, ErrInvalidPage
	}
	now := s.clock()
	total, err := repo.CountNotifications(ctx, s.DB, userID, now)
	if err != nil {
		return domain.Page[domain.Notification]{}, err
	}
	if total == 0 {
		return domain.NewPage[domain.Notification](nil, page, pageSize, 0), nil
	}
	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, now, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return domain.Page[domain.Notification]{}, err
	}
	return domain.NewPage(items, page, pageSize, total), nil
}

// Unread returns every live unread notification of userID.
func (s *NotificationService) Unread(ctx context.Context, userID string) ([]domain.Notification, error) {
	ctx, span := s.tracer().Start(ctx, "Unread",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	out, err := repo.ListUnreadNotifications(ctx, s.DB, userID, s.clock())
	if out == nil && err == nil {
		out = []domain.Notification{}
	}
	return out, err
}

// CountUnread returns the unread badge count of userID.
func (s *NotificationService) CountUnread(ctx context.Context, userID string) (int64, error) {
	return repo.CountUnreadNotifications(ctx, s.DB, userID, s.clock())
}

// owned loads notification id and checks that userID owns it.
func (s *NotificationService) owned(ctx context.Context, userID, id string) (*domain.Notification, error) {
	n, err := repo.GetNotification(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, ErrForbidden
	}
	return n, nil
}

// MarkAsRead flags one of userID's notifications read.
func (s *NotificationService) MarkAsRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	ctx, span := s.tracer().Start(ctx, "MarkAsRead",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("notification.id", id),
		),
	)
	defer span.End()

	n, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	at := s.clock()
	if err := repo.MarkNotificationRead(ctx, s.DB, id, at); err != nil {
		return nil, err
	}
	n.Read = true
	n.ReadAt = &at
	return n, nil
}

// MarkAllAsRead flags every unread notification of userID and returns how
// many changed.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "MarkAllAsRead",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.MarkAllNotificationsRead(ctx, s.DB, userID, s.clock())
}

// Delete removes one of userID's notifications.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("notification.id", id),
		),
	)
	defer span.End()

	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return repo.DeleteNotification(ctx, s.DB, id)
}

// DeleteAll removes every notification of userID.
func (s *NotificationService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "DeleteAll",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.DeleteAllNotifications(ctx, s.DB, userID)
}

// PurgeExpired removes notifications whose expiry is at or before now.
func (s *NotificationService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "PurgeExpired")
	defer span.End()

	return repo.PurgeExpiredNotifications(ctx, s.DB, now)
}
