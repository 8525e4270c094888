package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// MembershipGuard answers authorization questions about chats. It does not
// cache: every call reads the current membership.
type MembershipGuard struct {
	DB *gorm.DB
}

// IsMember reports whether userID belongs to chatID. It returns
// ErrChatNotFound when the chat does not exist.
func (g *MembershipGuard) IsMember(ctx context.Context, userID, chatID string) (bool, error) {
	ctx, span := otel.Tracer("services/MembershipGuard").Start(ctx, "IsMember",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := g.chat(ctx, chatID); err != nil {
		return false, err
	}
	return repo.IsMember(ctx, g.DB, chatID, userID)
}

// IsCreator reports whether userID created chatID. It returns
// ErrChatNotFound when the chat does not exist.
func (g *MembershipGuard) IsCreator(ctx context.Context, userID, chatID string) (bool, error) {
	ctx, span := otel.Tracer("services/MembershipGuard").Start(ctx, "IsCreator",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	c, err := g.chat(ctx, chatID)
	if err != nil {
		return false, err
	}
	return c.CreatorID == userID, nil
}

// RequireMember returns ErrNotMember unless userID belongs to chatID.
func (g *MembershipGuard) RequireMember(ctx context.Context, userID, chatID string) error {
	ok, err := g.IsMember(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (g *MembershipGuard) chat(ctx context.Context, chatID string) (*domain.Chat, error) {
	c, err := repo.GetChat(ctx, g.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}
