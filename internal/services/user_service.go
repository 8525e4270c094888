package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

// ErrUserExists is returned by UserService.Create for a duplicate id or username.
var ErrUserExists = fmt.Errorf("user already exists: %w", ErrValidation)

// UserService is the thin identity collaborator: enough profile data for
// sender projection and presence bookkeeping.
type UserService struct {
	DB *gorm.DB
}

// UserInput carries the fields accepted when registering a user.
type UserInput struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Create registers a user. A blank ID is generated.
func (s *UserService) Create(ctx context.Context, in UserInput) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Create")
	defer span.End()

	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, fmt.Errorf("username is required: %w", ErrValidation)
	}
	u := &domain.User{
		ID:          strings.TrimSpace(in.ID),
		Username:    in.Username,
		DisplayName: strings.TrimSpace(in.DisplayName),
		AvatarURL:   strings.TrimSpace(in.AvatarURL),
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if repo.IsDuplicate(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// Get returns a user or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", id)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// SetStatus records a presence transition and advances last-active.
func (s *UserService) SetStatus(ctx context.Context, id, status string, at time.Time) error {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "SetStatus",
		trace.WithAttributes(
			attribute.String("user.id", id),
			attribute.String("status", status),
		),
	)
	defer span.End()

	return repo.SetUserStatus(ctx, s.DB, id, status, &at)
}
