// Package services – ChatService
//
// This file implements ChatService, which manages the lifecycle of chats and
// their member sets. It normalizes names, enforces creator-only rules for
// edits, deletion and invitations, and guarantees a single direct chat per
// user pair.
//
// Service-level errors (e.g., ErrChatNotFound, ErrForbidden) are returned for
// predictable cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

const defaultChatName = "New chat"

// ChatCreate is the request to create a chat.
type ChatCreate struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	AvatarURL   string          `json:"avatar_url,omitempty"`
	Type        domain.ChatType `json:"type,omitempty"`
	MemberIDs   []string        `json:"member_ids,omitempty"`
}

// ChatService provides chat-level operations.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	Guard    *MembershipGuard
	Messages *MessageService

	// Notifications receives GROUP_INVITATION side effects. Optional.
	Notifications *NotificationService

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
}

// NewChatService wires a ChatService with default name handling.
func NewChatService(db *gorm.DB, messages *MessageService, notifications *NotificationService) *ChatService {
	return &ChatService{
		DB:            db,
		Guard:         &MembershipGuard{DB: db},
		Messages:      messages,
		Notifications: notifications,
		NameMaxLen:    100,
	}
}

func (s *ChatService) tracer() trace.Tracer { return otel.Tracer("services/ChatService") }

// Create makes a chat owned by creatorID. Unknown member ids are skipped.
// A DIRECT request must name exactly one other user and is served by
// GetOrCreateDirect.
func (s *ChatService) Create(ctx context.Context, creatorID string, in ChatCreate) (*domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", creatorID),
			attribute.String("chat.type", string(in.Type)),
		),
	)
	defer span.End()

	if in.Type == "" {
		in.Type = domain.ChatGroup
	}
	if !in.Type.Valid() {
		return nil, ErrInvalidChat
	}

	others := make([]string, 0, len(in.MemberIDs))
	for _, id := range in.MemberIDs {
		if id = strings.TrimSpace(id); id != "" && id != creatorID {
			others = append(others, id)
		}
	}
	others = dedupe(others)

	if in.Type == domain.ChatDirect {
		if len(others) != 1 {
			return nil, ErrInvalidChat
		}
		return s.GetOrCreateDirect(ctx, creatorID, others[0])
	}

	if ok, err := repo.UserExists(ctx, s.DB, creatorID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrUserNotFound
	}
	known, err := repo.GetUsersByID(ctx, s.DB, others)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(known))
	for _, id := range others {
		if _, ok := known[id]; ok {
			members = append(members, id)
		}
	}

	name := s.clip(normalizeName(in.Name))
	if name == "" {
		name = defaultChatName
	}
	c := &domain.Chat{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		AvatarURL:   strings.TrimSpace(in.AvatarURL),
		Type:        in.Type,
		CreatorID:   creatorID,
	}
	if err := repo.CreateChat(ctx, s.DB, c, members); err != nil {
		return nil, err
	}
	for _, uid := range members {
		s.invite(ctx, c, creatorID, uid)
	}
	return s.view(ctx, c, creatorID)
}

// GetOrCreateDirect returns the direct chat between a and b, creating it on
// first use. The chat is named after b, as seen by a.
func (s *ChatService) GetOrCreateDirect(ctx context.Context, a, b string) (*domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "GetOrCreateDirect",
		trace.WithAttributes(
			attribute.String("user.id", a),
			attribute.String("peer.id", b),
		),
	)
	defer span.End()

	if a == "" || b == "" || a == b {
		return nil, ErrInvalidChat
	}
	key := domain.DirectKey(a, b)
	if c, err := repo.FindDirectChat(ctx, s.DB, key); err == nil {
		return s.view(ctx, c, a)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	users, err := repo.GetUsersByID(ctx, s.DB, []string{a, b})
	if err != nil {
		return nil, err
	}
	if _, ok := users[a]; !ok {
		return nil, ErrUserNotFound
	}
	peer, ok := users[b]
	if !ok {
		return nil, ErrUserNotFound
	}

	c := &domain.Chat{
		Name:      peer.Username,
		Type:      domain.ChatDirect,
		CreatorID: a,
		DirectKey: &key,
	}
	if err := repo.CreateChat(ctx, s.DB, c, []string{b}); err != nil {
		if !repo.IsDuplicate(err) {
			return nil, err
		}
		// Lost a race with the peer; the unique key guarantees one row.
		existing, ferr := repo.FindDirectChat(ctx, s.DB, key)
		if ferr != nil {
			return nil, ferr
		}
		c = existing
	}
	return s.view(ctx, c, a)
}

// Get returns chatID decorated for userID, who must be a member.
func (s *ChatService) Get(ctx context.Context, userID, chatID string) (*domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if err := s.Guard.RequireMember(ctx, userID, chatID); err != nil {
		return nil, err
	}
	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.view(ctx, c, userID)
}

// ListForUser returns every chat userID belongs to, most recently active first.
func (s *ChatService) ListForUser(ctx context.Context, userID string) ([]domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "ListForUser",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	chats, err := repo.ListChatsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, chats, userID)
}

// Search returns userID's chats whose name contains query.
func (s *ChatService) Search(ctx context.Context, userID, query string) ([]domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "Search",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	chats, err := repo.SearchChats(ctx, s.DB, userID, query)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, chats, userID)
}

// Update applies u to chatID. Only the creator may update a chat.
func (s *ChatService) Update(ctx context.Context, userID, chatID string, u domain.ChatUpdate) (*domain.ChatView, error) {
	ctx, span := s.tracer().Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if u.Empty() {
		return nil, ErrInvalidChat
	}
	if err := s.requireCreator(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if u.Name != nil {
		name := s.clip(normalizeName(*u.Name))
		if name == "" {
			return nil, ErrInvalidChat
		}
		u.Name = &name
	}
	if err := repo.UpdateChat(ctx, s.DB, chatID, u); err != nil {
		return nil, s.mapNotFound(err)
	}
	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.view(ctx, c, userID)
}

// Delete soft-deletes chatID. Only the creator may delete a chat.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	ctx, span := s.tracer().Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if err := s.requireCreator(ctx, userID, chatID); err != nil {
		return err
	}
	return s.mapNotFound(repo.DeleteChat(ctx, s.DB, chatID))
}

// AddMember adds userID to chatID on behalf of actorID, the creator. The new
// member gets a GROUP_INVITATION notification. Direct chats are closed.
func (s *ChatService) AddMember(ctx context.Context, actorID, chatID, userID string) error {
	ctx, span := s.tracer().Start(ctx, "AddMember",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", actorID),
			attribute.String("member.id", userID),
		),
	)
	defer span.End()

	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return s.mapNotFound(err)
	}
	if c.CreatorID != actorID {
		return ErrForbidden
	}
	if c.Type == domain.ChatDirect {
		return ErrInvalidChat
	}
	ok, err := repo.UserExists(ctx, s.DB, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	already, err := repo.IsMember(ctx, s.DB, chatID, userID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	if err := repo.AddMember(ctx, s.DB, chatID, userID); err != nil {
		return err
	}
	s.invite(ctx, c, actorID, userID)
	return nil
}

// RemoveMember removes userID from chatID. The creator may remove anyone
// else; any other member may only remove itself. The creator cannot leave.
func (s *ChatService) RemoveMember(ctx context.Context, actorID, chatID, userID string) error {
	ctx, span := s.tracer().Start(ctx, "RemoveMember",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", actorID),
			attribute.String("member.id", userID),
		),
	)
	defer span.End()

	c, err := repo.GetChat(ctx, s.DB, chatID)
	if err != nil {
		return s.mapNotFound(err)
	}
	if c.Type == domain.ChatDirect || userID == c.CreatorID {
		return ErrInvalidChat
	}
	if actorID != c.CreatorID && actorID != userID {
		return ErrForbidden
	}
	_, err = repo.RemoveMember(ctx, s.DB, chatID, userID)
	return err
}

// Members returns the member profiles of chatID for userID, who must be a member.
func (s *ChatService) Members(ctx context.Context, userID, chatID string) ([]domain.UserSummary, error) {
	ctx, span := s.tracer().Start(ctx, "Members",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if err := s.Guard.RequireMember(ctx, userID, chatID); err != nil {
		return nil, err
	}
	ids, err := repo.ListMemberIDs(ctx, s.DB, chatID)
	if err != nil {
		return nil, err
	}
	users, err := repo.GetUsersByID(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, summarize(id, users))
	}
	return out, nil
}

// MemberIDs returns the member ids of chatID in join order.
func (s *ChatService) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	return repo.ListMemberIDs(ctx, s.DB, chatID)
}

func (s *ChatService) requireCreator(ctx context.Context, userID, chatID string) error {
	ok, err := s.Guard.IsCreator(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *ChatService) mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// invite records a GROUP_INVITATION for userID. Failures are logged only:
// the membership change has already been committed.
func (s *ChatService) invite(ctx context.Context, c *domain.Chat, actorID, userID string) {
	if s.Notifications == nil {
		return
	}
	_, err := s.Notifications.Create(ctx, NotificationInput{
		UserID:        userID,
		Type:          domain.NotifyGroupInvitation,
		Title:         "Added to " + c.Name,
		Content:       "You were added to the chat " + c.Name,
		RelatedUserID: &actorID,
		RelatedChatID: &c.ID,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("chat_id", c.ID).
			Str("user_id", userID).
			Msg("invitation notification failed")
	}
}

func (s *ChatService) views(ctx context.Context, chats []domain.Chat, userID string) ([]domain.ChatView, error) {
	out := make([]domain.ChatView, 0, len(chats))
	for i := range chats {
		v, err := s.view(ctx, &chats[i], userID)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// view decorates c with members, newest message and userID's unread count.
func (s *ChatService) view(ctx context.Context, c *domain.Chat, userID string) (*domain.ChatView, error) {
	members, err := repo.ListMemberIDs(ctx, s.DB, c.ID)
	if err != nil {
		return nil, err
	}
	v := &domain.ChatView{Chat: *c, Members: members}
	if s.Messages != nil {
		if v.LastMessage, err = s.Messages.LastMessage(ctx, c.ID); err != nil {
			return nil, err
		}
		if v.UnreadCount, err = s.Messages.UnreadCount(ctx, c.ID, userID); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// clip truncates a chat name to the configured maximum rune length.
func (s *ChatService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}

// normalizeName trims whitespace and collapses multiple spaces to one.
func normalizeName(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
