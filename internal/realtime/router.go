package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// DefaultTypingInterval is the minimum gap between two typing events from
// the same user in the same chat.
const DefaultTypingInterval = 3 * time.Second

// Delivery reports what BroadcastMessage did.
type Delivery struct {
	// Shared is the number of subscriber queues that accepted the chat copy.
	Shared int
	// Private lists the members that were sent a private copy because they
	// were not online.
	Private []string
}

// Router decides which topics an event goes to. Shared chat events go to
// chat:<id>; members that are not online additionally get a private copy.
//
// The private copy assumes an online user is subscribed to every chat it
// belongs to. A connected client that has not joined the chat topic misses
// the live event and sees the message on its next history load.
type Router struct {
	hub       *Hub
	presence  *Registry
	typing    *throttle
	typingTTL time.Duration
	now       func() time.Time
}

// NewRouter returns a router publishing through hub and consulting presence.
// typingEvery <= 0 disables the typing throttle.
func NewRouter(hub *Hub, presence *Registry, typingEvery time.Duration) *Router {
	ttl := typingEvery
	if ttl <= 0 {
		ttl = DefaultTypingInterval
	}
	return &Router{
		hub:       hub,
		presence:  presence,
		typing:    newThrottle(typingEvery),
		typingTTL: ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Hub returns the underlying hub.
func (r *Router) Hub() *Hub { return r.hub }

// Presence returns the registry consulted for private sends.
func (r *Router) Presence() *Registry { return r.presence }

// BroadcastMessage publishes view once to the chat channel and to the private
// channel of every non-author member that is offline.
func (r *Router) BroadcastMessage(ctx context.Context, memberIDs []string, view domain.MessageView, authorID string) Delivery {
	var d Delivery
	d.Shared = r.hub.Publish(ctx, Event{
		Type:    EventMessageCreated,
		Topic:   ChatTopic(view.ChatID),
		Payload: view,
	})

	for _, uid := range memberIDs {
		if uid == authorID || uid == "" || r.presence.IsOnline(uid) {
			continue
		}
		r.hub.Publish(ctx, Event{
			Type:    EventMessageCreated,
			Topic:   UserTopic(uid),
			Payload: view,
		})
		privateSends.Inc()
		d.Private = append(d.Private, uid)
	}

	log.Debug().
		Str("chat_id", view.ChatID).
		Str("message_id", view.ID).
		Int("shared", d.Shared).
		Int("private", len(d.Private)).
		Msg("message fanned out")
	return d
}

// BroadcastTyping publishes an ephemeral typing indicator. It returns false
// when the event was suppressed by the throttle.
func (r *Router) BroadcastTyping(ctx context.Context, chatID, userID string) bool {
	if !r.typing.Allow(chatID + "|" + userID) {
		typingThrottled.Inc()
		return false
	}
	now := r.now()
	r.hub.Publish(ctx, Event{
		Type:  EventUserTyping,
		Topic: ChatTopic(chatID),
		Payload: Typing{
			ChatID:    chatID,
			UserID:    userID,
			ExpiresAt: now.Add(r.typingTTL),
		},
		At: now,
	})
	return true
}

// BroadcastReadReceipt tells the chat that readerID has read messageID.
func (r *Router) BroadcastReadReceipt(ctx context.Context, chatID, messageID, readerID string, at time.Time) {
	r.hub.Publish(ctx, Event{
		Type:  EventMessageRead,
		Topic: ChatTopic(chatID),
		Payload: ReadReceipt{
			ChatID:    chatID,
			MessageID: messageID,
			UserID:    readerID,
			ReadAt:    at,
		},
	})
}

// BroadcastPresence publishes a status transition on the global channel.
func (r *Router) BroadcastPresence(ctx context.Context, userID, status string) {
	now := r.now()
	r.hub.Publish(ctx, Event{
		Type:    EventUserStatus,
		Topic:   StatusTopic,
		Payload: StatusChange{UserID: userID, Status: status, At: now},
		At:      now,
	})
}

// BroadcastMessageUpdated publishes an edited message to its chat.
func (r *Router) BroadcastMessageUpdated(ctx context.Context, view domain.MessageView) {
	r.hub.Publish(ctx, Event{
		Type:    EventMessageUpdated,
		Topic:   ChatTopic(view.ChatID),
		Payload: view,
	})
}

// BroadcastMessageDeleted publishes a removal to the chat.
func (r *Router) BroadcastMessageDeleted(ctx context.Context, chatID, messageID string) {
	r.hub.Publish(ctx, Event{
		Type:    EventMessageDeleted,
		Topic:   ChatTopic(chatID),
		Payload: MessageRemoved{ChatID: chatID, MessageID: messageID},
	})
}

// BroadcastReactions publishes the current emoji counts of a message.
func (r *Router) BroadcastReactions(ctx context.Context, chatID, messageID string, counts map[string]int) {
	if counts == nil {
		counts = map[string]int{}
	}
	r.hub.Publish(ctx, Event{
		Type:    EventReactionUpdated,
		Topic:   ChatTopic(chatID),
		Payload: ReactionsChanged{ChatID: chatID, MessageID: messageID, Reactions: counts},
	})
}

// NotifyUser pushes a notification to userID's private channel.
func (r *Router) NotifyUser(ctx context.Context, userID string, n domain.Notification) {
	r.hub.Publish(ctx, Event{
		Type:    EventNotification,
		Topic:   UserTopic(userID),
		Payload: n,
	})
}
