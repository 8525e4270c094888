// Package realtime holds the in-process delivery machinery: the presence
// registry, a topic hub with bounded per-subscriber queues, and the fan-out
// router that decides which topics an event is published to.
//
// Topics:
//   - chat:<id>      shared channel of one chat
//   - user:<id>      private channel of one user
//   - users:status   global presence channel
package realtime

import (
	"strings"
	"time"
)

// EventType names an outbound push event.
type EventType string

const (
	EventMessageCreated  EventType = "message.created"
	EventMessageUpdated  EventType = "message.updated"
	EventMessageDeleted  EventType = "message.deleted"
	EventMessageRead     EventType = "message.read"
	EventReactionUpdated EventType = "reaction.updated"
	EventUserTyping      EventType = "user.typing"
	EventUserStatus      EventType = "user.status"
	EventNotification    EventType = "notification.created"
)

// StatusTopic is the global presence channel.
const StatusTopic = "users:status"

const (
	chatTopicPrefix = "chat:"
	userTopicPrefix = "user:"
)

// ChatTopic returns the shared channel of chatID.
func ChatTopic(chatID string) string { return chatTopicPrefix + chatID }

// UserTopic returns the private channel of userID.
func UserTopic(userID string) string { return userTopicPrefix + userID }

// ChatIDFromTopic extracts the chat id from a shared-channel topic.
func ChatIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, chatTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, chatTopicPrefix)
	return id, id != ""
}

// Event is the envelope every subscriber receives.
type Event struct {
	Type    EventType `json:"type"`
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// ReadReceipt is the payload of message.read.
type ReadReceipt struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Typing is the payload of user.typing. Clients drop the indicator once
// ExpiresAt passes.
type Typing struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StatusChange is the payload of user.status.
type StatusChange struct {
	UserID string    `json:"user_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// MessageRemoved is the payload of message.deleted.
type MessageRemoved struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// ReactionsChanged is the payload of reaction.updated.
type ReactionsChanged struct {
	ChatID    string         `json:"chat_id"`
	MessageID string         `json:"message_id"`
	Reactions map[string]int `json:"reactions"`
}
