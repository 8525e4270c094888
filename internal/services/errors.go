// Package services holds the business logic of the chat backend: the
// membership guard, the message pipeline, chat management, notifications
// and the delivery facade that ties persistence to real-time fan-out.
//
// This file centralizes service-level error values. Every concrete error
// wraps one of three classes so callers can branch on the class with
// errors.Is and translate it into a transport status at the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Error classes.
var (
	// ErrNotFound is the class of errors for absent chats, messages, users
	// and notifications.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied is the class of errors for callers lacking
	// membership or ownership.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation is the class of errors for malformed input.
	ErrValidation = errors.New("validation failed")
)

// NotFound errors.
var (
	// ErrChatNotFound indicates that the chat does not exist or was deleted.
	ErrChatNotFound = fmt.Errorf("chat %w", ErrNotFound)

	// ErrMessageNotFound indicates that the message does not exist or was deleted.
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)

	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrNotificationNotFound indicates that the notification does not exist.
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
)

// PermissionDenied errors.
var (
	// ErrNotMember is returned when the caller is not a member of the chat.
	ErrNotMember = fmt.Errorf("not a chat member: %w", ErrPermissionDenied)

	// ErrForbidden is returned when the caller does not own the target
	// (message author, chat creator, notification owner).
	ErrForbidden = fmt.Errorf("not the owner: %w", ErrPermissionDenied)
)

// Validation errors.
var (
	ErrEmptyContent   = fmt.Errorf("content is empty: %w", ErrValidation)
	ErrContentTooLong = fmt.Errorf("content too long: %w", ErrValidation)
	ErrInvalidPage    = fmt.Errorf("invalid page parameters: %w", ErrValidation)
	ErrInvalidEmoji   = fmt.Errorf("invalid emoji: %w", ErrValidation)
	ErrEmptyQuery     = fmt.Errorf("search query is empty: %w", ErrValidation)

	// ErrInvalidChat covers malformed chat requests: unknown type, a direct
	// chat with oneself, an empty update.
	ErrInvalidChat = fmt.Errorf("invalid chat request: %w", ErrValidation)
)
