package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/services"
)

// Stable, machine-readable error codes. Clients branch on these, never on
// the message text.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotMember       = "not_member"
	ErrCodeEmptyContent    = "empty_content"
	ErrCodeContentTooLong  = "content_too_long"
	ErrCodeInvalidPage     = "invalid_page"
	ErrCodeInvalidEmoji    = "invalid_emoji"
	ErrCodeInvalidChat     = "invalid_chat"
	ErrCodeUserExists      = "user_exists"
	ErrCodeChatNotFound    = "chat_not_found"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeUserNotFound    = "user_not_found"
)

// specific maps a concrete service sentinel to its status and code.
// Order matters: the first match wins.
var specific = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrUserExists, http.StatusConflict, ErrCodeUserExists},
	{services.ErrNotMember, http.StatusForbidden, ErrCodeNotMember},
	{services.ErrChatNotFound, http.StatusNotFound, ErrCodeChatNotFound},
	{services.ErrMessageNotFound, http.StatusNotFound, ErrCodeMessageNotFound},
	{services.ErrUserNotFound, http.StatusNotFound, ErrCodeUserNotFound},
	{services.ErrEmptyContent, http.StatusBadRequest, ErrCodeEmptyContent},
	{services.ErrContentTooLong, http.StatusBadRequest, ErrCodeContentTooLong},
	{services.ErrInvalidPage, http.StatusBadRequest, ErrCodeInvalidPage},
	{services.ErrInvalidEmoji, http.StatusBadRequest, ErrCodeInvalidEmoji},
	{services.ErrInvalidChat, http.StatusBadRequest, ErrCodeInvalidChat},
}

// classify maps err to a status and code. ok is false for errors outside
// the service classes.
func classify(err error) (status int, code string, ok bool) {
	for _, s := range specific {
		if errors.Is(err, s.err) {
			return s.status, s.code, true
		}
	}
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, true
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden, ErrCodeForbidden, true
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, ErrCodeBadRequest, true
	}
	return http.StatusInternalServerError, ErrCodeInternal, false
}

// failErr translates a service error into the error envelope. Unknown
// errors become 500 and are logged by fail.
func failErr(c *gin.Context, err error) {
	status, code, known := classify(err)
	if !known {
		_ = c.Error(err)
		fail(c, status, code, "internal server error")
		return
	}
	fail(c, status, code, err.Error())
}
