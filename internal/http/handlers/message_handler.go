// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST   /chats/{id}/messages          (submit, Idempotency-Key aware)
//   - GET    /chats/{id}/messages          (history, paginated, ETag support)
//   - GET    /chats/{id}/messages/search   (search one chat)
//   - GET    /messages/search              (search every chat of the caller)
//   - GET    /messages/{id}
//   - PUT    /messages/{id}                (edit, author only)
//   - DELETE /messages/{id}                (soft delete, author only)
//   - POST   /messages/{id}/read
//   - POST   /messages/{id}/reactions
//   - DELETE /messages/{id}/reactions?emoji=
//   - POST   /messages/{id}/attachments    (metadata only)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submission exists for (user, chat, key), the handler returns the recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

//
// DTOs
//

// SubmitMessageRequest is the JSON payload for sending a message.
type SubmitMessageRequest struct {
	// Content is the message text. It must be non-empty after trimming.
	Content string `json:"content" binding:"required" example:"See you at 10?"`
	// ReplyToID optionally references a message of the same chat.
	ReplyToID *string `json:"reply_to_id,omitempty" example:"2a4b8f0e-8a55-4a51-9a0c-0e1c5f4b7d21"`
}

// EditMessageRequest is the JSON payload for editing a message.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required" example:"See you at 11?"`
}

// ReactionRequest is the JSON payload for reacting to a message.
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required" example:"👍"`
}

// ReadRequest optionally names the chat the read message belongs to.
type ReadRequest struct {
	ChatID string `json:"chat_id,omitempty"`
}

// SearchMessagesResponse wraps message search hits, best first.
type SearchMessagesResponse struct {
	Messages []domain.MessageView `json:"messages"`
}

// MessagePage is a page of chat history (swagger helper).
type MessagePage = domain.Page[domain.MessageView]

//
// Helpers
//

// HeaderReplayed marks a response served from a stored idempotent result.
const HeaderReplayed = "Idempotency-Replayed"

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR become LF, long newline runs collapse to one blank line, and
// surrounding whitespace is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// SubmitMessage godoc
// @ID          submitMessage
// @Summary     Send a message to a chat
// @Description Persists the message and fans it out to online members. Offline members get a notification.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.SubmitMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.MessageView
// @Success     200  {object}  domain.MessageView      "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) SubmitMessage(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}

	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	uid := userID(c)

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && middleware.IsReplay(c) {
		now := time.Now().UTC()
		if rec, err := repo.GetIdempotency(ctx, h.DB, uid, chatID, idemKey, now); err == nil && rec.Replayable(idemKey, now) {
			if prev, err := h.Delivery.GetMessage(ctx, uid, rec.MessageID); err == nil {
				c.Header(HeaderReplayed, "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	view, err := h.Delivery.SubmitMessage(ctx, chatID, uid, sanitizeContent(req.Content), req.ReplyToID)
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" {
		if _, err := repo.CreateIdempotency(ctx, h.DB, uid, chatID, idemKey, view.ID, http.StatusCreated, h.IdempotencyTTL); err != nil && !repo.IsDuplicate(err) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("message_id", view.ID).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, view)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a 0-based page of the chat history, newest first. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number (0-based)"  minimum(0) default(0)
// @Param       page_size      query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.MessagePage
// @Header      200  {string} ETag "Weak ETag for current history"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	uid := userID(c)
	page, size := pageParams(c)

	// Membership first: a 304 must not leak that the history is unchanged.
	if err := h.Delivery.CanJoin(ctx, uid, chatID); err != nil {
		failErr(c, err)
		return
	}

	// ETag pre-check (best effort). The tag covers the query window too.
	if count, maxTS, err := repo.MessagesStats(ctx, h.DB, chatID); err == nil {
		scope := chatID + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(size)
		if etag(c, statsTag("messages", scope, count, maxTS)) {
			return
		}
	}

	res, err := h.Delivery.ListMessages(ctx, chatID, uid, page, size)
	if err != nil {
		c.Header("ETag", "")
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// SearchChatMessages godoc
// @ID          searchChatMessages
// @Summary     Search messages in a chat
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id  path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       q   query  string  true  "Search text"
// @Success     200  {object} handlers.SearchMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Router      /chats/{id}/messages/search [get]
func (h *Handlers) SearchChatMessages(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	h.searchMessages(c, chatID)
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Search messages across the caller's chats
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       q   query  string  true  "Search text"
// @Success     200  {object} handlers.SearchMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /messages/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	h.searchMessages(c, "")
}

func (h *Handlers) searchMessages(c *gin.Context, chatID string) {
	q, valid := query(c)
	if !valid {
		return
	}
	hits, err := h.Delivery.SearchMessages(c.Request.Context(), userID(c), q, chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	if hits == nil {
		hits = []domain.MessageView{}
	}
	ok(c, http.StatusOK, SearchMessagesResponse{Messages: hits})
}

// GetMessage godoc
// @ID          getMessage
// @Summary     Get a message
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Message ID (UUID)"  format(uuid)
// @Success     200  {object} domain.MessageView
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	view, err := h.Delivery.GetMessage(c.Request.Context(), userID(c), msgID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// EditMessage godoc
// @ID          editMessage
// @Summary     Edit a message
// @Description Replaces the content of a message written by the caller and marks it edited.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Message ID (UUID)"  format(uuid)
// @Param       body  body  handlers.EditMessageRequest  true  "New content"
// @Success     200  {object} domain.MessageView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id} [put]
func (h *Handlers) EditMessage(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	view, err := h.Delivery.EditMessage(c.Request.Context(), userID(c), msgID,
		domain.MessageUpdate{Content: sanitizeContent(req.Content)})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Tags        Messages
// @Security    BearerAuth
// @Param       id  path  string  true  "Message ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	if err := h.Delivery.DeleteMessage(c.Request.Context(), userID(c), msgID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark a message as read
// @Description Records a read receipt for the caller. Marking twice is a no-op.
// @Tags        Messages
// @Accept      json
// @Security    BearerAuth
// @Param       id    path  string  true   "Message ID (UUID)"  format(uuid)
// @Param       body  body  handlers.ReadRequest  false  "Optional chat id"
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	var req ReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	if err := h.Delivery.MarkRead(c.Request.Context(), req.ChatID, msgID, userID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AddReaction godoc
// @ID          addReaction
// @Summary     React to a message
// @Description Adds the caller's emoji reaction. Reacting again with the same emoji keeps a single reaction.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Message ID (UUID)"  format(uuid)
// @Param       body  body  handlers.ReactionRequest  true  "Emoji"
// @Success     201  {object} domain.Reaction
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id}/reactions [post]
func (h *Handlers) AddReaction(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "emoji required")
		return
	}
	r, err := h.Delivery.AddReaction(c.Request.Context(), msgID, userID(c), req.Emoji)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// RemoveReaction godoc
// @ID          removeReaction
// @Summary     Remove a reaction
// @Tags        Messages
// @Security    BearerAuth
// @Param       id     path   string  true  "Message ID (UUID)"  format(uuid)
// @Param       emoji  query  string  true  "Emoji to remove"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id}/reactions [delete]
func (h *Handlers) RemoveReaction(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	emoji := strings.TrimSpace(c.Query("emoji"))
	if emoji == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter emoji is required")
		return
	}
	if err := h.Delivery.RemoveReaction(c.Request.Context(), msgID, userID(c), emoji); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AddAttachment godoc
// @ID          addAttachment
// @Summary     Attach file metadata to a message
// @Description Links metadata of an externally stored file to a message written by the caller.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Message ID (UUID)"  format(uuid)
// @Param       body  body  services.AttachmentInput  true  "Attachment metadata"
// @Success     201  {object} domain.Attachment
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Router      /messages/{id}/attachments [post]
func (h *Handlers) AddAttachment(c *gin.Context) {
	msgID, valid := pathID(c, "id", "message")
	if !valid {
		return
	}
	var in services.AttachmentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.FileName) == "" || strings.TrimSpace(in.URL) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file_name and url are required")
		return
	}
	a, err := h.Delivery.AddAttachment(c.Request.Context(), userID(c), msgID, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}
