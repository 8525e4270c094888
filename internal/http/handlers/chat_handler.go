// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats                        (create)
//   - GET    /chats                        (list, ETag support)
//   - GET    /chats/search?q=
//   - POST   /chats/direct/{userId}        (get or create a direct chat)
//   - GET    /chats/{id}
//   - PUT    /chats/{id}                   (creator only)
//   - DELETE /chats/{id}                   (creator only)
//   - GET    /chats/{id}/members
//   - POST   /chats/{id}/members/{userId}  (creator only)
//   - DELETE /chats/{id}/members/{userId}  (creator, or the member leaving)
//   - POST   /chats/{id}/typing
package handlers

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

//
// DTOs
//

// UpdateChatRequest is the JSON payload for updating a chat. Omitted fields
// are left unchanged.
type UpdateChatRequest struct {
	Name        *string `json:"name,omitempty" example:"Weekend trip"`
	Description *string `json:"description,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

// ListChatsResponse wraps the caller's chats, most recently active first.
type ListChatsResponse struct {
	Chats []domain.ChatView `json:"chats"`
}

// MembersResponse lists the members of a chat.
type MembersResponse struct {
	Members []domain.UserSummary `json:"members"`
}

// TypingResponse reports whether the indicator was published or throttled.
type TypingResponse struct {
	Published bool `json:"published"`
}

// contentTag is a weak ETag over the JSON encoding of v. Chat lists carry
// per-user unread counts, so a content hash is the only fingerprint that
// moves with every visible change.
func contentTag(kind string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf(`W/"%s:%x"`, kind, h.Sum64()), nil
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a chat
// @Description Creates a GROUP or CHANNEL chat owned by the caller. A DIRECT request with one member returns the existing direct chat when there is one.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  services.ChatCreate  true  "Create chat payload"
//
// @Success     201  {object}  domain.ChatView
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req services.ChatCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.Type = domain.ChatType(strings.ToUpper(strings.TrimSpace(string(req.Type))))

	ch, err := h.Chats.Create(c.Request.Context(), userID(c), req)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List the caller's chats
// @Description Returns every chat the caller belongs to with its last message and unread count. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	chats, err := h.Chats.ListForUser(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if chats == nil {
		chats = []domain.ChatView{}
	}
	resp := ListChatsResponse{Chats: chats}
	if tag, err := contentTag("chats", resp); err == nil && etag(c, tag) {
		return
	}
	ok(c, http.StatusOK, resp)
}

// SearchChats godoc
// @ID          searchChats
// @Summary     Search the caller's chats by name
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       q  query  string  true  "Name fragment"
// @Success     200  {object} handlers.ListChatsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /chats/search [get]
func (h *Handlers) SearchChats(c *gin.Context) {
	q, valid := query(c)
	if !valid {
		return
	}
	chats, err := h.Chats.Search(c.Request.Context(), userID(c), q)
	if err != nil {
		failErr(c, err)
		return
	}
	if chats == nil {
		chats = []domain.ChatView{}
	}
	ok(c, http.StatusOK, ListChatsResponse{Chats: chats})
}

// DirectChat godoc
// @ID          directChat
// @Summary     Get or create a direct chat
// @Description Returns the caller's direct chat with userId, creating it on first use.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       userId  path  string  true  "Other user's ID"
// @Success     200  {object} domain.ChatView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /chats/direct/{userId} [post]
func (h *Handlers) DirectChat(c *gin.Context) {
	other := strings.TrimSpace(c.Param("userId"))
	if other == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id required")
		return
	}
	ch, err := h.Chats.GetOrCreateDirect(c.Request.Context(), userID(c), other)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.ChatView
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	ch, err := h.Chats.Get(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// UpdateChat godoc
// @ID          updateChat
// @Summary     Update a chat
// @Description Updates name, description or avatar of a chat created by the caller.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateChatRequest  true  "Fields to change"
// @Success     200  {object} domain.ChatView
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the creator"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [put]
func (h *Handlers) UpdateChat(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	var req UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ch, err := h.Chats.Update(c.Request.Context(), userID(c), chatID, domain.ChatUpdate{
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Tags        Chats
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the creator"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	if err := h.Chats.Delete(c.Request.Context(), userID(c), chatID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListMembers godoc
// @ID          listMembers
// @Summary     List chat members
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.MembersResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/members [get]
func (h *Handlers) ListMembers(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	members, err := h.Chats.Members(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failErr(c, err)
		return
	}
	if members == nil {
		members = []domain.UserSummary{}
	}
	ok(c, http.StatusOK, MembersResponse{Members: members})
}

// AddMember godoc
// @ID          addMember
// @Summary     Add a member
// @Tags        Chats
// @Security    BearerAuth
// @Param       id      path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       userId  path  string  true  "User to add"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the creator"
// @Failure     404  {object} handlers.ErrorResponse "Chat or user not found"
// @Router      /chats/{id}/members/{userId} [post]
func (h *Handlers) AddMember(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	if err := h.Chats.AddMember(c.Request.Context(), userID(c), chatID, c.Param("userId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// RemoveMember godoc
// @ID          removeMember
// @Summary     Remove a member
// @Description The creator may remove anyone; any member may remove themselves.
// @Tags        Chats
// @Security    BearerAuth
// @Param       id      path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       userId  path  string  true  "User to remove"
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/members/{userId} [delete]
func (h *Handlers) RemoveMember(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	if err := h.Chats.RemoveMember(c.Request.Context(), userID(c), chatID, c.Param("userId")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// Typing godoc
// @ID          typing
// @Summary     Publish a typing indicator
// @Description Broadcasts that the caller is typing. Indicators are throttled per user and chat.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.TypingResponse
// @Failure     403  {object} handlers.ErrorResponse "Not a member"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/typing [post]
func (h *Handlers) Typing(c *gin.Context) {
	chatID, valid := pathID(c, "id", "chat")
	if !valid {
		return
	}
	published, err := h.Delivery.Typing(c.Request.Context(), chatID, userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, TypingResponse{Published: published})
}
