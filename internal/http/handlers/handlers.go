// Package handlers exposes the chat services over HTTP and websocket.
//
// Handlers are transport-thin: they bind and sanity-check input, call the
// service layer with the authenticated user id, and translate results and
// error classes into JSON responses.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/services"
	"github.com/tbourn/go-chat-realtime/internal/utils"
)

const defaultPageSize = 20

// Handlers groups every endpoint. Services are used concretely; DB backs
// the ETag pre-checks and idempotency records.
type Handlers struct {
	DB            *gorm.DB
	Delivery      *services.DeliveryService
	Chats         *services.ChatService
	Notifications *services.NotificationService
	Users         *services.UserService

	// TokenSecret and TokenTTL let POST /users hand back a bearer token.
	// An empty secret skips token issuance.
	TokenSecret string
	TokenTTL    time.Duration

	// IdempotencyTTL is how long a submission's Idempotency-Key replays.
	IdempotencyTTL time.Duration

	// WS configures the websocket endpoint.
	WS WSOptions
}

// Deps carries what New needs.
type Deps struct {
	DB             *gorm.DB
	Delivery       *services.DeliveryService
	Chats          *services.ChatService
	Notifications  *services.NotificationService
	Users          *services.UserService
	TokenSecret    string
	TokenTTL       time.Duration
	IdempotencyTTL time.Duration
	WS             WSOptions
}

// New builds Handlers, defaulting the optional durations.
func New(d Deps) *Handlers {
	h := &Handlers{
		DB:             d.DB,
		Delivery:       d.Delivery,
		Chats:          d.Chats,
		Notifications:  d.Notifications,
		Users:          d.Users,
		TokenSecret:    d.TokenSecret,
		TokenTTL:       d.TokenTTL,
		IdempotencyTTL: d.IdempotencyTTL,
		WS:             d.WS,
	}
	if h.TokenTTL <= 0 {
		h.TokenTTL = 24 * time.Hour
	}
	if h.IdempotencyTTL <= 0 {
		h.IdempotencyTTL = 24 * time.Hour
	}
	h.WS = h.WS.withDefaults()
	return h
}

// Mount registers every authenticated endpoint on rg. POST /users is
// public and mounted by the caller.
func (h *Handlers) Mount(rg gin.IRouter) {
	rg.GET("/ws", h.ServeWS)

	rg.GET("/users/:id", h.GetUser)

	chats := rg.Group("/chats")
	chats.POST("", h.CreateChat)
	chats.GET("", h.ListChats)
	chats.GET("/search", h.SearchChats)
	chats.POST("/direct/:userId", h.DirectChat)
	chats.GET("/:id", h.GetChat)
	chats.PUT("/:id", h.UpdateChat)
	chats.DELETE("/:id", h.DeleteChat)
	chats.GET("/:id/members", h.ListMembers)
	chats.POST("/:id/members/:userId", h.AddMember)
	chats.DELETE("/:id/members/:userId", h.RemoveMember)
	chats.POST("/:id/typing", h.Typing)
	chats.POST("/:id/messages", h.SubmitMessage)
	chats.GET("/:id/messages", h.ListMessages)
	chats.GET("/:id/messages/search", h.SearchChatMessages)

	msgs := rg.Group("/messages")
	msgs.GET("/search", h.SearchMessages)
	msgs.GET("/:id", h.GetMessage)
	msgs.PUT("/:id", h.EditMessage)
	msgs.DELETE("/:id", h.DeleteMessage)
	msgs.POST("/:id/read", h.MarkRead)
	msgs.POST("/:id/reactions", h.AddReaction)
	msgs.DELETE("/:id/reactions", h.RemoveReaction)
	msgs.POST("/:id/attachments", h.AddAttachment)

	notes := rg.Group("/notifications")
	notes.GET("", h.ListNotifications)
	notes.DELETE("", h.DeleteAllNotifications)
	notes.GET("/unread", h.UnreadNotifications)
	notes.GET("/count", h.CountUnreadNotifications)
	notes.POST("/read-all", h.MarkAllNotificationsRead)
	notes.POST("/:id/read", h.MarkNotificationRead)
	notes.DELETE("/:id", h.DeleteNotification)
}

// userID is the caller resolved by middleware.Auth.
func userID(c *gin.Context) string { return middleware.UserID(c) }

// pathID reads a UUID path parameter, failing the request when malformed.
func pathID(c *gin.Context, name, what string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a UUID")
		return "", false
	}
	return id, true
}

// pageParams reads 0-based page and page_size. Non-numeric values become
// out-of-range numbers so the service rejects them as invalid.
func pageParams(c *gin.Context) (page, size int) {
	return utils.PageQuery(c.Query("page"), c.Query("page_size"), defaultPageSize)
}

// query returns the trimmed q parameter or fails with 400.
func query(c *gin.Context) (string, bool) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "query parameter q is required")
		return "", false
	}
	return q, true
}

// etag answers 304 when If-None-Match matches tag. It reports whether the
// request was fully served.
func etag(c *gin.Context, tag string) bool {
	c.Header("ETag", tag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == tag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func statsTag(kind, scope string, count int64, maxTS *time.Time) string {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
}
