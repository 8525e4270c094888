package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

const maxNotificationPageSize = 100

// NotificationPage is a page of notifications (swagger helper).
type NotificationPage = domain.Page[domain.Notification]

// NotificationsResponse wraps an unpaginated notification list.
type NotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// CountResponse carries a count, e.g. the unread badge.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications
// @Description Returns a 0-based page of the caller's live notifications, newest first.
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false "Page number (0-based)"  minimum(0) default(0)
// @Param       page_size  query  int  false "Items per page"         minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.NotificationPage
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	page, size := pageParams(c)
	if size > maxNotificationPageSize {
		failErr(c, services.ErrInvalidPage)
		return
	}
	res, err := h.Notifications.List(c.Request.Context(), userID(c), page, size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// UnreadNotifications godoc
// @ID          unreadNotifications
// @Summary     List unread notifications
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.NotificationsResponse
// @Router      /notifications/unread [get]
func (h *Handlers) UnreadNotifications(c *gin.Context) {
	items, err := h.Notifications.Unread(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, NotificationsResponse{Notifications: items})
}

// CountUnreadNotifications godoc
// @ID          countUnreadNotifications
// @Summary     Count unread notifications
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.CountResponse
// @Router      /notifications/count [get]
func (h *Handlers) CountUnreadNotifications(c *gin.Context) {
	n, err := h.Notifications.CountUnread(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification as read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Notification ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Notification
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id}/read [post]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, valid := pathID(c, "id", "notification")
	if !valid {
		return
	}
	n, err := h.Notifications.MarkAsRead(c.Request.Context(), userID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// MarkAllNotificationsRead godoc
// @ID          markAllNotificationsRead
// @Summary     Mark every notification as read
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.CountResponse "Number of notifications changed"
// @Router      /notifications/read-all [post]
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.Notifications.MarkAllAsRead(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}

// DeleteNotification godoc
// @ID          deleteNotification
// @Summary     Delete a notification
// @Tags        Notifications
// @Security    BearerAuth
// @Param       id  path  string  true  "Notification ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Router      /notifications/{id} [delete]
func (h *Handlers) DeleteNotification(c *gin.Context) {
	id, valid := pathID(c, "id", "notification")
	if !valid {
		return
	}
	if err := h.Notifications.Delete(c.Request.Context(), userID(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// DeleteAllNotifications godoc
// @ID          deleteAllNotifications
// @Summary     Delete every notification
// @Tags        Notifications
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.CountResponse "Number of notifications deleted"
// @Router      /notifications [delete]
func (h *Handlers) DeleteAllNotifications(c *gin.Context) {
	n, err := h.Notifications.DeleteAll(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, CountResponse{Count: n})
}
