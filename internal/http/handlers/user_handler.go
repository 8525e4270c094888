package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

// RegisterUserResponse returns the new user and, when token issuance is
// configured, a bearer token for it.
type RegisterUserResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token,omitempty"`
}

// UserResponse is a user profile with live presence.
type UserResponse struct {
	*domain.User
	Online bool `json:"online"`
}

// RegisterUser godoc
// @ID          registerUser
// @Summary     Register a user
// @Description Creates the identity record the chat core reads sender profiles from. A blank id is generated.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body  services.UserInput  true  "User payload"
// @Success     201  {object} handlers.RegisterUserResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "User exists"
// @Router      /users [post]
func (h *Handlers) RegisterUser(c *gin.Context) {
	var in services.UserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if len(strings.TrimSpace(in.ID)) > 64 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be at most 64 characters")
		return
	}
	u, err := h.Users.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := RegisterUserResponse{User: u}
	if h.TokenSecret != "" {
		tok, err := middleware.IssueToken(h.TokenSecret, u.ID, h.TokenTTL)
		if err != nil {
			_ = c.Error(err)
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "token issuance failed")
			return
		}
		resp.Token = tok
	}
	ok(c, http.StatusCreated, resp)
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "User ID"
// @Success     200  {object} handlers.UserResponse
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.Users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, UserResponse{User: u, Online: h.Delivery.IsOnline(u.ID)})
}
