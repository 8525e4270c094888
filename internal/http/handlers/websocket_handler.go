// Websocket transport.
//
// GET /ws upgrades an authenticated request to a websocket session. The
// session starts subscribed to the caller's private channel and the global
// presence channel; chat channels are joined on demand.
//
// Client frames:
//
//	{"type":"join",   "chat_id":"…"}
//	{"type":"leave",  "chat_id":"…"}
//	{"type":"typing", "chat_id":"…"}
//	{"type":"read",   "chat_id":"…", "message_id":"…"}
//
// Server frames are hub event envelopes ({type, topic, payload, at}) plus
// command replies: {"type":"joined"|"left", "chat_id":"…"} and
// {"type":"error", "code":"…", "message":"…"}.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
)

// WSOptions configures the websocket endpoint.
type WSOptions struct {
	// PingInterval is how often the server pings; the peer must answer
	// within two intervals or the session is dropped.
	PingInterval time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// MaxFrameBytes caps inbound frames.
	MaxFrameBytes int64
	// AllowedOrigins lists accepted Origin values. Empty or "*" accepts any.
	AllowedOrigins []string
	// Limiter, when set, throttles inbound frames per user with the same
	// buckets as the HTTP API.
	Limiter *middleware.RateLimiter
}

func (o WSOptions) withDefaults() WSOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 8 << 10
	}
	return o
}

func (o WSOptions) pongWait() time.Duration { return 2 * o.PingInterval }

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and origins listed in AllowedOrigins.
func (o WSOptions) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(o.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range o.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Client frame types.
const (
	frameJoin   = "join"
	frameLeave  = "leave"
	frameTyping = "typing"
	frameRead   = "read"
)

type clientFrame struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
}

type replyFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// wsSession is one upgraded connection. Only writeLoop writes to conn.
type wsSession struct {
	h       *Handlers
	conn    *websocket.Conn
	sub     *realtime.Subscription
	userID  string
	connID  string
	log     zerolog.Logger
	replies chan replyFrame
	done    chan struct{}
}

// ServeWS godoc
// @ID          websocket
// @Summary     Open a real-time session
// @Description Upgrades to a websocket. Authenticate with a bearer header or the token query parameter.
// @Tags        Realtime
// @Security    BearerAuth
// @Param       token  query  string  false  "Bearer token for clients that cannot set headers"
// @Success     101  {string} string "Switching Protocols"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /ws [get]
func (h *Handlers) ServeWS(c *gin.Context) {
	uid := userID(c)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.WS.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	s := &wsSession{
		h:       h,
		conn:    conn,
		sub:     h.Delivery.Router.Hub().Subscribe(connID),
		userID:  uid,
		connID:  connID,
		log:     middleware.LoggerFrom(c).With().Str("conn_id", connID).Logger(),
		replies: make(chan replyFrame, 16),
		done:    make(chan struct{}),
	}
	s.sub.Join(realtime.UserTopic(uid))
	s.sub.Join(realtime.StatusTopic)

	// Disconnect bookkeeping runs after the peer is gone.
	ctx := context.WithoutCancel(c.Request.Context())
	h.Delivery.OnConnect(ctx, uid, connID)

	go s.writeLoop()
	s.readLoop(ctx)

	close(s.done)
	s.sub.Close()
	h.Delivery.OnDisconnectConn(ctx, uid, connID)
	s.log.Info().Msg("websocket closed")
}

func (s *wsSession) readLoop(ctx context.Context) {
	opts := s.h.WS
	s.conn.SetReadLimit(opts.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(opts.pongWait()))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if opts.Limiter != nil && !opts.Limiter.Allow("user:"+s.userID) {
			s.reply(replyFrame{Type: "error", Code: ErrCodeRateLimited, Message: "too many frames"})
			continue
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.reply(replyFrame{Type: "error", Code: ErrCodeBadRequest, Message: "invalid frame"})
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *wsSession) handle(ctx context.Context, f clientFrame) {
	if _, err := uuid.Parse(f.ChatID); err != nil && f.Type != frameRead {
		s.reply(replyFrame{Type: "error", ChatID: f.ChatID, Code: ErrCodeBadRequest, Message: "chat_id must be a UUID"})
		return
	}

	var err error
	switch f.Type {
	case frameJoin:
		if err = s.h.Delivery.CanJoin(ctx, s.userID, f.ChatID); err == nil {
			s.sub.Join(realtime.ChatTopic(f.ChatID))
			s.reply(replyFrame{Type: "joined", ChatID: f.ChatID})
		}
	case frameLeave:
		s.sub.Leave(realtime.ChatTopic(f.ChatID))
		s.reply(replyFrame{Type: "left", ChatID: f.ChatID})
	case frameTyping:
		_, err = s.h.Delivery.Typing(ctx, f.ChatID, s.userID)
	case frameRead:
		if _, perr := uuid.Parse(f.MessageID); perr != nil {
			s.reply(replyFrame{Type: "error", Code: ErrCodeBadRequest, Message: "message_id must be a UUID"})
			return
		}
		err = s.h.Delivery.MarkRead(ctx, f.ChatID, f.MessageID, s.userID)
	default:
		s.reply(replyFrame{Type: "error", Code: ErrCodeBadRequest, Message: "unknown frame type"})
		return
	}

	if err != nil {
		_, code, known := classify(err)
		msg := err.Error()
		if !known {
			s.log.Error().Err(err).Str("frame", f.Type).Msg("websocket command failed")
			msg = "internal server error"
		}
		s.reply(replyFrame{Type: "error", ChatID: f.ChatID, Code: code, Message: msg})
	}
}

// reply queues a command reply; it gives up when the session is ending.
func (s *wsSession) reply(r replyFrame) {
	select {
	case s.replies <- r:
	case <-s.done:
	}
}

func (s *wsSession) writeLoop() {
	opts := s.h.WS
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case ev, open := <-s.sub.Events():
			if !open {
				s.writeClose()
				return
			}
			if err := s.write(ev); err != nil {
				return
			}
		case r := <-s.replies:
			if err := s.write(r); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.writeClose()
			return
		}
	}
}

func (s *wsSession) write(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.h.WS.WriteWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("websocket write failed")
		return err
	}
	return nil
}

func (s *wsSession) writeClose() {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(s.h.WS.WriteWait))
}
