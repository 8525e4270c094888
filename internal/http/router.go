// Package httpapi wires the HTTP transport (Gin) to the chat services and
// the realtime router. It owns middleware ordering, the ops endpoints and
// the versioned API mount.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/docs"
	"github.com/tbourn/go-chat-realtime/internal/http/handlers"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/search"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

// maxBody caps every request body. Attachments are metadata only.
const maxBody = 1 << 20

// Services builds the service graph over db and rt.
func Services(db *gorm.DB, rt *realtime.Router, cfg config.Config) handlers.Deps {
	messages := &services.MessageService{
		DB:              db,
		Ranker:          search.NewRanker(),
		MaxContentRunes: cfg.MaxContentRunes,
	}
	notes := &services.NotificationService{DB: db, TTL: cfg.NotificationTTL, Push: rt}
	delivery := services.NewDeliveryService(db, messages, notes, rt)
	delivery.MaxPageSize = cfg.MaxPageSize

	return handlers.Deps{
		DB:             db,
		Delivery:       delivery,
		Chats:          services.NewChatService(db, messages, notes),
		Notifications:  notes,
		Users:          &services.UserService{DB: db},
		TokenSecret:    cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		IdempotencyTTL: cfg.IdempotencyTTL,
		WS: handlers.WSOptions{
			PingInterval:   cfg.WSPingInterval,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		},
	}
}

// RegisterRoutes attaches middleware, ops endpoints and the API to r and
// returns the mounted handlers.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: correlation id for logs and error bodies
//  3. RedactingLogger: access log with credentials scrubbed
//  4. Recovery: after the logger so panics carry the request id
//  5. Body size limit
//  6. Metrics
//  7. CORS and security headers
//  8. gzip, skipped for the websocket upgrade and /metrics
//
// The API group then runs Auth, the idempotency validator and the rate
// limiter, in that order, so a replayed submission bypasses the limiter.
func RegisterRoutes(r *gin.Engine, deps handlers.Deps, cfg config.Config) *handlers.Handlers {
	r.HandleMethodNotAllowed = true
	base := cfg.APIBasePath
	if base == "" {
		base = "/"
	}
	wsPath := joinPath(base, "/ws")

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBody))
	r.Use(middleware.Metrics())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
		Expose:       []string{"ETag", handlers.HeaderReplayed},
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = base
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	if deps.WS.Limiter == nil {
		deps.WS.Limiter = limiter
	}
	h := handlers.New(deps)

	pub := groupWithPrefix(r, base)
	pub.POST("/users", h.RegisterUser)

	api := groupWithPrefix(r, base)
	api.Use(
		middleware.Auth(middleware.AuthOptions{Secret: cfg.JWTSecret, AllowHeader: cfg.AllowHeaderIdentity}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(deps.DB)),
		limiter.Handler(),
	)
	h.Mount(api)
	return h
}

func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, chatID, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, chatID, key, now)
		if err != nil || rec == nil {
			return false, err
		}
		return true, nil
	}
}

func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
	}
	expose := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderReplayed}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO on every response, including ones without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    methods,
				AllowHeaders:    allowHeaders,
				ExposeHeaders:   expose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  methods,
			AllowHeaders:  allowHeaders,
			ExposeHeaders: expose,
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
