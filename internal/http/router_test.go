package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/handlers"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:         "/api/v1",
		JWTSecret:           "router-secret",
		AllowHeaderIdentity: true,
		TokenTTL:            time.Hour,
		WSPingInterval:      time.Second,
		MaxContentRunes:     4000,
		MaxPageSize:         100,
		IdempotencyTTL:      time.Hour,
		RateRPS:             100,
		RateBurst:           100,
		OTEL:                config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newServer(t *testing.T, cfg config.Config) (*gin.Engine, *handlers.Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	rt := realtime.NewRouter(realtime.NewHub(), realtime.NewRegistry(), time.Second)
	r := gin.New()
	h := RegisterRoutes(r, Services(db, rt, cfg), cfg)
	return r, h
}

func serve(r *gin.Engine, method, path string, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_OpsEndpointsAndFallbacks(t *testing.T) {
	r, _ := newServer(t, testConfig())

	w := serve(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all CORS expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("X-Request-ID missing")
	}

	w = serve(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics: code=%d len=%d", w.Code, w.Body.Len())
	}
	if w.Header().Get("Content-Encoding") == "gzip" {
		t.Fatalf("/metrics must not be gzipped by the API middleware")
	}

	w = serve(r, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", w.Code)
	}
	var er handlers.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != handlers.ErrCodeNotFound || er.RequestID == "" {
		t.Fatalf("fallback body = %+v", er)
	}

	if w = serve(r, http.MethodPost, "/health", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health = %d", w.Code)
	}

	// Swagger is off by default.
	if w = serve(r, http.MethodGet, "/swagger/doc.json", ""); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled: %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerAndGzip(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newServer(t, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", "")
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"/chats/{id}/messages"`)) {
		t.Fatalf("doc.json: code=%d body=%.80s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/health", "", "Accept-Encoding", "gzip")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip on /health, headers=%v", w.Header())
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newServer(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", "Origin", "http://example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	w = serve(r, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin echoed: %q", got)
	}
}

func TestRegisterRoutes_RegisterThenUseToken(t *testing.T) {
	cfg := testConfig()
	cfg.AllowHeaderIdentity = false
	r, _ := newServer(t, cfg)

	// The API requires identity; registration does not.
	if w := serve(r, http.MethodGet, "/api/v1/chats", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/chats", "", middleware.HeaderUserID, "alice"); w.Code != http.StatusUnauthorized {
		t.Fatalf("header identity should be refused when disabled, got %d", w.Code)
	}

	w := serve(r, http.MethodPost, "/api/v1/users", `{"username":"alice"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	var reg handlers.RegisterUserResponse
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil || reg.Token == "" {
		t.Fatalf("register body: %v %s", err, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/api/v1/chats", `{"name":"solo"}`, "Authorization", "Bearer "+reg.Token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat = %d %s", w.Code, w.Body.String())
	}
	var chat domain.ChatView
	_ = json.Unmarshal(w.Body.Bytes(), &chat)
	if chat.CreatorID != reg.User.ID {
		t.Fatalf("chat creator = %q; want %q", chat.CreatorID, reg.User.ID)
	}
}

func TestRegisterRoutes_IdempotentReplayBypassesLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 2
	r, _ := newServer(t, cfg)

	if w := serve(r, http.MethodPost, "/api/v1/users", `{"id":"alice","username":"alice"}`); w.Code != http.StatusCreated {
		t.Fatalf("register = %d", w.Code)
	}
	w := serve(r, http.MethodPost, "/api/v1/chats", `{"name":"team"}`, middleware.HeaderUserID, "alice")
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat = %d %s", w.Code, w.Body.String())
	}
	var chat domain.ChatView
	_ = json.Unmarshal(w.Body.Bytes(), &chat)
	path := "/api/v1/chats/" + chat.ID + "/messages"

	// Second token of the burst.
	w = serve(r, http.MethodPost, path, `{"content":"hi"}`, middleware.HeaderUserID, "alice", middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}
	var first domain.MessageView
	_ = json.Unmarshal(w.Body.Bytes(), &first)

	// The bucket is empty, but a replay is not charged.
	w = serve(r, http.MethodPost, path, `{"content":"hi"}`, middleware.HeaderUserID, "alice", middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusOK || w.Header().Get(handlers.HeaderReplayed) != "true" {
		t.Fatalf("replay = %d %v", w.Code, w.Header())
	}
	var again domain.MessageView
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.ID != first.ID {
		t.Fatalf("replay returned %q; want %q", again.ID, first.ID)
	}

	w = serve(r, http.MethodPost, path, `{"content":"new"}`, middleware.HeaderUserID, "alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh submit with empty bucket = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefixAndJoinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, http.MethodGet, path, "")
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}

	if got := joinPath("/", "/ws"); got != "/ws" {
		t.Fatalf("joinPath root = %q", got)
	}
	if got := joinPath("/api/v1", "/ws"); got != "/api/v1/ws" {
		t.Fatalf("joinPath = %q", got)
	}
}
