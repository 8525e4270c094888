package handlers

import (
	"bytes"
	"context"
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

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/search"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

// ---------- test plumbing ----------

const testSecret = "handler-secret"

type testEnv struct {
	db  *gorm.DB
	hub *realtime.Hub
	h   *Handlers
	r   *gin.Engine
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newEnv wires real services over sqlite and mounts every route the way
// the server does, with header identity enabled.
func newEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	for _, id := range users {
		if err := repo.CreateUser(context.Background(), db, &domain.User{ID: id, Username: id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}

	hub := realtime.NewHub()
	router := realtime.NewRouter(hub, realtime.NewRegistry(), time.Minute)
	messages := &services.MessageService{DB: db, Ranker: search.NewRanker()}
	notes := &services.NotificationService{DB: db, Push: router}

	h := New(Deps{
		DB:            db,
		Delivery:      services.NewDeliveryService(db, messages, notes, router),
		Chats:         services.NewChatService(db, messages, notes),
		Notifications: notes,
		Users:         &services.UserService{DB: db},
		TokenSecret:   testSecret,
		WS:            WSOptions{PingInterval: time.Second},
	})

	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/users", h.RegisterUser)

	api := r.Group("/")
	api.Use(
		middleware.Auth(middleware.AuthOptions{Secret: testSecret, AllowHeader: true}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, func(ctx context.Context, userID, chatID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, chatID, key, now)
			return rec != nil, err
		}),
	)
	h.Mount(api)

	return &testEnv{db: db, hub: hub, h: h, r: r}
}

// do sends a request as user (empty for anonymous). body is JSON-encoded
// unless it is already a string.
func (e *testEnv) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d; want %d (body=%s)", w.Code, want, w.Body.String())
	}
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	if er := decode[ErrorResponse](t, w); er.Code != code {
		t.Fatalf("code = %q; want %q (%s)", er.Code, code, er.Message)
	}
}

func (e *testEnv) group(t *testing.T, creator string, members ...string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/chats", creator, services.ChatCreate{Name: "team", MemberIDs: members})
	expectStatus(t, w, http.StatusCreated)
	return decode[domain.ChatView](t, w).ID
}

func (e *testEnv) send(t *testing.T, chatID, sender, content string) domain.MessageView {
	t.Helper()
	w := e.do(t, http.MethodPost, "/chats/"+chatID+"/messages", sender, SubmitMessageRequest{Content: content})
	expectStatus(t, w, http.StatusCreated)
	// Keep created_at strictly increasing between submissions.
	time.Sleep(2 * time.Millisecond)
	return decode[domain.MessageView](t, w)
}
