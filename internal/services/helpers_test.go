package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/search"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
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

func seedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := repo.CreateUser(context.Background(), db, &domain.User{ID: id, Username: id, DisplayName: "User " + id}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

// fixture wires every service over one database and an in-process hub.
type fixture struct {
	db       *gorm.DB
	hub      *realtime.Hub
	router   *realtime.Router
	messages *MessageService
	notes    *NotificationService
	chats    *ChatService
	delivery *DeliveryService
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	return newFixtureWithHub(t, realtime.NewHub(), users...)
}

func newFixtureWithHub(t *testing.T, hub *realtime.Hub, users ...string) *fixture {
	t.Helper()
	db := newSvcDB(t)
	seedUsers(t, db, users...)
	t.Cleanup(hub.Close)

	router := realtime.NewRouter(hub, realtime.NewRegistry(), 0)
	messages := &MessageService{DB: db, Ranker: search.NewRanker()}
	notes := &NotificationService{DB: db, Push: router}
	return &fixture{
		db:       db,
		hub:      hub,
		router:   router,
		messages: messages,
		notes:    notes,
		chats:    NewChatService(db, messages, notes),
		delivery: NewDeliveryService(db, messages, notes, router),
	}
}

func (f *fixture) group(t *testing.T, creator string, members ...string) string {
	t.Helper()
	v, err := f.chats.Create(context.Background(), creator, ChatCreate{Name: "team", MemberIDs: members})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return v.ID
}

func (f *fixture) submit(t *testing.T, chatID, sender, content string) domain.MessageView {
	t.Helper()
	v, err := f.delivery.SubmitMessage(context.Background(), chatID, sender, content, nil)
	if err != nil {
		t.Fatalf("submit %q: %v", content, err)
	}
	// Keep created_at strictly increasing between submissions.
	time.Sleep(2 * time.Millisecond)
	return v
}

func (f *fixture) listen(t *testing.T, id string, topics ...string) *realtime.Subscription {
	t.Helper()
	s := f.hub.Subscribe(id)
	for _, tp := range topics {
		s.Join(tp)
	}
	t.Cleanup(s.Close)
	return s
}

func recv(t *testing.T, s *realtime.Subscription) realtime.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("subscription %s closed", s.ID)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", s.ID)
	}
	return realtime.Event{}
}

func assertEmpty(t *testing.T, s *realtime.Subscription) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event for %s: %+v", s.ID, ev)
	default:
	}
}
