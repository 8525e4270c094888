package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

// newRepoDB opens a temp-file SQLite database with the full schema.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	if err := CreateUser(context.Background(), db, &domain.User{ID: id, Username: id}); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedChat(t *testing.T, db *gorm.DB, creator string, members ...string) *domain.Chat {
	t.Helper()
	c := &domain.Chat{Name: "chat", Type: domain.ChatGroup, CreatorID: creator}
	if err := CreateChat(context.Background(), db, c, members); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, chatID, sender, content string) *domain.Message {
	t.Helper()
	m := &domain.Message{ChatID: chatID, SenderID: sender, Content: content}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	// Keep created_at strictly increasing between seeds.
	time.Sleep(2 * time.Millisecond)
	return m
}
