package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func TestCreateMessage_StampsPersistenceTime(t *testing.T) {
	db := newRepoDB(t)
	c := seedChat(t, db, "alice")

	before := time.Now().UTC()
	m := &domain.Message{ChatID: c.ID, SenderID: "alice", Content: "hi", CreatedAt: before.Add(-time.Hour)}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" {
		t.Fatalf("id not assigned")
	}
	if m.CreatedAt.Before(before) {
		t.Fatalf("CreatedAt %v should be stamped at persistence (>= %v)", m.CreatedAt, before)
	}
}

func TestListMessagesPage_DescendingWithoutOverlap(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")

	var ids []string
	for _, s := range []string{"m1", "m2", "m3", "m4"} {
		ids = append(ids, seedMessage(t, db, c.ID, "alice", s).ID)
	}

	p0, err := ListMessagesPage(ctx, db, c.ID, 0, 2)
	if err != nil {
		t.Fatalf("page0: %v", err)
	}
	p1, err := ListMessagesPage(ctx, db, c.ID, 2, 2)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	got := append(p0, p1...)
	if len(got) != 4 {
		t.Fatalf("got %d messages; want 4", len(got))
	}
	for i := range got {
		if got[i].ID != ids[len(ids)-1-i] {
			t.Fatalf("position %d = %s; want %s", i, got[i].ID, ids[len(ids)-1-i])
		}
		if i > 0 && !got[i-1].CreatedAt.After(got[i].CreatedAt) {
			t.Fatalf("not strictly descending at %d", i)
		}
	}

	total, err := CountMessages(ctx, db, c.ID)
	if err != nil || total != 4 {
		t.Fatalf("CountMessages = %d, %v", total, err)
	}
}

func TestSoftDeleteMessage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")
	m := seedMessage(t, db, c.ID, "alice", "bye")

	if err := SoftDeleteMessage(ctx, db, m.ID); err != nil {
		t.Fatalf("SoftDeleteMessage: %v", err)
	}
	if _, err := GetMessage(ctx, db, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMessage after delete err = %v; want ErrNotFound", err)
	}
	var raw domain.Message
	if err := db.Unscoped().Where("id = ?", m.ID).First(&raw).Error; err != nil {
		t.Fatalf("row should be retained: %v", err)
	}
	if !raw.Deleted || !raw.DeletedAt.Valid {
		t.Fatalf("deleted flag and marker must both be set: %+v", raw)
	}
	if n, _ := CountMessages(ctx, db, c.ID); n != 0 {
		t.Fatalf("deleted message still counted: %d", n)
	}
	if err := SoftDeleteMessage(ctx, db, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v; want ErrNotFound", err)
	}
}

func TestUpdateMessageContent(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")
	m := seedMessage(t, db, c.ID, "alice", "draft")

	at := time.Now().UTC()
	if err := UpdateMessageContent(ctx, db, m.ID, "final", at); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}
	got, _ := GetMessage(ctx, db, m.ID)
	if got.Content != "final" || !got.Edited || got.EditedAt == nil {
		t.Fatalf("unexpected message after edit: %+v", got)
	}
	if err := UpdateMessageContent(ctx, db, "nope", "x", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("edit missing err = %v; want ErrNotFound", err)
	}
}

func TestGetMessageInChat(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c1 := seedChat(t, db, "alice")
	c2 := seedChat(t, db, "alice")
	m := seedMessage(t, db, c1.ID, "alice", "x")

	if _, err := GetMessageInChat(ctx, db, c1.ID, m.ID); err != nil {
		t.Fatalf("same chat: %v", err)
	}
	if _, err := GetMessageInChat(ctx, db, c2.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other chat err = %v; want ErrNotFound", err)
	}
}

func TestCountUnreadAndLastMessage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice", "bob")

	m1 := seedMessage(t, db, c.ID, "alice", "one")
	seedMessage(t, db, c.ID, "alice", "two")
	last := seedMessage(t, db, c.ID, "bob", "three")

	n, err := CountUnread(ctx, db, c.ID, "bob")
	if err != nil || n != 2 {
		t.Fatalf("CountUnread(bob) = %d, %v; want 2", n, err)
	}
	if err := MarkRead(ctx, db, m1.ID, "bob", time.Now().UTC()); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n, _ := CountUnread(ctx, db, c.ID, "bob"); n != 1 {
		t.Fatalf("CountUnread after read = %d; want 1", n)
	}

	got, err := LastMessage(ctx, db, c.ID)
	if err != nil || got.ID != last.ID {
		t.Fatalf("LastMessage = %+v, %v", got, err)
	}
	empty := seedChat(t, db, "alice")
	if _, err := LastMessage(ctx, db, empty.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastMessage on empty chat err = %v", err)
	}
}

func TestSearchMessages_CaseInsensitiveAndScoped(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c1 := seedChat(t, db, "alice")
	c2 := seedChat(t, db, "alice")
	seedMessage(t, db, c1.ID, "alice", "Hello World")
	seedMessage(t, db, c2.ID, "alice", "hello again")
	seedMessage(t, db, c2.ID, "alice", "unrelated")

	hits, err := SearchMessages(ctx, db, []string{c1.ID}, "HELLO", 0)
	if err != nil || len(hits) != 1 {
		t.Fatalf("scoped search = %d, %v; want 1", len(hits), err)
	}
	hits, _ = SearchMessages(ctx, db, []string{c1.ID, c2.ID}, "hello", 0)
	if len(hits) != 2 {
		t.Fatalf("multi-chat search = %d; want 2", len(hits))
	}
	hits, _ = SearchMessages(ctx, db, []string{c1.ID, c2.ID}, "hello", 1)
	if len(hits) != 1 {
		t.Fatalf("limited search = %d; want 1", len(hits))
	}
	hits, _ = SearchMessages(ctx, db, nil, "hello", 0)
	if len(hits) != 0 {
		t.Fatalf("no chats should yield no hits")
	}
}

func TestSearchMessages_UnicodeFolding(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")
	seedMessage(t, db, c.ID, "alice", "Über alles")
	seedMessage(t, db, c.ID, "alice", "Привет мир")
	edited := seedMessage(t, db, c.ID, "alice", "placeholder")
	if err := UpdateMessageContent(ctx, db, edited.ID, "Große Straße", time.Now().UTC()); err != nil {
		t.Fatalf("UpdateMessageContent: %v", err)
	}

	cases := map[string]int{
		"Über":    1,
		"über":    1,
		"ÜBER":    1,
		"Привет":  1,
		"привет":  1,
		"ПРИВЕТ":  1,
		"alles":   1,
		"STRASSE": 1,
		"straße":  1,
		"missing": 0,
	}
	for q, want := range cases {
		hits, err := SearchMessages(ctx, db, []string{c.ID}, q, 0)
		if err != nil || len(hits) != want {
			t.Fatalf("SearchMessages(%q) = %d, %v; want %d", q, len(hits), err, want)
		}
	}
}

func TestAutoMigrate_BackfillsFoldedColumns(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")
	m := seedMessage(t, db, c.ID, "alice", "Ärger")

	// Simulate rows written before the folded columns existed.
	if err := db.Model(&domain.Message{}).Where("id = ?", m.ID).UpdateColumn("content_folded", "").Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Model(&domain.Chat{}).Where("id = ?", c.ID).UpdateColumn("name_folded", "").Error; err != nil {
		t.Fatal(err)
	}
	if hits, _ := SearchMessages(ctx, db, []string{c.ID}, "ärger", 0); len(hits) != 0 {
		t.Fatalf("unfolded row matched before backfill")
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if hits, err := SearchMessages(ctx, db, []string{c.ID}, "ärger", 0); err != nil || len(hits) != 1 {
		t.Fatalf("after backfill = %d, %v; want 1", len(hits), err)
	}
	if hits, err := SearchChats(ctx, db, "alice", "CHAT"); err != nil || len(hits) != 1 {
		t.Fatalf("chat after backfill = %d, %v; want 1", len(hits), err)
	}
}

func TestAddAttachment_PreloadedWithMessage(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")
	m := seedMessage(t, db, c.ID, "alice", "see file")

	a := &domain.Attachment{FileName: "cat.png", FileType: "image/png", URL: "https://cdn/cat.png", Size: 10}
	if err := AddAttachment(ctx, db, m.ID, a); err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}
	if a.Kind != domain.AttachmentImage {
		t.Fatalf("kind = %s; want IMAGE", a.Kind)
	}
	got, err := GetMessage(ctx, db, m.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].FileName != "cat.png" {
		t.Fatalf("attachments not preloaded: %+v", got.Attachments)
	}
}
