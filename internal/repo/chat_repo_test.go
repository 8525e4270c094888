package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func TestCreateChat_AddsCreatorAndDedupesMembers(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	c := seedChat(t, db, "alice", "bob", "alice", " ", "bob", "carol")
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Fatalf("id/created_at not assigned: %+v", c)
	}
	ids, err := ListMemberIDs(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("ListMemberIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("members = %v; want alice,bob,carol", ids)
	}
	got := map[string]bool{}
	for _, id := range ids {
		got[id] = true
	}
	for _, want := range []string{"alice", "bob", "carol"} {
		if !got[want] {
			t.Fatalf("member %s missing from %v", want, ids)
		}
	}
}

func TestMembership_AddRemove(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")

	ok, err := IsMember(ctx, db, c.ID, "dave")
	if err != nil || ok {
		t.Fatalf("IsMember before add = %v, %v; want false", ok, err)
	}
	if err := AddMember(ctx, db, c.ID, "dave"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	// Adding twice is a no-op.
	if err := AddMember(ctx, db, c.ID, "dave"); err != nil {
		t.Fatalf("AddMember again: %v", err)
	}
	if ok, _ := IsMember(ctx, db, c.ID, "dave"); !ok {
		t.Fatalf("IsMember after add = false")
	}

	removed, err := RemoveMember(ctx, db, c.ID, "dave")
	if err != nil || !removed {
		t.Fatalf("RemoveMember = %v, %v", removed, err)
	}
	removed, _ = RemoveMember(ctx, db, c.ID, "dave")
	if removed {
		t.Fatalf("second RemoveMember should report nothing removed")
	}
}

func TestDirectChat_FindAndDeleteReleasesKey(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	key := domain.DirectKey("alice", "bob")
	c := &domain.Chat{Type: domain.ChatDirect, CreatorID: "alice", DirectKey: &key}
	if err := CreateChat(ctx, db, c, []string{"bob"}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	found, err := FindDirectChat(ctx, db, domain.DirectKey("bob", "alice"))
	if err != nil || found.ID != c.ID {
		t.Fatalf("FindDirectChat = %+v, %v", found, err)
	}

	if err := DeleteChat(ctx, db, c.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := GetChat(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChat after delete err = %v; want ErrNotFound", err)
	}
	if _, err := FindDirectChat(ctx, db, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindDirectChat after delete err = %v; want ErrNotFound", err)
	}

	// The pair can open a fresh direct chat.
	again := &domain.Chat{Type: domain.ChatDirect, CreatorID: "bob", DirectKey: &key}
	if err := CreateChat(ctx, db, again, []string{"alice"}); err != nil {
		t.Fatalf("CreateChat after delete: %v", err)
	}

	if err := DeleteChat(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteChat missing err = %v; want ErrNotFound", err)
	}
}

func TestListAndSearchChatsForUser(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	a := &domain.Chat{Name: "Go 100% club", Type: domain.ChatGroup, CreatorID: "alice"}
	b := &domain.Chat{Name: "Gophers", Type: domain.ChatGroup, CreatorID: "alice"}
	other := &domain.Chat{Name: "Go elsewhere", Type: domain.ChatGroup, CreatorID: "zed"}
	for _, c := range []*domain.Chat{a, b, other} {
		if err := CreateChat(ctx, db, c, nil); err != nil {
			t.Fatalf("CreateChat: %v", err)
		}
	}

	list, err := ListChatsForUser(ctx, db, "alice")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListChatsForUser = %d chats, %v; want 2", len(list), err)
	}
	ids, err := ListChatIDsForUser(ctx, db, "alice")
	if err != nil || len(ids) != 2 {
		t.Fatalf("ListChatIDsForUser = %v, %v", ids, err)
	}

	hits, err := SearchChats(ctx, db, "alice", "GO")
	if err != nil || len(hits) != 2 {
		t.Fatalf("SearchChats(GO) = %d, %v; want 2", len(hits), err)
	}
	// "%" is matched literally.
	hits, _ = SearchChats(ctx, db, "alice", "100%")
	if len(hits) != 1 || hits[0].ID != a.ID {
		t.Fatalf("SearchChats(100%%) = %+v", hits)
	}
	hits, _ = SearchChats(ctx, db, "alice", "%")
	if len(hits) != 1 {
		t.Fatalf("literal %% should only match the chat that contains it, got %d", len(hits))
	}

	name := "Кофе Über"
	if err := UpdateChat(ctx, db, b.ID, domain.ChatUpdate{Name: &name}); err != nil {
		t.Fatalf("UpdateChat: %v", err)
	}
	for _, q := range []string{"кофе", "КОФЕ", "über", "ÜBER"} {
		hits, err = SearchChats(ctx, db, "alice", q)
		if err != nil || len(hits) != 1 || hits[0].ID != b.ID {
			t.Fatalf("SearchChats(%q) = %+v, %v; want renamed chat", q, hits, err)
		}
	}
}

func TestUpdateChat(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := seedChat(t, db, "alice")

	name, desc := "Renamed", "about"
	if err := UpdateChat(ctx, db, c.ID, domain.ChatUpdate{Name: &name, Description: &desc}); err != nil {
		t.Fatalf("UpdateChat: %v", err)
	}
	got, _ := GetChat(ctx, db, c.ID)
	if got.Name != name || got.Description != desc || got.AvatarURL != "" {
		t.Fatalf("unexpected chat after update: %+v", got)
	}
	if err := UpdateChat(ctx, db, "missing", domain.ChatUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateChat missing err = %v; want ErrNotFound", err)
	}
}
