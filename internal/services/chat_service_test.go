package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func TestChatService_Create_DefaultsAndSkipsUnknownMembers(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	v, err := f.chats.Create(ctx, "alice", ChatCreate{
		Name:      "   weekly    sync  ",
		MemberIDs: []string{"bob", "ghost", "bob", "alice"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.Type != domain.ChatGroup || v.Name != "weekly sync" || v.CreatorID != "alice" {
		t.Fatalf("chat = %+v", v.Chat)
	}
	if len(v.Members) != 2 {
		t.Fatalf("members = %v; want alice and bob", v.Members)
	}

	notes, _ := f.notes.Unread(ctx, "bob")
	if len(notes) != 1 || notes[0].Type != domain.NotifyGroupInvitation {
		t.Fatalf("invitation = %+v", notes)
	}
	if notes[0].RelatedChatID == nil || *notes[0].RelatedChatID != v.ID {
		t.Fatalf("invitation not linked to chat")
	}

	unnamed, err := f.chats.Create(ctx, "alice", ChatCreate{})
	if err != nil || unnamed.Name != defaultChatName {
		t.Fatalf("unnamed chat: %+v err=%v", unnamed, err)
	}

	f.chats.NameMaxLen = 5
	clipped, err := f.chats.Create(ctx, "alice", ChatCreate{Name: strings.Repeat("é", 9)})
	if err != nil || clipped.Name != "ééééé" {
		t.Fatalf("clipped name = %q err=%v", clipped.Name, err)
	}

	if _, err := f.chats.Create(ctx, "alice", ChatCreate{Type: "PAIR"}); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("unknown type: want ErrInvalidChat, got %v", err)
	}
	if _, err := f.chats.Create(ctx, "nobody", ChatCreate{Name: "x"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown creator: want ErrUserNotFound, got %v", err)
	}
}

func TestChatService_DirectChatIsUniquePerPair(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	first, err := f.chats.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if first.Type != domain.ChatDirect || first.Name != "bob" {
		t.Fatalf("direct chat = %+v", first.Chat)
	}
	again, err := f.chats.GetOrCreateDirect(ctx, "bob", "alice")
	if err != nil || again.ID != first.ID {
		t.Fatalf("reverse lookup: id=%s err=%v; want %s", again.ID, err, first.ID)
	}
	viaCreate, err := f.chats.Create(ctx, "alice", ChatCreate{Type: domain.ChatDirect, MemberIDs: []string{"bob"}})
	if err != nil || viaCreate.ID != first.ID {
		t.Fatalf("create DIRECT: id=%s err=%v", viaCreate.ID, err)
	}

	if _, err := f.chats.GetOrCreateDirect(ctx, "alice", "alice"); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("self direct: want ErrInvalidChat, got %v", err)
	}
	if _, err := f.chats.GetOrCreateDirect(ctx, "alice", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown peer: want ErrUserNotFound, got %v", err)
	}
	if err := f.chats.AddMember(ctx, "alice", first.ID, "bob"); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("add to direct: want ErrInvalidChat, got %v", err)
	}

	if err := f.chats.Delete(ctx, "alice", first.ID); err != nil {
		t.Fatalf("delete direct: %v", err)
	}
	fresh, err := f.chats.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil || fresh.ID == first.ID {
		t.Fatalf("pair should start over after delete: id=%s err=%v", fresh.ID, err)
	}
}

func TestChatService_UpdateAndDeleteAreCreatorOnly(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	chatID := f.group(t, "alice", "bob")

	name := "renamed"
	if _, err := f.chats.Update(ctx, "bob", chatID, domain.ChatUpdate{Name: &name}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("update by member: want ErrForbidden, got %v", err)
	}
	if _, err := f.chats.Update(ctx, "alice", chatID, domain.ChatUpdate{}); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("empty update: want ErrInvalidChat, got %v", err)
	}
	v, err := f.chats.Update(ctx, "alice", chatID, domain.ChatUpdate{Name: &name})
	if err != nil || v.Name != "renamed" {
		t.Fatalf("update: %+v err=%v", v, err)
	}

	if err := f.chats.Delete(ctx, "bob", chatID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by member: want ErrForbidden, got %v", err)
	}
	if err := f.chats.Delete(ctx, "alice", chatID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.chats.Get(ctx, "alice", chatID); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("deleted chat: want ErrChatNotFound, got %v", err)
	}
	if err := f.chats.Delete(ctx, "alice", chatID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want NotFound class, got %v", err)
	}
}

func TestChatService_MemberRules(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()
	chatID := f.group(t, "alice", "bob")

	if err := f.chats.AddMember(ctx, "bob", chatID, "carol"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member adding: want ErrForbidden, got %v", err)
	}
	if err := f.chats.AddMember(ctx, "alice", chatID, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: want ErrUserNotFound, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.chats.AddMember(ctx, "alice", chatID, "carol"); err != nil {
			t.Fatalf("add #%d: %v", i, err)
		}
	}
	if n, _ := f.notes.CountUnread(ctx, "carol"); n != 1 {
		t.Fatalf("re-adding must not re-invite, unread=%d", n)
	}

	if err := f.chats.RemoveMember(ctx, "bob", chatID, "carol"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member removing other: want ErrForbidden, got %v", err)
	}
	if err := f.chats.RemoveMember(ctx, "alice", chatID, "alice"); !errors.Is(err, ErrInvalidChat) {
		t.Fatalf("creator leaving: want ErrInvalidChat, got %v", err)
	}
	if err := f.chats.RemoveMember(ctx, "alice", chatID, "carol"); err != nil {
		t.Fatalf("creator removes: %v", err)
	}
	if err := f.chats.RemoveMember(ctx, "bob", chatID, "bob"); err != nil {
		t.Fatalf("self leave: %v", err)
	}

	members, err := f.chats.Members(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0].ID != "alice" || members[0].Username != "alice" {
		t.Fatalf("members = %+v", members)
	}
	if _, err := f.chats.Members(ctx, "bob", chatID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("ex-member listing: want ErrNotMember, got %v", err)
	}
}

func TestChatService_ListAndSearchForUser(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	v, err := f.chats.Create(ctx, "alice", ChatCreate{Name: "Release Train", MemberIDs: []string{"bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.chats.Create(ctx, "carol", ChatCreate{Name: "release party"}); err != nil {
		t.Fatalf("create other: %v", err)
	}
	f.submit(t, v.ID, "alice", "first")
	last := f.submit(t, v.ID, "alice", "second")

	list, err := f.chats.ListForUser(ctx, "bob")
	if err != nil || len(list) != 1 {
		t.Fatalf("bob chats: %+v err=%v", list, err)
	}
	if list[0].LastMessage == nil || list[0].LastMessage.ID != last.ID {
		t.Fatalf("last message = %+v", list[0].LastMessage)
	}
	if list[0].UnreadCount != 2 {
		t.Fatalf("bob unread = %d; want 2", list[0].UnreadCount)
	}

	hits, err := f.chats.Search(ctx, "bob", "RELEASE")
	if err != nil || len(hits) != 1 || hits[0].ID != v.ID {
		t.Fatalf("search = %+v err=%v", hits, err)
	}
}
