package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-chat-realtime/internal/domain"
)

func newTestRouter(every time.Duration) (*Router, *Hub, *Registry) {
	hub := NewHub()
	reg := NewRegistry()
	return NewRouter(hub, reg, every), hub, reg
}

func TestRouter_BroadcastMessage_PrivateCopyForOfflineMembers(t *testing.T) {
	r, hub, reg := newTestRouter(0)
	ctx := context.Background()

	reg.Connect("A", "ca")
	shared := hub.Subscribe("A")
	defer shared.Close()
	shared.Join(ChatTopic("C1"))

	privB := hub.Subscribe("B")
	defer privB.Close()
	privB.Join(UserTopic("B"))

	privA := hub.Subscribe("A-private")
	defer privA.Close()
	privA.Join(UserTopic("A"))

	before := testutil.ToFloat64(privateSends)
	view := domain.MessageView{ID: "m1", ChatID: "C1", Content: "hi"}
	d := r.BroadcastMessage(ctx, []string{"A", "B"}, view, "A")

	if d.Shared != 1 {
		t.Fatalf("shared = %d; want 1", d.Shared)
	}
	if len(d.Private) != 1 || d.Private[0] != "B" {
		t.Fatalf("private = %v; want [B]", d.Private)
	}
	if got := testutil.ToFloat64(privateSends) - before; got != 1 {
		t.Fatalf("private sends counter delta = %v", got)
	}

	ev := recv(t, shared)
	if ev.Type != EventMessageCreated || ev.Topic != ChatTopic("C1") {
		t.Fatalf("shared event = %+v", ev)
	}
	ev = recv(t, privB)
	if got := ev.Payload.(domain.MessageView); got.ID != "m1" || ev.Topic != UserTopic("B") {
		t.Fatalf("private event = %+v", ev)
	}
	assertEmpty(t, privA)
}

func TestRouter_BroadcastMessage_OnlineMembersGetNoPrivateCopy(t *testing.T) {
	r, _, reg := newTestRouter(0)
	reg.Connect("B", "cb")
	reg.Connect("C", "cc")

	d := r.BroadcastMessage(context.Background(), []string{"A", "B", "C", "D"}, domain.MessageView{ID: "m", ChatID: "C1"}, "A")
	if len(d.Private) != 1 || d.Private[0] != "D" {
		t.Fatalf("private = %v; want [D]", d.Private)
	}
}

func TestRouter_BroadcastTyping_Throttled(t *testing.T) {
	r, hub, _ := newTestRouter(3 * time.Second)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.typing.now = func() time.Time { return now }
	r.now = func() time.Time { return now }

	s := hub.Subscribe("s")
	defer s.Close()
	s.Join(ChatTopic("C1"))

	if !r.BroadcastTyping(ctx, "C1", "A") {
		t.Fatalf("first typing event suppressed")
	}
	if r.BroadcastTyping(ctx, "C1", "A") {
		t.Fatalf("second typing event within interval was published")
	}
	if !r.BroadcastTyping(ctx, "C1", "B") {
		t.Fatalf("another user's typing was suppressed")
	}
	if !r.BroadcastTyping(ctx, "C2", "A") {
		t.Fatalf("same user in another chat was suppressed")
	}

	now = now.Add(3 * time.Second)
	if !r.BroadcastTyping(ctx, "C1", "A") {
		t.Fatalf("typing after interval suppressed")
	}

	ev := recv(t, s)
	tp := ev.Payload.(Typing)
	if ev.Type != EventUserTyping || tp.UserID != "A" || !tp.ExpiresAt.After(ev.At) {
		t.Fatalf("typing event = %+v", ev)
	}
	recv(t, s) // B
	recv(t, s) // A after interval
	assertEmpty(t, s)
}

func TestRouter_BroadcastTyping_NoThrottle(t *testing.T) {
	r, _, _ := newTestRouter(0)
	for i := 0; i < 3; i++ {
		if !r.BroadcastTyping(context.Background(), "C1", "A") {
			t.Fatalf("typing suppressed with throttle disabled")
		}
	}
	if r.typing.size() != 0 {
		t.Fatalf("disabled throttle tracked keys")
	}
}

func TestRouter_ReadReceiptPresenceAndNotify(t *testing.T) {
	r, hub, _ := newTestRouter(0)
	ctx := context.Background()

	chat := hub.Subscribe("chat")
	status := hub.Subscribe("status")
	priv := hub.Subscribe("priv")
	defer chat.Close()
	defer status.Close()
	defer priv.Close()
	chat.Join(ChatTopic("C1"))
	status.Join(StatusTopic)
	priv.Join(UserTopic("B"))

	at := time.Now().UTC()
	r.BroadcastReadReceipt(ctx, "C1", "m1", "B", at)
	ev := recv(t, chat)
	if rr := ev.Payload.(ReadReceipt); ev.Type != EventMessageRead || rr.UserID != "B" || rr.MessageID != "m1" {
		t.Fatalf("read event = %+v", ev)
	}

	r.BroadcastPresence(ctx, "A", domain.StatusOnline)
	ev = recv(t, status)
	if sc := ev.Payload.(StatusChange); ev.Type != EventUserStatus || sc.UserID != "A" || sc.Status != domain.StatusOnline {
		t.Fatalf("status event = %+v", ev)
	}

	r.NotifyUser(ctx, "B", domain.Notification{ID: "n1", UserID: "B"})
	ev = recv(t, priv)
	if ev.Type != EventNotification {
		t.Fatalf("notify event = %+v", ev)
	}

	r.BroadcastReactions(ctx, "C1", "m1", nil)
	ev = recv(t, chat)
	if rc := ev.Payload.(ReactionsChanged); rc.Reactions == nil {
		t.Fatalf("reactions payload nil map")
	}

	r.BroadcastMessageDeleted(ctx, "C1", "m1")
	if ev = recv(t, chat); ev.Type != EventMessageDeleted {
		t.Fatalf("delete event = %+v", ev)
	}
	r.BroadcastMessageUpdated(ctx, domain.MessageView{ID: "m1", ChatID: "C1", Edited: true})
	if ev = recv(t, chat); ev.Type != EventMessageUpdated {
		t.Fatalf("update event = %+v", ev)
	}
}

func TestThrottle_ForgetsIdleKeys(t *testing.T) {
	th := newThrottle(time.Second)
	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	th.Allow("a")
	th.Allow("b")
	if th.size() != 2 {
		t.Fatalf("size = %d", th.size())
	}
	now = now.Add(time.Minute)
	th.Allow("c")
	if th.size() != 1 {
		t.Fatalf("size after gc = %d; want 1", th.size())
	}
}
