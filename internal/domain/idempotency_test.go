package domain

import (
	"testing"
	"time"
)

func TestIdempotency_UniqueKeyPerUserAndChat(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_user_chat_key") {
		t.Fatalf("expected composite index ux_user_chat_key")
	}

	now := time.Now().UTC()
	rec := &Idempotency{ID: "i1", UserID: "u1", ChatID: "c1", Key: "k1", MessageID: "m1", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Same key in another chat is a different operation.
	other := &Idempotency{ID: "i2", UserID: "u1", ChatID: "c2", Key: "k1", MessageID: "m2", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("insert other chat: %v", err)
	}

	dup := &Idempotency{ID: "i3", UserID: "u1", ChatID: "c1", Key: "k1", MessageID: "m3", Status: 201, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (user_id, chat_id, key)")
	}
}

func TestIdempotency_Expired(t *testing.T) {
	now := time.Now()
	if (Idempotency{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatalf("future expiry reported as expired")
	}
	if !(Idempotency{ExpiresAt: now}).Expired(now) {
		t.Fatalf("expiry at now must count as expired")
	}
}

func TestIdempotency_Replayable(t *testing.T) {
	now := time.Now()
	rec := Idempotency{Key: "k1", MessageID: "m1", ExpiresAt: now.Add(time.Minute)}
	if !rec.Replayable("k1", now) {
		t.Fatalf("fresh record should replay")
	}
	if rec.Replayable("k2", now) {
		t.Fatalf("other key must not replay")
	}
	if rec.Replayable("k1", now.Add(time.Hour)) {
		t.Fatalf("expired record must not replay")
	}
	if (Idempotency{Key: "k1", ExpiresAt: now.Add(time.Minute)}).Replayable("k1", now) {
		t.Fatalf("record without a message must not replay")
	}
}
