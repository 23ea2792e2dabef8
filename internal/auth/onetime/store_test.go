package onetime

import (
	"context"
	"testing"
	"time"
)

func TestConsumeIsSingleUse(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Put(ctx, "tok", "u1", time.Now().UTC().Add(time.Hour))

	uid, ok := s.Consume(ctx, "tok")
	if !ok || uid != "u1" {
		t.Fatalf("first consume: uid=%q ok=%v", uid, ok)
	}
	if _, ok := s.Consume(ctx, "tok"); ok {
		t.Fatal("second consume should fail")
	}
}

func TestConsumeExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	s.nowF = func() time.Time { return base }
	s.Put(ctx, "tok", "u1", base.Add(time.Minute))

	s.nowF = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := s.Consume(ctx, "tok"); ok {
		t.Fatal("expired token should not be consumable")
	}
}

func TestConsumeUnknown(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Consume(context.Background(), "missing"); ok {
		t.Fatal("unknown token should not be consumable")
	}
}
