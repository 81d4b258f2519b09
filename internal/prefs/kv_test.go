package prefs

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryKV_CopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	buf := []byte("abc")
	_ = kv.Set(ctx, "k", buf)
	buf[0] = 'x'

	got, _ := kv.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("expected stored copy, got %s", got)
	}
}

func TestRedisKV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	if _, err := kv.Get(ctx, "setting:timezone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := kv.Set(ctx, "setting:timezone", []byte(`"Asia/Manila"`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := mr.Get("clinicdesk:prefs:setting:timezone")
	if err != nil || raw != `"Asia/Manila"` {
		t.Fatalf("expected prefixed key in redis, got %q %v", raw, err)
	}
	if mr.TTL("clinicdesk:prefs:setting:timezone") != 0 {
		t.Error("expected no expiry")
	}

	got, err := kv.Get(ctx, "setting:timezone")
	if err != nil || string(got) != `"Asia/Manila"` {
		t.Errorf("unexpected value %s %v", got, err)
	}

	_ = kv.Delete(ctx, "setting:timezone")
	if _, err := kv.Get(ctx, "setting:timezone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted, got %v", err)
	}
}

func TestRedisKV_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := NewRedisKV(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	_, err := kv.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected transport error, got %v", err)
	}
}
