package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("summary"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c.c.Wait()

	got, ok, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got) != "summary" {
		t.Errorf("Get = %q, %v", got, ok)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	c.c.Wait()

	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("key should be gone after Delete")
	}
}

func TestCacheMiss(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(context.Background(), "absent"); ok || err != nil {
		t.Errorf("Get = ok=%v err=%v, want miss", ok, err)
	}
}
