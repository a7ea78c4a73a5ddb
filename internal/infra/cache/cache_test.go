package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_SetIfAbsent(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	if !c.SetIfAbsent("tx-1", "first") {
		t.Fatal("expected first SetIfAbsent to store")
	}
	if c.SetIfAbsent("tx-1", "second") {
		t.Fatal("expected second SetIfAbsent to be refused")
	}
	if v, _ := c.Get("tx-1"); v != "first" {
		t.Errorf("expected 'first', got '%s'", v)
	}

	time.Sleep(80 * time.Millisecond)

	if !c.SetIfAbsent("tx-1", "third") {
		t.Fatal("expected SetIfAbsent to store after expiry")
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Close()
	c.Close()
}
