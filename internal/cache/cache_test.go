package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		if err := c.Set(ctx, "tenant-1", "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "tenant-1", "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v1" {
			t.Errorf("got %q, want v1", val)
		}
	})

	t.Run("MissIsNilNil", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-1", "missing")
		if err != nil || val != nil {
			t.Errorf("miss = (%v, %v), want (nil, nil)", val, err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		val, err := c.Get(ctx, "tenant-2", "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Error("tenant-2 can read tenant-1 keys")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "tenant-1", "gone", []byte("x"), time.Minute)
		if err := c.Delete(ctx, "tenant-1", "gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "tenant-1", "gone")
		if val != nil {
			t.Error("deleted key still readable")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "tenant-1", "ttl", []byte("x"), -time.Second)
		val, _ := c.Get(ctx, "tenant-1", "ttl")
		if val != nil {
			t.Error("expired key still readable")
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := c.Get(ctx, "", "k1"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := c.Set(ctx, "", "k1", nil, time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "t", "a", []byte("1"), time.Minute)
	c.Set(ctx, "t", "b", []byte("2"), time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	c.Get(ctx, "t", "a")
	c.Set(ctx, "t", "c", []byte("3"), time.Minute)

	if val, _ := c.Get(ctx, "t", "b"); val != nil {
		t.Error("least recently used key survived eviction")
	}
	if val, _ := c.Get(ctx, "t", "a"); val == nil {
		t.Error("recently used key was evicted")
	}

	size, capacity := c.Stats()
	if size != 2 || capacity != 2 {
		t.Errorf("stats = (%d, %d), want (2, 2)", size, capacity)
	}
}

func TestLRUCacheDecisions(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	decision := &domain.Decision{
		ID:          "dec-1",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		CreditScore: 731,
		Offer: domain.LendingOffer{
			Status:    domain.OfferApproved,
			MaxAmount: 5200,
		},
	}

	if err := c.SetDecision(ctx, "tenant-1", decision.ID, decision, time.Minute); err != nil {
		t.Fatalf("SetDecision failed: %v", err)
	}

	got, err := c.GetDecision(ctx, "tenant-1", "dec-1")
	if err != nil {
		t.Fatalf("GetDecision failed: %v", err)
	}
	if got == nil {
		t.Fatal("decision not cached")
	}
	if got.CreditScore != 731 || got.Offer.MaxAmount != 5200 {
		t.Errorf("cached decision mangled: %+v", got)
	}

	if missing, _ := c.GetDecision(ctx, "tenant-1", "nope"); missing != nil {
		t.Error("expected nil for uncached decision")
	}
}

func TestLRUCacheCounters(t *testing.T) {
	c := NewLRUCache(100)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "tenant-1", "user-1:evals", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != want {
			t.Errorf("counter = %d, want %d", got, want)
		}
	}

	// A fresh window restarts the count.
	got, err := c.IncrementCounter(ctx, "tenant-1", "user-1:burst", -time.Second)
	if err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	got, _ = c.IncrementCounter(ctx, "tenant-1", "user-1:burst", -time.Second)
	if got != 1 {
		t.Errorf("expired counter = %d, want 1 (window restarted)", got)
	}
}

func TestNewCacheFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("New(memory) = %T, want *LRUCache", c)
	}

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
