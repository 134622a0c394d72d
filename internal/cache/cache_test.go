package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-1"

	t.Run("SetAndGet", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("Get = %q, want value1", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		c := NewLRUCache(100)

		val, err := c.Get(ctx, tenantID, "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %q", val)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		c := NewLRUCache(100)

		if _, err := c.Get(ctx, "", "key1"); err == nil {
			t.Error("expected error for Get without tenant")
		}
		if err := c.Set(ctx, "", "key1", []byte("v"), time.Minute); err == nil {
			t.Error("expected error for Set without tenant")
		}
		if err := c.Delete(ctx, "", "key1"); err == nil {
			t.Error("expected error for Delete without tenant")
		}
		if _, err := c.IncrementCounter(ctx, "", "key1", time.Minute); err == nil {
			t.Error("expected error for IncrementCounter without tenant")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, "tenant-a", "shared", []byte("a-value"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := c.Set(ctx, "tenant-b", "shared", []byte("b-value"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "tenant-a", "shared")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(val, []byte("a-value")) {
			t.Errorf("tenant-a sees %q, want a-value", val)
		}

		val, err = c.Get(ctx, "tenant-b", "shared")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(val, []byte("b-value")) {
			t.Errorf("tenant-b sees %q, want b-value", val)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "ephemeral", []byte("v"), 10*time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		time.Sleep(30 * time.Millisecond)

		val, err := c.Get(ctx, tenantID, "ephemeral")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected expired entry to miss, got %q", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "key1", []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := c.Delete(ctx, tenantID, "key1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, err := c.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected deleted entry to miss, got %q", val)
		}

		// Deleting a missing key is not an error.
		if err := c.Delete(ctx, tenantID, "never-existed"); err != nil {
			t.Errorf("Delete of missing key failed: %v", err)
		}
	})

	t.Run("EvictsOldest", func(t *testing.T) {
		c := NewLRUCache(3)

		for i := 0; i < 3; i++ {
			key := fmt.Sprintf("key%d", i)
			if err := c.Set(ctx, tenantID, key, []byte(key), time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}

		// Touch key0 so key1 becomes the oldest.
		if _, err := c.Get(ctx, tenantID, "key0"); err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if err := c.Set(ctx, tenantID, "key3", []byte("key3"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		if val, _ := c.Get(ctx, tenantID, "key1"); val != nil {
			t.Error("expected key1 evicted")
		}
		if val, _ := c.Get(ctx, tenantID, "key0"); val == nil {
			t.Error("expected recently used key0 retained")
		}

		size, capacity := c.Stats()
		if size != 3 || capacity != 3 {
			t.Errorf("Stats = (%d, %d), want (3, 3)", size, capacity)
		}
	})

	t.Run("UpdateExistingKey", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Set(ctx, tenantID, "key1", []byte("old"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := c.Set(ctx, tenantID, "key1", []byte("new"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(val, []byte("new")) {
			t.Errorf("Get = %q, want new", val)
		}

		size, _ := c.Stats()
		if size != 1 {
			t.Errorf("size = %d after update, want 1", size)
		}
	})

	t.Run("SystemConfigRoundTrip", func(t *testing.T) {
		c := NewLRUCache(100)

		// Empty cache: nil config, no error.
		cfg, err := c.GetSystemConfig(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetSystemConfig failed: %v", err)
		}
		if cfg != nil {
			t.Errorf("expected nil config on miss, got %+v", cfg)
		}

		want := &domain.SystemConfig{
			AutoBlockCritical: true,
			AutoBlockFraud:    false,
			SIMSwapManual:     true,
			SMSSensitivity:    70,
			CallSensitivity:   40,
			FraudSensitivity:  90,
		}
		if err := c.SetSystemConfig(ctx, tenantID, want, time.Minute); err != nil {
			t.Fatalf("SetSystemConfig failed: %v", err)
		}

		got, err := c.GetSystemConfig(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetSystemConfig failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached config")
		}
		if *got != *want {
			t.Errorf("config = %+v, want %+v", got, want)
		}
	})

	t.Run("IncrementCounterWindow", func(t *testing.T) {
		c := NewLRUCache(100)

		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, tenantID, "events", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		}

		// Separate tenants count independently.
		got, err := c.IncrementCounter(ctx, "tenant-other", "events", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("other tenant count = %d, want 1", got)
		}
	})

	t.Run("IncrementCounterResetsAfterWindow", func(t *testing.T) {
		c := NewLRUCache(100)

		if _, err := c.IncrementCounter(ctx, tenantID, "burst", 10*time.Millisecond); err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}

		time.Sleep(30 * time.Millisecond)

		got, err := c.IncrementCounter(ctx, tenantID, "burst", 10*time.Millisecond)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if got != 1 {
			t.Errorf("count = %d after window expiry, want 1", got)
		}
	})

	t.Run("PingAndClose", func(t *testing.T) {
		c := NewLRUCache(100)

		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}

		if err := c.Set(ctx, tenantID, "key1", []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := c.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		val, err := c.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get after Close failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected empty cache after Close, got %q", val)
		}
	})
}

func TestNewUnsupportedType(t *testing.T) {
	_, err := New(domain.CacheConfig{Type: "memcached"})
	if err == nil {
		t.Fatal("expected error for unsupported cache type")
	}
}

func TestNewMemory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected *LRUCache, got %T", c)
	}
}
