package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryNonceStoreTTL(t *testing.T) {
	store := NewMemoryNonceStore(time.Minute, 16)
	now := time.Unix(1_700_000_000, 0).UTC()

	fresh, err := store.Reserve(context.Background(), "0xAbc", "n1", now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !fresh {
		t.Fatal("expected first reservation to succeed")
	}
	fresh, err = store.Reserve(context.Background(), "0xabc", "n1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if fresh {
		t.Fatal("expected duplicate (case-insensitive address) to be rejected")
	}
	// Beyond the TTL the nonce ages out and may be reserved again.
	fresh, err = store.Reserve(context.Background(), "0xabc", "n1", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !fresh {
		t.Fatal("expected expired nonce to be reservable")
	}
}

func TestMemoryNonceStoreCapacityEviction(t *testing.T) {
	store := NewMemoryNonceStore(time.Hour, 0)
	now := time.Unix(1_700_000_000, 0).UTC()
	// Capacity 0 selects the default; fill two entries and confirm both held.
	if fresh, _ := store.Reserve(context.Background(), "0xa", "n1", now); !fresh {
		t.Fatal("expected reservation")
	}
	if fresh, _ := store.Reserve(context.Background(), "0xb", "n1", now); !fresh {
		t.Fatal("expected per-address scoping")
	}
	if fresh, _ := store.Reserve(context.Background(), "0xa", "n1", now.Add(time.Second)); fresh {
		t.Fatal("expected duplicate rejection")
	}
}

func TestLevelDBNonceStoreReserve(t *testing.T) {
	store, err := NewLevelDBNonceStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	now := time.Unix(1_700_000_000, 0).UTC()

	fresh, err := store.Reserve(context.Background(), "0xAbc", "n1", now)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !fresh {
		t.Fatal("expected first reservation to succeed")
	}
	fresh, err = store.Reserve(context.Background(), "0xabc", "n1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if fresh {
		t.Fatal("expected duplicate to be rejected")
	}
	fresh, err = store.Reserve(context.Background(), "0xdef", "n1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !fresh {
		t.Fatal("expected different address to reserve independently")
	}
}

func TestLevelDBNonceStorePrune(t *testing.T) {
	store, err := NewLevelDBNonceStore(t.TempDir(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	now := time.Unix(1_700_000_000, 0).UTC()

	if fresh, _ := store.Reserve(context.Background(), "0xabc", "n1", now); !fresh {
		t.Fatal("expected reservation")
	}
	// The prune pass runs on its own cadence; by the next eligible pass the
	// entry is far outside the TTL and gets removed.
	later := now.Add(2 * time.Minute)
	if fresh, _ := store.Reserve(context.Background(), "0xabc", "n2", later); !fresh {
		t.Fatal("expected reservation")
	}
	fresh, err := store.Reserve(context.Background(), "0xabc", "n1", later.Add(time.Second))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !fresh {
		t.Fatal("expected pruned nonce to be reservable again")
	}
}
