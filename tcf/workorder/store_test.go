package workorder

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Bavaji9/avalon/tcf/types"
)

func TestPutTakeRoundTrip(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	payload := []byte("serialized response bytes")
	id := store.Put(payload)

	got, err := store.Take(id)
	if err != nil {
		t.Fatalf("Take() err = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Take() = %q, want %q", got, payload)
	}
}

func TestSecondTakeFails(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	id := store.Put([]byte("once"))

	if _, err := store.Take(id); err != nil {
		t.Fatalf("first Take() err = %v", err)
	}
	if _, err := store.Take(id); !errors.Is(err, types.ErrUnknownResponse) {
		t.Fatalf("second Take() err = %v, want ErrUnknownResponse", err)
	}
}

func TestTakeUnknownID(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	if _, err := store.Take(999); !errors.Is(err, types.ErrUnknownResponse) {
		t.Fatalf("Take() err = %v, want ErrUnknownResponse", err)
	}
}

func TestStatReportsSizeWithoutConsuming(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	id := store.Put([]byte("12345"))

	size, err := store.Stat(id)
	if err != nil {
		t.Fatalf("Stat() err = %v", err)
	}
	if size != 5 {
		t.Fatalf("Stat() = %d, want 5", size)
	}

	// Entry must still be staged.
	if _, err := store.Take(id); err != nil {
		t.Fatalf("Take() after Stat() err = %v", err)
	}
}

func TestIdentifiersAreUnique(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	seen := make(map[types.ResponseID]bool)
	for n := 0; n < 100; n++ {
		id := store.Put([]byte{byte(n)})
		if seen[id] {
			t.Fatalf("identifier %d issued twice", id)
		}
		seen[id] = true
	}
}

func TestEvictExpired(t *testing.T) {
	store := NewStore(0)
	defer store.Close()

	old := store.Put([]byte("stale"))
	store.mu.Lock()
	e := store.entries[old]
	e.stagedAt = time.Now().Add(-time.Hour)
	store.entries[old] = e
	store.mu.Unlock()

	fresh := store.Put([]byte("fresh"))

	store.ttl = time.Minute
	if evicted := store.evictExpired(time.Now()); evicted != 1 {
		t.Fatalf("evictExpired() = %d, want 1", evicted)
	}

	if _, err := store.Take(old); !errors.Is(err, types.ErrUnknownResponse) {
		t.Fatalf("Take(stale) err = %v, want ErrUnknownResponse", err)
	}
	if _, err := store.Take(fresh); err != nil {
		t.Fatalf("Take(fresh) err = %v", err)
	}
}
