package memory

import "testing"

func TestMatchStoreLifecycle(t *testing.T) {
	store := NewMatchStore()

	if !store.Insert("ABC123", nil) {
		t.Fatalf("expected first insert to succeed")
	}
	if store.Insert("ABC123", nil) {
		t.Fatalf("expected duplicate insert to be rejected")
	}
	if _, ok := store.Get("ABC123"); !ok {
		t.Fatalf("expected match present")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 match, got %d", store.Len())
	}

	if _, ok := store.Delete("ABC123"); !ok {
		t.Fatalf("expected delete to report the removed match")
	}
	if _, ok := store.Get("ABC123"); ok {
		t.Fatalf("expected match removed")
	}
	if _, ok := store.Delete("ABC123"); ok {
		t.Fatalf("expected second delete to be a no-op")
	}
}
