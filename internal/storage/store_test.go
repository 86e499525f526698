package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStore_GetPut(t *testing.T) {
	store := NewMemoryStore()

	store.Put("key1", "value1")

	value, err := store.Get("key1")
	if err != nil {
		t.Fatalf("Expected value, got error %v", err)
	}
	if value != "value1" {
		t.Errorf("Expected 'value1', got '%s'", value)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get("nonexistent")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	store := NewMemoryStore()

	store.Put("key1", "value1")
	store.Put("key1", "value2")

	value, _ := store.Get("key1")
	if value != "value2" {
		t.Errorf("Expected 'value2', got '%s'", value)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 key, got %d", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	store.Put("key1", "value1")

	if err := store.Delete("key1"); err != nil {
		t.Fatalf("Expected delete to succeed, got %v", err)
	}
	if _, err := store.Get("key1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_DeleteMissing(t *testing.T) {
	store := NewMemoryStore()

	if err := store.Delete("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestMemoryStore_Keys(t *testing.T) {
	store := NewMemoryStore()
	store.Put("b", "2")
	store.Put("a", "1")
	store.Put("c", "3")

	if got := fmt.Sprint(store.Keys()); got != "[a b c]" {
		t.Errorf("Expected sorted keys [a b c], got %s", got)
	}
}

func TestMemoryStore_SnapshotIsCopy(t *testing.T) {
	store := NewMemoryStore()
	store.Put("key1", "value1")

	snap := store.Snapshot()
	snap["key1"] = "changed"

	value, _ := store.Get("key1")
	if value != "value1" {
		t.Error("Snapshot should return an independent copy")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", i, j)
				store.Put(key, "value")
				if _, err := store.Get(key); err != nil {
					t.Errorf("Expected %s to be readable: %v", key, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if store.Len() != 1000 {
		t.Errorf("Expected 1000 keys after concurrent writes, got %d", store.Len())
	}
}
