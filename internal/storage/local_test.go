package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	return store
}

func TestLocalStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := "schemas/users/v0000000001.json"
	content := []byte(`{"version":1}`)

	if err := store.PutIfAbsent(ctx, key, content); err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}

	exists, err := store.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}
}

func TestLocalStore_PutIfAbsentIsCreateOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := "schemas/users/v0000000001.json"
	if err := store.PutIfAbsent(ctx, key, []byte("first")); err != nil {
		t.Fatalf("initial put failed: %v", err)
	}

	err := store.PutIfAbsent(ctx, key, []byte("second"))
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("existing object was replaced: got %q", got)
	}
}

func TestLocalStore_ConcurrentPutsHaveOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.PutIfAbsent(ctx, "race/key.json", []byte(fmt.Sprintf("writer-%d", i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrPreconditionFailed) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestLocalStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nonexistent/object.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{
		"schemas/users/v0000000001.json",
		"schemas/users/v0000000002.json",
		"schemas/users_archive/v0000000001.json",
		"schemas/orders/v0000000001.json",
	} {
		if err := store.PutIfAbsent(ctx, key, []byte("{}")); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	// leftover temp file from an interrupted write
	if err := os.WriteFile(filepath.Join(store.BasePath(), "schemas", "users", tempPrefix+"123"), nil, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	keys, err := store.List(ctx, "schemas/users/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)
	want := []string{"schemas/users/v0000000001.json", "schemas/users/v0000000002.json"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", keys, want)
	}

	all, err := store.List(ctx, "schemas/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 keys, got %v", all)
	}

	none, err := store.List(ctx, "missing/")
	if err != nil {
		t.Fatalf("List of missing prefix failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no keys, got %v", none)
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a.json", "schemas/users/v1.json"}
	invalid := []string{"", "/abs", "../escape", "a/../../b", "a//b", "a\\b", "."}

	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q) = %v, want nil", k, err)
		}
	}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q) = %v, want ErrInvalidKey", k, err)
		}
	}

	store := newTestStore(t)
	if err := store.PutIfAbsent(context.Background(), "../escape", nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLocalStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.PutIfAbsent(ctx, "k.json", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
