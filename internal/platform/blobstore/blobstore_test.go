package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return map[string]Store{"memory": NewMemoryStore(), "fs": fsStore}
}

func sha(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			content := `{"student_id":"S123"}` + "\n"

			obj, err := store.Put(ctx, "backups/2024-05-01/patients.ndjson", strings.NewReader(content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if obj.Size != int64(len(content)) {
				t.Errorf("expected size %d, got %d", len(content), obj.Size)
			}
			if obj.Hash != sha(content) {
				t.Errorf("unexpected hash %s", obj.Hash)
			}

			rc, got, err := store.Get(ctx, "backups/2024-05-01/patients.ndjson")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer rc.Close()
			data, _ := io.ReadAll(rc)
			if string(data) != content {
				t.Errorf("expected %q, got %q", content, data)
			}
			if got.Name != "backups/2024-05-01/patients.ndjson" {
				t.Errorf("unexpected name %s", got.Name)
			}
		})
	}
}

func TestStore_PutReplaces(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			_, _ = store.Put(ctx, "a.txt", strings.NewReader("one"))
			_, _ = store.Put(ctx, "a.txt", strings.NewReader("two"))

			rc, _, err := store.Get(ctx, "a.txt")
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()
			data, _ := io.ReadAll(rc)
			if string(data) != "two" {
				t.Errorf("expected replaced content, got %q", data)
			}
		})
	}
}

func TestStore_ListByPrefix(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			for _, name := range []string{"backups/2024-05-02/users.ndjson", "backups/2024-05-01/users.ndjson", "exports/x.csv"} {
				if _, err := store.Put(ctx, name, strings.NewReader("x")); err != nil {
					t.Fatal(err)
				}
			}
			objs, err := store.List(ctx, "backups/")
			if err != nil {
				t.Fatal(err)
			}
			if len(objs) != 2 {
				t.Fatalf("expected 2 objects, got %d", len(objs))
			}
			if objs[0].Name != "backups/2024-05-01/users.ndjson" {
				t.Errorf("expected sorted names, got %s first", objs[0].Name)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get: expected ErrNotFound, got %v", err)
			}
			if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			ctx := context.Background()
			_, _ = store.Put(ctx, "gone.txt", strings.NewReader("x"))
			if err := store.Delete(ctx, "gone.txt"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := store.Get(ctx, "gone.txt"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestStore_RejectsEscapingNames(t *testing.T) {
	for kind, store := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			for _, name := range []string{"", "/etc/passwd", "../outside", "a/../../b", "..", `a\b`} {
				if _, err := store.Put(context.Background(), name, strings.NewReader("x")); !errors.Is(err, ErrInvalidName) {
					t.Errorf("Put(%q): expected ErrInvalidName, got %v", name, err)
				}
			}
		})
	}
}

func TestCleanName(t *testing.T) {
	got, err := CleanName("backups//2024-05-01/./users.ndjson")
	if err != nil || got != "backups/2024-05-01/users.ndjson" {
		t.Errorf("expected cleaned name, got %q, %v", got, err)
	}
}

func TestMemoryStore_ConcurrentPuts(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Put(context.Background(), "k/"+string(rune('a'+i%26)), strings.NewReader("x"))
		}(i)
	}
	wg.Wait()
	objs, _ := store.List(context.Background(), "k/")
	if len(objs) != 26 {
		t.Errorf("expected 26 objects, got %d", len(objs))
	}
}
