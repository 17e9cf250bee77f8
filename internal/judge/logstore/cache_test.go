package logstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ojcore/internal/common/cache"
)

func newTestCache(t *testing.T) cache.Cache {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := cache.NewRedisCache(server.Addr())
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedStoreReadThrough(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	store := NewCachedStore(inner, newTestCache(t), time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, sampleLog("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.SubmissionID != "s1" {
		t.Fatalf("unexpected log: %+v", loaded)
	}

	// Inner deletion exposes the cached copy until eviction.
	if err := inner.Delete(ctx, "s1"); err != nil {
		t.Fatalf("inner delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Fatalf("cached get after inner delete: %v", err)
	}

	// Deleting through the decorator evicts both layers.
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err == nil {
		t.Fatal("expected miss after delete")
	}
}

func TestCachedStoreRejudgeReplacesCachedCopy(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), false)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	store := NewCachedStore(inner, newTestCache(t), time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, sampleLog("s1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	updated := sampleLog("s1")
	updated.Score = 0
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Score != 0 {
		t.Fatalf("stale cached log served after rejudge: %+v", loaded)
	}
}
