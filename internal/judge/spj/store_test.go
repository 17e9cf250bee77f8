package spj

import (
	"context"
	"testing"

	appErr "ojcore/pkg/errors"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	script := Script{ProblemID: "p1", Language: LangPython, Content: []byte("print(1)")}
	if err := store.Save(ctx, script); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Language != LangPython || string(loaded.Content) != "print(1)" {
		t.Fatalf("unexpected script: %+v", loaded)
	}

	if err := store.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "p1"); !appErr.Is(err, appErr.SPJNotFound) {
		t.Fatalf("expected SPJNotFound after delete, got %v", err)
	}
}

func TestLocalStoreSaveReplacesOtherLanguage(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, Script{ProblemID: "p1", Language: LangPython, Content: []byte("py")}); err != nil {
		t.Fatalf("save python: %v", err)
	}
	if err := store.Save(ctx, Script{ProblemID: "p1", Language: LangCpp, Content: []byte("cpp")}); err != nil {
		t.Fatalf("save cpp: %v", err)
	}

	loaded, err := store.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Language != LangCpp {
		t.Fatalf("language = %q, want cpp after replacement", loaded.Language)
	}
}

func TestLocalStoreMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Load(context.Background(), "nope"); !appErr.Is(err, appErr.SPJNotFound) {
		t.Fatalf("expected SPJNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), "nope"); !appErr.Is(err, appErr.SPJNotFound) {
		t.Fatalf("expected SPJNotFound on delete, got %v", err)
	}
}
