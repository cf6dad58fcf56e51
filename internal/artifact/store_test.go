package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStorePutAndGet(t *testing.T) {
	store := NewStore()
	locator := Locator{Dir: t.TempDir(), Name: "assets/app.js"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("console.log('app')")
	if _, err := store.Put(context.Background(), locator, bytes.NewReader(payload), PutOptions{ModTime: modTime}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	result, err := store.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		t.Fatalf("read artifact error: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("payload mismatch: %s", string(body))
	}
	if result.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", result.Entry.SizeBytes)
	}
	if !result.Entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, result.Entry.ModTime)
	}
	if filepath.Base(result.Entry.FilePath) != "app.js" {
		t.Fatalf("unexpected file path %s", result.Entry.FilePath)
	}
}

func TestStorePutLeavesNoTempFiles(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	if _, err := store.Put(context.Background(), Locator{Dir: dir, Name: "app.css"}, bytes.NewReader([]byte("body{}")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "app.css" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := NewStore()
	_, err := store.Get(context.Background(), Locator{Dir: t.TempDir(), Name: "missing.js"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := NewStore()
	locator := Locator{Dir: t.TempDir(), Name: "stale.js"}
	if _, err := store.Put(context.Background(), locator, bytes.NewReader([]byte("data")), PutOptions{}); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, err := store.Get(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := store.Remove(context.Background(), locator); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "chunks"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Get(context.Background(), Locator{Dir: dir, Name: "chunks"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for directory, got %v", err)
	}
}

func TestStoreRejectsEmptyLocator(t *testing.T) {
	store := NewStore()
	if _, err := store.Get(context.Background(), Locator{Name: "app.js"}); err == nil {
		t.Fatalf("expected error without dir")
	}
	if _, err := store.Get(context.Background(), Locator{Dir: t.TempDir(), Name: "/"}); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestStoreCleansTraversal(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	entry, err := store.Put(context.Background(), Locator{Dir: dir, Name: "../../escape.js"}, bytes.NewReader([]byte("x")), PutOptions{})
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if filepath.Dir(entry.FilePath) != filepath.Clean(dir) {
		t.Fatalf("traversal escaped output dir: %s", entry.FilePath)
	}
}

func TestStorePutHonoursCancelledContext(t *testing.T) {
	store := NewStore()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, Locator{Dir: dir, Name: "app.js"}, bytes.NewReader([]byte("x")), PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("cancelled put must not leave files: %v", entries)
	}
}
