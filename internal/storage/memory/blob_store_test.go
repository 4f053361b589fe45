package memory

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "html_data/page.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://html_data/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, err := store.GetObject(context.Background(), "html_data/page.html")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestBlobStoreTracksWritesAndMissingObjects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()

	if _, err := store.GetObject(ctx, "missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.PutObject(ctx, "raw_data/provider_1.json", "", bytes.NewReader([]byte("{}"))); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
	}
	if got := store.Writes("raw_data/provider_1.json"); got != 2 {
		t.Fatalf("expected 2 writes, got %d", got)
	}
	ok, err := store.Exists(ctx, "raw_data/provider_1.json")
	if err != nil || !ok {
		t.Fatalf("expected object to exist, ok=%v err=%v", ok, err)
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "raw_data/provider_1.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if err := store.DeleteObject(ctx, "raw_data/provider_1.json"); err != nil {
		t.Fatalf("DeleteObject() error = %v", err)
	}
	if ok, _ := store.Exists(ctx, "raw_data/provider_1.json"); ok {
		t.Fatal("expected object to be deleted")
	}
	if _, err := store.PutObject(ctx, "", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
}
