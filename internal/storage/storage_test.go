package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestFSStore_StoreFetch(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := []byte("segment payload")
	ref, err := store.Store(context.Background(), data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref == "" {
		t.Fatal("ref should not be empty")
	}

	got, err := store.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("fetched data mismatch: %q", got)
	}
}

func TestFSStore_FetchMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = store.Fetch(context.Background(), "blob://00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFSStore_InvalidRef(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ref := range []string{"", "s3://bucket/key", "blob://", "blob://../escape"} {
		if _, err := store.Fetch(context.Background(), ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("ref %q: expected ErrInvalidRef, got %v", ref, err)
		}
	}
}

func TestMemStore_StoreFetch(t *testing.T) {
	store := NewMemStore()

	ref, err := store.Store(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "x" {
		t.Errorf("fetched data mismatch: %q", got)
	}

	if _, err := store.Fetch(context.Background(), "blob://missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
