package coldstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cold.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertGet(t *testing.T) {
	s := openTemp(t)

	if err := s.Insert("abc123", []byte("https://example.com")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "https://example.com" {
		t.Fatalf("unexpected value: %q", v)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTemp(t)

	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RemoveIdempotent(t *testing.T) {
	s := openTemp(t)

	if err := s.Remove("never-inserted"); err != nil {
		t.Fatalf("expected idempotent Remove to succeed, got %v", err)
	}

	s.Insert("k", []byte("v"))
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to be gone after Remove, got %v", err)
	}
}

func TestStore_OverwriteExisting(t *testing.T) {
	s := openTemp(t)

	s.Insert("k", []byte("v1"))
	s.Insert("k", []byte("v2"))
	v, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "v2" {
		t.Fatalf("expected overwritten value v2, got %q", v)
	}
}

func TestStore_Flush(t *testing.T) {
	s := openTemp(t)
	s.Insert("k", []byte("v"))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
