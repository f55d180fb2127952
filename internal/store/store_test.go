package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := Open(ctx, path, Options{})
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		if err := s.Logs().InsertOne(ctx, createTestEntry("id-1", "login", "u1", 0)); err != nil {
			t.Fatalf("InsertOne() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(ctx, path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	n, err := s.Logs().Count(ctx, nil)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after repeated opens, got %d", n)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "2000"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_UnreachablePathIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")

	_, err := Open(context.Background(), path, Options{})
	if err == nil {
		t.Fatal("expected error for unreachable path")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", Options{})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.Logs().InsertOne(ctx, createTestEntry("id-1", "login", "u1", 0)); err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}
	n, err := s.Logs().Count(ctx, nil)
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1", n, err)
	}
}

func TestCollectionNames(t *testing.T) {
	s := createTestStore(t)
	if got := s.Logs().Name(); got != LogsTable {
		t.Errorf("Logs().Name() = %q", got)
	}
	if got := s.Archive().Name(); got != ArchiveTable {
		t.Errorf("Archive().Name() = %q", got)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}
