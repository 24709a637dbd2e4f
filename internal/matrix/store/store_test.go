package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"maunium.net/go/mautrix/id"

	"nekobot/internal/log"
)

const testUser = id.UserID("@bot:example.org")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions", "nekobot.db"), log.NewWithWriter(io.Discard, false))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_LoadMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if got, _ := s.LoadNextBatch(ctx, testUser); got != "" {
		t.Errorf("LoadNextBatch() = %q, want empty for unknown user", got)
	}
	if got, _ := s.LoadFilterID(ctx, testUser); got != "" {
		t.Errorf("LoadFilterID() = %q, want empty for unknown user", got)
	}
}

func TestStore_SaveAndLoadNextBatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveNextBatch(ctx, testUser, "s72594_4483_1934")
	if got, _ := s.LoadNextBatch(ctx, testUser); got != "s72594_4483_1934" {
		t.Errorf("LoadNextBatch() = %q, want the stored sync token", got)
	}

	s.SaveNextBatch(ctx, testUser, "s72595_4490_2001")
	if got, _ := s.LoadNextBatch(ctx, testUser); got != "s72595_4490_2001" {
		t.Errorf("LoadNextBatch() after overwrite = %q, want the newer token", got)
	}
}

func TestStore_SaveAndLoadFilterID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveFilterID(ctx, testUser, "filter-1")
	if got, _ := s.LoadFilterID(ctx, testUser); got != "filter-1" {
		t.Errorf("LoadFilterID() = %q, want %q", got, "filter-1")
	}
}

func TestStore_FilterAndBatchAreIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveFilterID(ctx, testUser, "filter-1")
	s.SaveNextBatch(ctx, testUser, "s100_200")

	if got, _ := s.LoadFilterID(ctx, testUser); got != "filter-1" {
		t.Errorf("LoadFilterID() = %q, want %q after saving a batch", got, "filter-1")
	}
	if got, _ := s.LoadNextBatch(ctx, testUser); got != "s100_200" {
		t.Errorf("LoadNextBatch() = %q, want %q after saving a filter", got, "s100_200")
	}
}

func TestStore_UsersAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveNextBatch(ctx, testUser, "s100_200")
	if got, _ := s.LoadNextBatch(ctx, id.UserID("@other:example.org")); got != "" {
		t.Errorf("LoadNextBatch() for other user = %q, want empty", got)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nekobot.db")
	logger := log.NewWithWriter(io.Discard, false)
	ctx := context.Background()

	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.SaveNextBatch(ctx, testUser, "s100_200")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Open() after close error = %v", err)
	}
	defer s.Close()
	if got, _ := s.LoadNextBatch(ctx, testUser); got != "s100_200" {
		t.Errorf("LoadNextBatch() after reopen = %q, want the persisted token", got)
	}
}
