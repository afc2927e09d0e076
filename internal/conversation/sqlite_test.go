package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), path, 10, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	return s
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s := newTestSQLiteStore(t, path)
	if err := s.AppendTurn(ctx, "42", Turn{Role: RoleUser, Text: "remember me"}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := s.AppendTurn(ctx, "42", Turn{Role: RoleAssistant, Text: "noted"}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestSQLiteStore(t, path)
	defer reopened.Close()

	turns, err := reopened.History(ctx, "42")
	if err != nil {
		t.Fatalf("History() after reopen error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("history after reopen = %d turns, want 2", len(turns))
	}
	if turns[0].Text != "remember me" || turns[1].Text != "noted" {
		t.Fatalf("history order wrong: %+v", turns)
	}
}

func TestSQLiteBoundedHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s := newTestSQLiteStore(t, path)
	defer s.Close()

	for i := 0; i < 23; i++ {
		if err := s.AppendTurn(ctx, "u1", Turn{Role: RoleUser, Text: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", i, err)
		}
	}

	turns, err := s.History(ctx, "u1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 10 {
		t.Fatalf("history length = %d, want 10", len(turns))
	}
	if turns[0].Text != "msg-13" || turns[9].Text != "msg-22" {
		t.Fatalf("history window wrong: first=%q last=%q", turns[0].Text, turns[9].Text)
	}
}

func TestSQLiteConcurrentAppendsDistinctUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s := newTestSQLiteStore(t, path)
	defer s.Close()

	const users = 8
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			for j := 0; j < 5; j++ {
				if err := s.AppendTurn(ctx, user, Turn{Role: RoleUser, Text: fmt.Sprintf("m-%d", j)}); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent AppendTurn() error = %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Users != users || st.Turns != users*5 {
		t.Fatalf("Stats() = %+v, want %d users / %d turns", st, users, users*5)
	}
}

func TestSQLiteSetsLastUpdatedColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s := newTestSQLiteStore(t, path)
	defer s.Close()

	if err := s.AppendTurn(ctx, "42", Turn{Role: RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	var lastUpdated string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_updated FROM conversations WHERE user_id = ?`, "42",
	).Scan(&lastUpdated)
	if err != nil {
		t.Fatalf("query last_updated: %v", err)
	}
	if lastUpdated == "" {
		t.Fatalf("last_updated is empty after append")
	}
}
