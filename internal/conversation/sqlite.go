package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists dialogue history in a local SQLite file. It is the
// zero-configuration durable option: same schema as the postgres store,
// no external service required.
type SQLiteStore struct {
	db     *sql.DB
	limit  int
	locks  *userLocks
	logger *zap.Logger
}

func NewSQLiteStore(ctx context.Context, path string, limit int, logger *zap.Logger) (*SQLiteStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w: %w", path, ErrStorageUnavailable, err)
	}
	// SQLite serializes writers at the file level; a single connection
	// avoids spurious SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT PRIMARY KEY,
			session_history TEXT NOT NULL DEFAULT '[]',
			last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w: %w", ErrStorageUnavailable, err)
	}
	return &SQLiteStore{db: db, limit: limit, locks: newUserLocks(), logger: logger}, nil
}

func (s *SQLiteStore) History(ctx context.Context, userID string) ([]Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_history FROM conversations WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w: %w", ErrStorageUnavailable, err)
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode history for user %s: %w: %w", userID, ErrStorageUnavailable, err)
	}
	return turns, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, userID string, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	lock := s.locks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	history, err := s.History(ctx, userID)
	if err != nil {
		return err
	}
	history = appendBounded(history, turn, s.limit)

	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history for user %s: %w", userID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, session_history, last_updated)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (user_id) DO UPDATE
		 SET session_history = excluded.session_history, last_updated = CURRENT_TIMESTAMP`,
		userID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM conversations`).Scan(&st.Users); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w: %w", ErrStorageUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT session_history FROM conversations`)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return Stats{}, fmt.Errorf("scan stats row: %w: %w", ErrStorageUnavailable, err)
		}
		var turns []Turn
		if err := json.Unmarshal([]byte(raw), &turns); err != nil {
			continue
		}
		st.Turns += len(turns)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate stats rows: %w: %w", ErrStorageUnavailable, err)
	}
	return st, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
