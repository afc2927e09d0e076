package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists dialogue history in PostgreSQL, one row per user
// with the turn list serialized as JSONB.
type PostgresStore struct {
	pool   *pgxpool.Pool
	limit  int
	locks  *userLocks
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, limit int, logger *zap.Logger) (*PostgresStore, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w: %w", ErrStorageUnavailable, err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, limit: limit, locks: newUserLocks(), logger: logger}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT PRIMARY KEY,
			session_history JSONB NOT NULL DEFAULT '[]',
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_updated ON conversations (last_updated);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w: %w", stmt, ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, userID string) ([]Turn, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT session_history FROM conversations WHERE user_id=$1`, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w: %w", ErrStorageUnavailable, err)
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode history for user %s: %w: %w", userID, ErrStorageUnavailable, err)
	}
	return turns, nil
}

// AppendTurn serializes same-user appends with an in-process lock and uses
// INSERT ... ON CONFLICT so the row is created lazily on first contact.
func (s *PostgresStore) AppendTurn(ctx context.Context, userID string, turn Turn) error {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, session_history, last_updated)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE
		 SET session_history = EXCLUDED.session_history, last_updated = now()`,
		userID, raw,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear history: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*), coalesce(sum(jsonb_array_length(session_history)), 0) FROM conversations`,
	).Scan(&st.Users, &st.Turns)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w: %w", ErrStorageUnavailable, err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
