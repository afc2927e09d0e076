package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// NewStore selects a backend from the configured DSN: postgres for
// postgres:// URLs, sqlite for sqlite: URLs or *.db paths, in-memory when
// nothing is configured.
func NewStore(ctx context.Context, dsn string, limit int, logger *zap.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return NewInMemoryStore(limit), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn, limit, logger)
	case strings.HasPrefix(dsn, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite:"), limit, logger)
	default:
		return NewSQLiteStore(ctx, dsn, limit, logger)
	}
}
