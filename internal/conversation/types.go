package conversation

import (
	"context"
	"errors"
	"time"
)

// DefaultHistoryLimit is the bounded-history cap applied when a store is
// constructed without an explicit limit.
const DefaultHistoryLimit = 10

// Role tags a turn as spoken by the user or by the assistant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrStorageUnavailable wraps failures of the backing store. Callers are
// expected to degrade (empty history on reads) rather than fail the whole
// turn, unless durability is required by policy.
var ErrStorageUnavailable = errors.New("conversation storage unavailable")

// Turn is a single message exchange unit in a user's dialogue history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes what the store currently holds.
type Stats struct {
	Users int `json:"users"`
	Turns int `json:"turns"`
}

// Store persists per-user bounded dialogue history.
//
// History returns turns in chronological order and an empty slice for
// unknown users. AppendTurn is atomic per user: it evicts the oldest turns
// once the configured bound is exceeded and advances last_updated. Appends
// for the same user are serialized; appends for distinct users do not
// contend beyond what the backing store requires.
type Store interface {
	History(ctx context.Context, userID string) ([]Turn, error)
	AppendTurn(ctx context.Context, userID string, turn Turn) error
	Clear(ctx context.Context, userID string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// appendBounded appends turn to history, evicting the oldest entries so the
// result never exceeds limit. The input slice is not mutated.
func appendBounded(history []Turn, turn Turn, limit int) []Turn {
	out := make([]Turn, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, turn)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
