package knowledge

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Options selects and configures an index backend.
type Options struct {
	// Backend is "flat" (default) or "chromem".
	Backend string
	// SnapshotPath is where the flat index persists its vectors.
	SnapshotPath string
	// ChromemPath is the chromem persistence directory; empty keeps the DB
	// in memory.
	ChromemPath string

	Embedder Embedder
	Logger   *zap.Logger
}

func NewIndex(opts Options) (Index, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = "flat"
	}
	switch backend {
	case "flat":
		return NewFlatIndex(opts.Embedder, opts.SnapshotPath, opts.Logger), nil
	case "chromem":
		return NewChromemIndex(opts.ChromemPath, opts.Embedder, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported knowledge index backend %q", opts.Backend)
	}
}
