package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

var (
	// ErrNotBuilt is returned by Search before any successful Build or Load.
	ErrNotBuilt = errors.New("knowledge index not built")
	// ErrCorruptIndex is returned when a persisted snapshot cannot be parsed.
	ErrCorruptIndex = errors.New("corrupt knowledge index snapshot")
	// ErrDimensionMismatch is returned when a snapshot's vector dimension
	// disagrees with the active embedder. Fatal at load time: vectors are
	// never truncated or padded.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Index is a semantic nearest-neighbor index over the fact corpus. Search is
// safe for unlimited concurrent callers once Build or Load has completed;
// Build publishes a fresh snapshot atomically so readers never observe a
// partially built index.
type Index interface {
	Build(ctx context.Context, facts []Fact) error
	Search(ctx context.Context, query string, k int) ([]Scored, error)
	Load() error
	Persist() error
	Size() int
	Close() error
}

// FlatIndex is a brute-force cosine index: all vectors are L2-normalized at
// ingestion so similarity is a plain inner product. Ties are broken by
// insertion order.
type FlatIndex struct {
	embedder Embedder
	path     string
	logger   *zap.Logger

	snap atomicSnapshot
}

type snapshot struct {
	dim   int
	facts []Fact
}

func NewFlatIndex(embedder Embedder, snapshotPath string, logger *zap.Logger) *FlatIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlatIndex{embedder: embedder, path: snapshotPath, logger: logger}
}

// Build embeds every fact that does not carry an embedding yet, validates
// dimensions, and swaps in the new snapshot.
func (idx *FlatIndex) Build(ctx context.Context, facts []Fact) error {
	dim := idx.embedder.Dimensions()
	built := make([]Fact, 0, len(facts))
	for i, f := range facts {
		if len(f.Embedding) == 0 {
			vec, err := idx.embedder.Embed(ctx, f.Text)
			if err != nil {
				return fmt.Errorf("embed fact %s: %w", f.ID, err)
			}
			f.Embedding = vec
		}
		if len(f.Embedding) != dim {
			return fmt.Errorf("fact %s has %d dims, embedder emits %d: %w",
				f.ID, len(f.Embedding), dim, ErrDimensionMismatch)
		}
		vec := make([]float32, dim)
		copy(vec, f.Embedding)
		normalize(vec)
		f.Embedding = vec
		if f.ID == "" {
			f.ID = fmt.Sprintf("fact-%04d", i)
		}
		built = append(built, f)
	}

	idx.snap.store(&snapshot{dim: dim, facts: built})
	idx.logger.Info("knowledge index built", zap.Int("facts", len(built)), zap.Int("dim", dim))
	return nil
}

// Search returns the top k facts by descending cosine similarity. k == 0 is
// an empty result, not an error.
func (idx *FlatIndex) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	if k < 0 {
		return nil, fmt.Errorf("k must be >= 0, got %d", k)
	}
	snap := idx.snap.load()
	if snap == nil {
		return nil, ErrNotBuilt
	}
	if k == 0 {
		return []Scored{}, nil
	}

	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qvec) != snap.dim {
		return nil, fmt.Errorf("query has %d dims, index holds %d: %w",
			len(qvec), snap.dim, ErrDimensionMismatch)
	}
	q := make([]float32, snap.dim)
	copy(q, qvec)
	normalize(q)

	scored := make([]Scored, 0, len(snap.facts))
	for _, f := range snap.facts {
		scored = append(scored, Scored{Fact: f, Score: dot(q, f.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func (idx *FlatIndex) Size() int {
	snap := idx.snap.load()
	if snap == nil {
		return 0
	}
	return len(snap.facts)
}

type persistedIndex struct {
	Dim   int    `json:"dim"`
	Facts []Fact `json:"facts"`
}

// Persist writes the current snapshot to the configured path atomically
// (temp file + rename).
func (idx *FlatIndex) Persist() error {
	snap := idx.snap.load()
	if snap == nil {
		return ErrNotBuilt
	}
	if idx.path == "" {
		return nil
	}

	raw, err := json.Marshal(persistedIndex{Dim: snap.dim, Facts: snap.facts})
	if err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if dir := filepath.Dir(idx.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Load restores a snapshot persisted by Persist. Search results after Load
// are identical to those before, for identical queries.
func (idx *FlatIndex) Load() error {
	if idx.path == "" {
		return os.ErrNotExist
	}
	raw, err := os.ReadFile(idx.path)
	if err != nil {
		return err
	}

	var p persistedIndex
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse snapshot %s: %w: %v", idx.path, ErrCorruptIndex, err)
	}
	if p.Dim != idx.embedder.Dimensions() {
		return fmt.Errorf("snapshot dim %d, embedder dim %d: %w",
			p.Dim, idx.embedder.Dimensions(), ErrDimensionMismatch)
	}
	for _, f := range p.Facts {
		if len(f.Embedding) != p.Dim {
			return fmt.Errorf("fact %s vector has %d dims, snapshot declares %d: %w",
				f.ID, len(f.Embedding), p.Dim, ErrCorruptIndex)
		}
	}

	idx.snap.store(&snapshot{dim: p.Dim, facts: p.Facts})
	idx.logger.Info("knowledge index loaded", zap.String("path", idx.path), zap.Int("facts", len(p.Facts)))
	return nil
}

func (idx *FlatIndex) Close() error { return nil }
