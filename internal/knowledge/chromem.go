package knowledge

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const chromemCollection = "knowledge"

// ChromemIndex stores the corpus in chromem-go, a pure Go embedded vector
// database. With a persistence path the collection survives restarts, so
// Load and Persist are satisfied by the database itself.
type ChromemIndex struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger

	mu    sync.RWMutex
	col   *chromem.Collection
	built bool
}

func NewChromemIndex(path string, embedder Embedder, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		db  *chromem.DB
		err error
	)
	if path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w: %v", path, ErrCorruptIndex, err)
		}
	} else {
		db = chromem.NewDB()
	}

	idx := &ChromemIndex{db: db, embedder: embedder, logger: logger}

	// A persistent DB may already hold the collection from a previous run.
	col, err := db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open knowledge collection: %w", err)
	}
	idx.col = col
	if n := col.Count(); n > 0 {
		idx.built = true
		logger.Info("knowledge index restored from chromem", zap.Int("facts", n))
	}
	return idx, nil
}

// Build recreates the collection from scratch so a rebuild with the same
// corpus yields equivalent results.
func (idx *ChromemIndex) Build(ctx context.Context, facts []Fact) error {
	dim := idx.embedder.Dimensions()
	docs := make([]chromem.Document, 0, len(facts))
	for i, f := range facts {
		if f.ID == "" {
			f.ID = fmt.Sprintf("fact-%04d", i)
		}
		vec := f.Embedding
		if len(vec) == 0 {
			embedded, err := idx.embedder.Embed(ctx, f.Text)
			if err != nil {
				return fmt.Errorf("embed fact %s: %w", f.ID, err)
			}
			vec = embedded
		}
		if len(vec) != dim {
			return fmt.Errorf("fact %s has %d dims, embedder emits %d: %w",
				f.ID, len(vec), dim, ErrDimensionMismatch)
		}
		docs = append(docs, chromem.Document{
			ID:        f.ID,
			Content:   f.Text,
			Embedding: vec,
			Metadata:  map[string]string{"category": f.Category},
		})
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("reset knowledge collection: %w", err)
	}
	col, err := idx.db.CreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return fmt.Errorf("create knowledge collection: %w", err)
	}
	for _, doc := range docs {
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add fact %s: %w", doc.ID, err)
		}
	}
	idx.col = col
	idx.built = true
	idx.logger.Info("knowledge index built", zap.Int("facts", len(docs)), zap.Int("dim", dim))
	return nil
}

func (idx *ChromemIndex) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	if k < 0 {
		return nil, fmt.Errorf("k must be >= 0, got %d", k)
	}

	idx.mu.RLock()
	col, built := idx.col, idx.built
	idx.mu.RUnlock()

	// An empty collection after a successful Build is a valid index with no
	// facts, not an unbuilt one.
	if !built {
		return nil, ErrNotBuilt
	}
	count := col.Count()
	if k == 0 || count == 0 {
		return []Scored{}, nil
	}
	if k > count {
		k = count
	}

	qvec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, qvec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	scored := make([]Scored, 0, len(results))
	for _, res := range results {
		scored = append(scored, Scored{
			Fact: Fact{
				ID:       res.ID,
				Text:     res.Content,
				Category: res.Metadata["category"],
			},
			Score: float64(res.Similarity),
		})
	}
	return scored, nil
}

// Load is satisfied at construction time: a persistent chromem DB restores
// its collections when opened.
func (idx *ChromemIndex) Load() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.built {
		return ErrNotBuilt
	}
	return nil
}

// Persist is a no-op: chromem writes documents through to disk as they are
// added when a persistence path is configured.
func (idx *ChromemIndex) Persist() error { return nil }

func (idx *ChromemIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.col.Count()
}

func (idx *ChromemIndex) Close() error { return nil }
