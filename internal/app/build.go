package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/pennyhq/penny/internal/brain"
	"github.com/pennyhq/penny/internal/config"
	"github.com/pennyhq/penny/internal/conversation"
	"github.com/pennyhq/penny/internal/httpapi"
	"github.com/pennyhq/penny/internal/knowledge"
	"github.com/pennyhq/penny/internal/observability"
	"github.com/pennyhq/penny/internal/responder"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Responder *responder.Responder
	Store     conversation.Store
	Index     knowledge.Index
	Metrics   *observability.Metrics
	Logger    *zap.Logger

	// Cleanup should be called on shutdown to flush the index snapshot and
	// release external resources.
	Cleanup func() error
}

// Build wires the full service: store, embedder, knowledge index, generative
// adapter, responder, and HTTP surface.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := conversation.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	index, err := knowledge.NewIndex(knowledge.Options{
		Backend:      cfg.IndexBackend,
		SnapshotPath: cfg.IndexPath,
		ChromemPath:  cfg.ChromemPath,
		Embedder:     embedder,
		Logger:       logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("knowledge index init failed: %w", err)
	}

	if err := loadKnowledge(ctx, cfg, index, logger); err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, err
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:            cfg.BrainMode,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Model:           cfg.AnthropicModel,
	})
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	rsp := responder.New(store, index, adapter, metrics, logger, responder.Options{
		TopK:                  cfg.RetrievalTopK,
		MinScore:              responder.Float(cfg.RetrievalMinScore),
		PromptBudget:          cfg.PromptCharBudget,
		GenerateTimeout:       cfg.GenerateTimeout,
		MaxTokens:             int64(cfg.BrainMaxTokens),
		Temperature:           responder.Float(cfg.BrainTemperature),
		RequireDurableHistory: cfg.RequireDurableHistory,
	})

	api := httpapi.New(cfg, rsp, store, index, metrics, logger)

	cleanup := func() error {
		var errs []string
		if err := index.Persist(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := index.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Responder: rsp,
		Store:     store,
		Index:     index,
		Metrics:   metrics,
		Logger:    logger,
		Cleanup:   cleanup,
	}, nil
}

func buildEmbedder(cfg config.Config) (knowledge.Embedder, error) {
	base := knowledge.NewTokenHashEmbedder(cfg.EmbeddingDim)
	cached, err := knowledge.NewCachingEmbedder(base, cfg.EmbedCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("embedder init failed: %w", err)
	}
	return cached, nil
}

// loadKnowledge restores a persisted index when one exists and otherwise
// builds a fresh one from the corpus file. A missing corpus is not fatal:
// the service still answers, just without grounding.
func loadKnowledge(ctx context.Context, cfg config.Config, index knowledge.Index, logger *zap.Logger) error {
	if err := index.Load(); err == nil {
		logger.Info("knowledge index restored", zap.Int("facts", index.Size()))
		return nil
	} else if !errors.Is(err, knowledge.ErrNotBuilt) && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("stale knowledge index ignored, rebuilding from corpus", zap.Error(err))
	}

	facts, err := knowledge.LoadCorpus(cfg.KnowledgePath)
	if err != nil {
		logger.Warn("knowledge corpus unavailable, continuing without grounding",
			zap.String("path", cfg.KnowledgePath), zap.Error(err))
		return nil
	}
	if err := index.Build(ctx, facts); err != nil {
		return fmt.Errorf("knowledge index build failed: %w", err)
	}
	logger.Info("knowledge index built",
		zap.String("path", cfg.KnowledgePath), zap.Int("facts", index.Size()))
	return nil
}
