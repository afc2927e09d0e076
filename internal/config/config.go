package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL  string
	HistoryLimit int

	KnowledgePath     string
	IndexBackend      string
	IndexPath         string
	ChromemPath       string
	EmbeddingDim      int
	EmbedCacheEntries int64

	RetrievalTopK     int
	RetrievalMinScore float64
	PromptCharBudget  int
	GenerateTimeout   time.Duration

	BrainMode        string
	AnthropicAPIKey  string
	AnthropicModel   string
	BrainMaxTokens   int
	BrainTemperature float64

	RequireDurableHistory bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "penny"),
		AllowAnyOrigin:    false,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		HistoryLimit:      10,
		KnowledgePath:     envOrDefault("KNOWLEDGE_PATH", "knowledge.json"),
		IndexBackend:      envOrDefault("INDEX_BACKEND", "flat"),
		IndexPath:         envOrDefault("INDEX_PATH", ".data/knowledge.index"),
		ChromemPath:       envOrDefault("CHROMEM_PATH", ".data/chromem"),
		EmbeddingDim:      384,
		EmbedCacheEntries: 4096,
		RetrievalTopK:     3,
		RetrievalMinScore: 0.30,
		PromptCharBudget:  6000,
		GenerateTimeout:   12 * time.Second,
		BrainMode:         envOrDefault("BRAIN_MODE", "auto"),
		AnthropicAPIKey:   stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:    stringsTrimSpace("ANTHROPIC_MODEL"),
		BrainMaxTokens:    500,
		BrainTemperature:  0.7,
		ShutdownTimeout:   15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerateTimeout, err = durationFromEnv("GENERATE_TIMEOUT", cfg.GenerateTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RequireDurableHistory, err = boolFromEnv("REQUIRE_DURABLE_HISTORY", cfg.RequireDurableHistory)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.PromptCharBudget, err = intFromEnv("PROMPT_CHAR_BUDGET", cfg.PromptCharBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainMaxTokens, err = intFromEnv("BRAIN_MAX_TOKENS", cfg.BrainMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalMinScore, err = floatFromEnv("RETRIEVAL_MIN_SCORE", cfg.RetrievalMinScore)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainTemperature, err = floatFromEnv("BRAIN_TEMPERATURE", cfg.BrainTemperature)
	if err != nil {
		return Config{}, err
	}

	var cacheEntries int
	cacheEntries, err = intFromEnv("EMBED_CACHE_ENTRIES", int(cfg.EmbedCacheEntries))
	if err != nil {
		return Config{}, err
	}
	cfg.EmbedCacheEntries = int64(cacheEntries)

	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.RetrievalTopK <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if cfg.RetrievalMinScore < 0 || cfg.RetrievalMinScore > 1 {
		return Config{}, fmt.Errorf("RETRIEVAL_MIN_SCORE must be in [0, 1]")
	}
	if cfg.PromptCharBudget <= 0 {
		return Config{}, fmt.Errorf("PROMPT_CHAR_BUDGET must be positive")
	}
	if cfg.BrainMaxTokens <= 0 {
		return Config{}, fmt.Errorf("BRAIN_MAX_TOKENS must be positive")
	}
	if cfg.BrainTemperature < 0 || cfg.BrainTemperature > 1 {
		return Config{}, fmt.Errorf("BRAIN_TEMPERATURE must be in [0, 1]")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.IndexBackend)) {
	case "flat", "chromem":
	default:
		return Config{}, fmt.Errorf("INDEX_BACKEND must be flat or chromem")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.BrainMode)) {
	case "auto", "anthropic", "mock":
	default:
		return Config{}, fmt.Errorf("BRAIN_MODE must be auto, anthropic, or mock")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
