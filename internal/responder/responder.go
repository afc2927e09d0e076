package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pennyhq/penny/internal/brain"
	"github.com/pennyhq/penny/internal/conversation"
	"github.com/pennyhq/penny/internal/knowledge"
	"github.com/pennyhq/penny/internal/observability"
)

// Pipeline stages, used for logging and failure metrics. A turn walks
// received → context_gathered → generated → persisted → done; fallback
// generation is an ordinary branch of the generated stage, not a failure.
const (
	stageHistory   = "context_history"
	stageRetrieval = "context_retrieval"
	stageGenerate  = "generate"
	stagePersist   = "persist"
)

const persistTimeout = 5 * time.Second

// Options tunes the response pipeline. Unset values take the documented
// defaults. MinScore and Temperature are pointers because zero is a
// legitimate explicit setting for both (no relevance threshold,
// deterministic sampling); use Float to set them.
type Options struct {
	TopK            int
	MinScore        *float64
	PromptBudget    int
	GenerateTimeout time.Duration
	MaxTokens       int64
	Temperature     *float64
	SystemPrompt    string

	// RequireDurableHistory escalates a failed history write from a
	// degraded success to an explicit error.
	RequireDurableHistory bool
}

// Float wraps a value for the optional Options fields.
func Float(v float64) *float64 { return &v }

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.MinScore == nil {
		o.MinScore = Float(0.30)
	}
	if o.PromptBudget <= 0 {
		o.PromptBudget = 6000
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = 12 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 500
	}
	if o.Temperature == nil {
		o.Temperature = Float(0.7)
	}
	if strings.TrimSpace(o.SystemPrompt) == "" {
		o.SystemPrompt = defaultSystemPrompt
	}
	return o
}

// GroundedFact reports one fact used to ground a reply, for observability.
type GroundedFact struct {
	FactID   string  `json:"fact_id"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Reply is the pipeline output for one user turn.
type Reply struct {
	TurnID    string         `json:"turn_id"`
	Text      string         `json:"text"`
	Grounding []GroundedFact `json:"grounding,omitempty"`
	Fallback  bool           `json:"fallback"`
}

// Responder orchestrates one dialogue turn: gather context, assemble a
// grounded prompt, generate (or fall back), persist both turns.
type Responder struct {
	store   conversation.Store
	index   knowledge.Index
	brain   brain.Adapter
	metrics *observability.Metrics
	logger  *zap.Logger
	opts    Options
}

func New(
	store conversation.Store,
	index knowledge.Index,
	adapter brain.Adapter,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{
		store:   store,
		index:   index,
		brain:   adapter,
		metrics: metrics,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// Respond runs the full pipeline for one incoming turn. The caller always
// gets a non-empty reply unless the context is cancelled or durable history
// is required and unavailable.
func (r *Responder) Respond(ctx context.Context, userID, text string) (Reply, error) {
	turnID := uuid.NewString()
	receivedAt := time.Now().UTC()
	log := r.logger.With(zap.String("turn_id", turnID), zap.String("user_id", userID))

	history, facts := r.gatherContext(ctx, log, userID, text)
	r.metrics.RetrievedFacts.Observe(float64(len(facts)))

	replyText, usedFallback, err := r.generate(ctx, log, turnID, userID, history, facts, text)
	if err != nil {
		return Reply{}, err
	}

	if err := r.persist(ctx, log, userID, text, replyText, receivedAt); err != nil {
		return Reply{}, err
	}

	source := "backend"
	if usedFallback {
		source = "fallback"
	}
	r.metrics.TurnsTotal.WithLabelValues(source).Inc()

	grounding := make([]GroundedFact, 0, len(facts))
	for _, f := range facts {
		grounding = append(grounding, GroundedFact{
			FactID:   f.Fact.ID,
			Category: f.Fact.Category,
			Score:    f.Score,
		})
	}
	return Reply{TurnID: turnID, Text: replyText, Grounding: grounding, Fallback: usedFallback}, nil
}

// gatherContext fetches history and knowledge concurrently. Both reads are
// best-effort: either one failing degrades grounding, never the reply.
func (r *Responder) gatherContext(
	ctx context.Context,
	log *zap.Logger,
	userID, text string,
) ([]conversation.Turn, []knowledge.Scored) {
	var (
		history []conversation.Turn
		facts   []knowledge.Scored
		wg      sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		h, err := r.store.History(ctx, userID)
		if err != nil {
			log.Warn("history fetch failed, proceeding without it", zap.Error(err))
			r.metrics.StageFailures.WithLabelValues(stageHistory).Inc()
			r.metrics.StoreErrors.WithLabelValues("history").Inc()
			return
		}
		history = h
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		results, err := r.index.Search(ctx, text, r.opts.TopK)
		r.metrics.ObserveRetrievalLatency(time.Since(start))
		if err != nil {
			log.Warn("knowledge retrieval failed, proceeding without it", zap.Error(err))
			r.metrics.StageFailures.WithLabelValues(stageRetrieval).Inc()
			return
		}
		for _, res := range results {
			if res.Score >= *r.opts.MinScore {
				facts = append(facts, res)
			}
		}
	}()
	wg.Wait()

	return history, facts
}

func (r *Responder) generate(
	ctx context.Context,
	log *zap.Logger,
	turnID, userID string,
	history []conversation.Turn,
	facts []knowledge.Scored,
	text string,
) (replyText string, usedFallback bool, err error) {
	system, messages := buildPrompt(r.opts.SystemPrompt, history, facts, text, r.opts.PromptBudget)

	genCtx, cancel := context.WithTimeout(ctx, r.opts.GenerateTimeout)
	defer cancel()

	start := time.Now()
	resp, genErr := r.brain.Generate(genCtx, brain.Request{
		UserID:      userID,
		TurnID:      turnID,
		System:      system,
		Messages:    messages,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: *r.opts.Temperature,
	})
	r.metrics.ObserveGenerationLatency(time.Since(start))

	if genErr == nil && strings.TrimSpace(resp.Text) != "" {
		return resp.Text, false, nil
	}

	// The caller going away is the one case where we stop instead of
	// falling back: nobody is waiting for the reply.
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	if genErr != nil {
		log.Warn("generation failed, taking fallback path", zap.Error(genErr))
	} else {
		log.Warn("backend returned empty text, taking fallback path")
	}
	r.metrics.StageFailures.WithLabelValues(stageGenerate).Inc()
	return FallbackReply(text), true, nil
}

// persist appends both turns. It runs on a detached context: once a reply
// exists, a client disconnect must not lose history. Each append is
// attempted even when the previous one failed, so a transient error on the
// user turn does not also drop the assistant turn.
func (r *Responder) persist(
	ctx context.Context,
	log *zap.Logger,
	userID, userText, replyText string,
	receivedAt time.Time,
) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Text: userText, Timestamp: receivedAt},
		{Role: conversation.RoleAssistant, Text: replyText, Timestamp: time.Now().UTC()},
	}
	var persistErr error
	for _, turn := range turns {
		if err := r.store.AppendTurn(persistCtx, userID, turn); err != nil {
			log.Error("failed to persist turn", zap.String("role", string(turn.Role)), zap.Error(err))
			r.metrics.StageFailures.WithLabelValues(stagePersist).Inc()
			r.metrics.StoreErrors.WithLabelValues("append").Inc()
			if persistErr == nil {
				persistErr = fmt.Errorf("persist %s turn: %w", turn.Role, err)
			}
		}
	}
	if persistErr != nil && r.opts.RequireDurableHistory {
		return persistErr
	}
	return nil
}
