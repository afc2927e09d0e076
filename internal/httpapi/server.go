package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pennyhq/penny/internal/config"
	"github.com/pennyhq/penny/internal/conversation"
	"github.com/pennyhq/penny/internal/knowledge"
	"github.com/pennyhq/penny/internal/observability"
	"github.com/pennyhq/penny/internal/responder"
)

type Server struct {
	cfg       config.Config
	responder *responder.Responder
	store     conversation.Store
	index     knowledge.Index
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func New(
	cfg config.Config,
	rsp *responder.Responder,
	store conversation.Store,
	index knowledge.Index,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		responder: rsp,
		store:     store,
		index:     index,
		metrics:   metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other websites cannot drive a user's chat
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/respond", s.handleRespond)
	r.Get("/v1/history/{userID}", s.handleGetHistory)
	r.Delete("/v1/history/{userID}", s.handleClearHistory)
	r.Get("/v1/knowledge/search", s.handleKnowledgeSearch)
	r.Get("/v1/stats", s.handleStats)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"index_facts": s.index.Size(),
	})
}

type respondRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}

	reply, err := s.responder.Respond(r.Context(), req.UserID, req.Text)
	if err != nil {
		if errors.Is(err, conversation.ErrStorageUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "respond_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if strings.TrimSpace(userID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	turns, err := s.store.History(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if strings.TrimSpace(userID) == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return
	}

	if err := s.store.Clear(r.Context(), userID); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchResult struct {
	FactID   string  `json:"fact_id"`
	Text     string  `json:"text"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query parameter q is required")
		return
	}
	k := s.cfg.RetrievalTopK
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_k", "query parameter k must be a non-negative integer")
			return
		}
		k = n
	}

	scored, err := s.index.Search(r.Context(), query, k)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotBuilt) {
			respondError(w, http.StatusServiceUnavailable, "index_not_built", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}

	results := make([]searchResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, searchResult{
			FactID:   sc.Fact.ID,
			Text:     sc.Fact.Text,
			Category: sc.Fact.Category,
			Score:    sc.Score,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"users":       stats.Users,
		"turns":       stats.Turns,
		"index_facts": s.index.Size(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
