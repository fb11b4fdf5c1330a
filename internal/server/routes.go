package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/audit"
	"github.com/ziadkadry99/menusql/internal/category"
	"github.com/ziadkadry99/menusql/internal/history"
	"github.com/ziadkadry99/menusql/internal/sqlgen"
)

func (s *Server) registerRoutes(r chi.Router) {
	r.Post("/api/ask", s.handleAsk)
	r.Post("/api/classify", s.handleClassify)
	r.Delete("/api/sessions/{id}", s.handleResetSession)
	r.Get("/api/rules/{category}", s.handleGetRules)
	r.Post("/api/rules/invalidate", s.handleInvalidateRules)
	r.Get("/api/history", s.handleHistory)
	r.Get("/api/stats", s.handleStats)
	if store := s.pipeline.Audit(); store != nil {
		audit.RegisterRoutes(r, store)
	}
}

// recordAudit logs an admin action when the pipeline has an audit store.
func (s *Server) recordAudit(r *http.Request, e audit.Entry) {
	store := s.pipeline.Audit()
	if store == nil {
		return
	}
	e.ActorType = audit.ActorUser
	e.ActorID = r.RemoteAddr
	if _, err := store.Log(r.Context(), e); err != nil {
		s.logger.Warn("failed to record audit entry", zap.Error(err))
	}
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	out, err := s.pipeline.Ask(r.Context(), req.SessionID, req.Query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Classify(r.Context(), req.SessionID, req.Query))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.pipeline.Reset(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.recordAudit(r, audit.Entry{Action: audit.ActionSessionReset, SessionID: id, Summary: "conversation cleared"})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	c, err := category.Parse(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rs, err := s.pipeline.Rules().GetRules(r.Context(), c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

type invalidateRequest struct {
	Category string `json:"category"`
}

func (s *Server) handleInvalidateRules(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Category == "" {
		s.pipeline.Rules().InvalidateAll()
		s.recordAudit(r, audit.Entry{Action: audit.ActionRulesReloaded, Summary: "all categories invalidated"})
		writeJSON(w, http.StatusOK, map[string]string{"invalidated": "all"})
		return
	}
	c, err := category.Parse(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.pipeline.Rules().Invalidate(c)
	s.recordAudit(r, audit.Entry{Action: audit.ActionRulesReloaded, Category: string(c), Summary: "category invalidated"})
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": string(c)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	f := history.Filter{
		SessionID: r.URL.Query().Get("session_id"),
		QueryType: r.URL.Query().Get("query_type"),
		Limit:     50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	entries, err := s.history.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type statsResponse struct {
	Generator   sqlgen.Snapshot `json:"generator"`
	RulesHits   int64           `json:"rules_cache_hits"`
	RulesMisses int64           `json:"rules_cache_misses"`
	Sessions    int             `json:"sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := s.pipeline.Rules().CacheStats()
	writeJSON(w, http.StatusOK, statsResponse{
		Generator:   s.pipeline.Generator().Metrics().Snapshot(),
		RulesHits:   hits,
		RulesMisses: misses,
		Sessions:    s.pipeline.Sessions().Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
