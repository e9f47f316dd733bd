package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/opsignal/threatmem/internal/memory"
	"github.com/opsignal/threatmem/internal/resilience"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

// writeMemoryError maps the error taxonomy onto HTTP statuses.
func writeMemoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, memory.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, memory.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, memory.ErrPromotionInvariant):
		writeError(w, http.StatusConflict, "promotion_invariant", err.Error())
	case errors.Is(err, resilience.ErrOpen), errors.Is(err, resilience.ErrExhausted),
		errors.Is(err, memory.ErrDependencyUnavailable):
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.svc.Monitor().HealthStatus()
	status := http.StatusOK
	if h.Verdict == resilience.VerdictUnhealthy || h.Verdict == resilience.VerdictCritical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": h.Verdict,
		"uptime": time.Since(s.startTime).String(),
		"health": h,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"resilience": s.svc.Monitor().StatusSnapshot(),
	}
	if counts, err := s.svc.Counts(r.Context()); err == nil {
		resp["tiers"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

type addThreatRequest struct {
	ThreatID string            `json:"threat_id"`
	Content  string            `json:"content"`
	Severity string            `json:"severity"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleAddThreat(w http.ResponseWriter, r *http.Request) {
	var req addThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	severity, err := memory.ParseSeverity(req.Severity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	wm, err := s.svc.AddThreat(r.Context(), req.ThreatID, req.Content, severity, req.Metadata)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	log.Info().Str("threat_id", wm.ThreatID).Str("severity", string(severity)).Msg("threat_ingested")
	writeJSON(w, http.StatusCreated, wm)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.ListActive(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threat_ids": ids, "count": len(ids)})
}

func (s *Server) handleHotThreats(w http.ResponseWriter, r *http.Request) {
	min := queryInt(r, "min_interactions", 3)
	hot, err := s.svc.GetHot(r.Context(), min)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threats": hot, "count": len(hot)})
}

func (s *Server) handleStaleThreats(w http.ResponseWriter, r *http.Request) {
	maxAge := 30 * time.Minute
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "max_age must be a duration (e.g. 30m)")
			return
		}
		maxAge = d
	}
	stale, err := s.svc.GetStale(r.Context(), maxAge)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threats": stale, "count": len(stale)})
}

func (s *Server) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	wm, err := s.svc.GetThreat(r.Context(), chi.URLParam(r, "threat_id"))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (s *Server) handleDismissThreat(w http.ResponseWriter, r *http.Request) {
	threatID := chi.URLParam(r, "threat_id")
	if err := s.svc.Dismiss(r.Context(), threatID); err != nil {
		writeMemoryError(w, err)
		return
	}
	log.Info().Str("threat_id", threatID).Msg("threat_dismissed")
	writeJSON(w, http.StatusOK, map[string]string{"threat_id": threatID, "status": "dismissed"})
}

type interactionRequest struct {
	AnalystID string `json:"analyst_id"`
	Action    string `json:"action"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	wm, err := s.svc.RecordInteraction(r.Context(), chi.URLParam(r, "threat_id"), req.AnalystID, req.Action)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

type promoteShortTermRequest struct {
	Confidence          float64 `json:"confidence"`
	Industry            string  `json:"industry"`
	EvidenceCount       int     `json:"evidence_count"`
	AnalystInteractions int     `json:"analyst_interactions"`
	MemoryType          string  `json:"memory_type"`
}

func (s *Server) handlePromoteToShortTerm(w http.ResponseWriter, r *http.Request) {
	var req promoteShortTermRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	threatID := chi.URLParam(r, "threat_id")
	stm, err := s.svc.PromoteToShortTerm(r.Context(), threatID, req.Confidence, req.Industry,
		req.EvidenceCount, req.AnalystInteractions, memory.MemoryType(req.MemoryType))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	log.Info().
		Str("threat_id", threatID).
		Str("memory_id", stm.ID).
		Float64("score", stm.Score).
		Msg("threat_promoted_short_term")
	writeJSON(w, http.StatusCreated, stm)
}

func (s *Server) handleTopShortTerm(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	top, err := s.svc.GetTopShortTerm(r.Context(), limit)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": top, "count": len(top)})
}

func (s *Server) handleGetShortTerm(w http.ResponseWriter, r *http.Request) {
	stm, err := s.svc.GetShortTerm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stm)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	stm, err := s.svc.Reinforce(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stm)
}

func (s *Server) handlePromoteToLongTerm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ltm, err := s.svc.PromoteToLongTerm(r.Context(), id)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	log.Info().
		Str("short_term_id", id).
		Str("memory_id", ltm.ID).
		Str("industry", ltm.Industry).
		Msg("memory_promoted_long_term")
	writeJSON(w, http.StatusCreated, ltm)
}

func (s *Server) handleExportPending(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.ListExportPending(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memory_ids": ids, "count": len(ids)})
}

func (s *Server) handleGetByIndustry(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	out, err := s.svc.GetByIndustry(r.Context(), chi.URLParam(r, "industry"), limit)
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memories": out, "count": len(out)})
}

func (s *Server) handleGetLongTerm(w http.ResponseWriter, r *http.Request) {
	ltm, err := s.svc.GetLongTerm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ltm)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	ltm, err := s.svc.Consolidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ltm)
}

type setFactRequest struct {
	IsFact bool `json:"is_fact"`
}

func (s *Server) handleSetFact(w http.ResponseWriter, r *http.Request) {
	var req setFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.svc.SetFact(r.Context(), id, req.IsFact); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"memory_id": id, "is_fact": req.IsFact})
}

func (s *Server) handleMarkExported(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.MarkExported(r.Context(), id); err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"memory_id": id, "status": "exported"})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries := s.svc.Monitor().DeadLetters().Entries()
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries, "count": len(entries)})
}

// handleReplayDeadLetters re-executes dead-lettered operations whose
// payload alone identifies the work. Operations that need the original
// request body stay queued for operator review.
func (s *Server) handleReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	replayed := s.svc.Monitor().DeadLetters().Replay(func(dl resilience.DeadLetter) error {
		return s.replayOne(ctx, dl)
	})
	remaining := s.svc.Monitor().DeadLetters().Len()
	log.Info().Int("replayed", replayed).Int("remaining", remaining).Msg("dead_letters_replayed")
	writeJSON(w, http.StatusOK, map[string]int{"replayed": replayed, "remaining": remaining})
}

func (s *Server) replayOne(ctx context.Context, dl resilience.DeadLetter) error {
	switch dl.Op {
	case "memory.working.remove":
		return s.svc.Dismiss(ctx, dl.Payload)
	case "memory.promote.long_term":
		_, err := s.svc.PromoteToLongTerm(ctx, dl.Payload)
		return err
	case "memory.short_term.reinforce":
		_, err := s.svc.Reinforce(ctx, dl.Payload)
		return err
	case "memory.long_term.consolidate":
		_, err := s.svc.Consolidate(ctx, dl.Payload)
		return err
	case "memory.long_term.mark_exported":
		return s.svc.MarkExported(ctx, dl.Payload)
	default:
		return fmt.Errorf("operation %q requires the original request and cannot be replayed", dl.Op)
	}
}

func (s *Server) handleDecayRun(w http.ResponseWriter, r *http.Request) {
	decayed, err := s.decay.RunOnce(r.Context())
	if err != nil {
		writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"decayed": decayed})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
