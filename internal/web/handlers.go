package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/store"
)

// --- JSON Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write json", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

// --- API Types ---

type subjectRequest struct {
	SubjectID string `json:"subject_id"`
}

type rankEntryJSON struct {
	SubjectID string `json:"subject_id"`
	TotalMS   int64  `json:"total_ms"`
	Total     string `json:"total"`
}

type conditionJSON struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subject_id"`
	Category    string `json:"category"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Remedy      string `json:"remedy"`
	Tier        string `json:"tier"`
	IssuedBy    string `json:"issued_by"`
	IssuedAt    string `json:"issued_at"`
	ExpiresAt   string `json:"expires_at"`
}

func toConditionJSON(c store.Condition) conditionJSON {
	return conditionJSON{
		ID:          c.ID,
		SubjectID:   c.SubjectID,
		Category:    c.Category,
		Label:       c.Label,
		Description: c.Description,
		Remedy:      c.Remedy,
		Tier:        c.Tier,
		IssuedBy:    c.IssuedBy,
		IssuedAt:    c.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:   c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// --- Handlers ---

// handleHealthz is the keep-alive endpoint.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		s.writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	if err := s.engine.OnEnter(r.Context(), req.SubjectID); err != nil {
		s.log.Error("enter", zap.String("subject", req.SubjectID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	s.tracker.Enter(req.SubjectID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		s.writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	// Drop from the present set first so a heartbeat racing this request
	// cannot re-open the session after the engine closes it.
	s.tracker.Leave(req.SubjectID)
	if err := s.engine.OnLeave(r.Context(), req.SubjectID); err != nil {
		s.log.Error("leave", zap.String("subject", req.SubjectID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.RankAll(r.Context())
	if err != nil {
		s.log.Error("rankings", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	out := make([]rankEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = rankEntryJSON{
			SubjectID: e.SubjectID,
			TotalMS:   e.Total.Milliseconds(),
			Total:     formatDuration(e.Total),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rankings": out})
}

func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	total, err := s.engine.TotalFor(r.Context(), id)
	if err != nil {
		s.log.Error("subject total", zap.String("subject", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	active, err := s.registry.ActiveFor(r.Context(), id)
	if err != nil {
		s.log.Error("subject conditions", zap.String("subject", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	conditions := make(map[string]conditionJSON, len(active))
	for category, c := range active {
		conditions[category] = toConditionJSON(c)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"subject_id": id,
		"present":    s.tracker.Present(id),
		"total_ms":   total.Milliseconds(),
		"total":      formatDuration(total),
		"conditions": conditions,
	})
}

type assignRequest struct {
	SubjectID string `json:"subject_id"`
	Category  string `json:"category"`
	IssuedBy  string `json:"issued_by"`
	TTLHours  int    `json:"ttl_hours"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.SubjectID == "" || req.Category == "" || req.IssuedBy == "" {
		s.writeError(w, http.StatusBadRequest, "subject_id, category, and issued_by are required")
		return
	}

	entry, err := s.catalog.Pick(req.Category)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	if req.TTLHours <= 0 {
		ttl = s.catalog.PickTTL(s.cfg.MinTTL, s.cfg.MaxTTL)
	}

	cand := condition.Candidate{
		Label:       entry.Label,
		Description: entry.Description,
		Remedy:      entry.Remedy,
		Tier:        entry.Tier,
	}
	c, err := s.registry.Assign(r.Context(), req.SubjectID, req.Category, cand, req.IssuedBy, ttl)
	if errors.Is(err, condition.ErrAlreadyActive) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("assign", zap.String("subject", req.SubjectID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	s.writeJSON(w, http.StatusCreated, toConditionJSON(*c))
}

func (s *Server) handleCure(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	category := r.PathValue("category")
	curedBy := r.URL.Query().Get("by")
	if curedBy == "" {
		curedBy = subject
	}

	err := s.registry.Cure(r.Context(), subject, category, curedBy)
	if errors.Is(err, condition.ErrNothingToCure) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error("cure", zap.String("subject", subject), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	actions, err := s.store.ListRecentActions(r.Context(), limit)
	if err != nil {
		s.log.Error("list actions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	type actionJSON struct {
		ID         int64  `json:"id"`
		ActorID    string `json:"actor_id"`
		SubjectID  string `json:"subject_id"`
		ActionType string `json:"action_type"`
		At         string `json:"at"`
	}
	out := make([]actionJSON, len(actions))
	for i, a := range actions {
		out[i] = actionJSON{
			ID:         a.ID,
			ActorID:    a.ActorID,
			SubjectID:  a.SubjectID,
			ActionType: a.ActionType,
			At:         a.At.UTC().Format(time.RFC3339),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *Server) handleActionStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	stats, err := s.store.GetActionStats(r.Context(), id)
	if err != nil {
		s.log.Error("action stats", zap.String("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"given":    stats.Given,
		"received": stats.Received,
	})
}

// formatDuration renders a duration as "3h 02m 05s", the way the rankings
// read best.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
