package web

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/store"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM, // tables, strikethrough, autolinks, task lists
	),
)

// handleChart renders a subject's ward chart as HTML: accrued presence time
// plus whatever conditions are currently active, built as markdown and
// converted server-side.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	total, err := s.engine.TotalFor(r.Context(), id)
	if err != nil {
		s.log.Error("chart total", zap.String("subject", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	active, err := s.registry.ActiveFor(r.Context(), id)
	if err != nil {
		s.log.Error("chart conditions", zap.String("subject", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store error")
		return
	}

	md := buildChart(id, s.tracker.Present(id), total, active, s.clock.Now())

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		s.log.Error("chart render", zap.String("subject", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "render error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.Warn("write chart", zap.Error(err))
	}
}

func buildChart(id string, present bool, total time.Duration, active map[string]store.Condition, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Ward Chart: %s\n\n", id)
	status := "discharged"
	if present {
		status = "on the ward"
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)
	fmt.Fprintf(&b, "**Time on ward:** %s\n\n", formatDuration(total))

	if len(active) == 0 {
		b.WriteString("No active conditions. A clean bill of health, for now.\n")
		return b.String()
	}

	b.WriteString("## Active Conditions\n\n")
	b.WriteString("| Category | Condition | Tier | Remedy | Expires |\n")
	b.WriteString("|----------|-----------|------|--------|--------|\n")
	for _, category := range sortedKeys(active) {
		c := active[category]
		remaining := c.ExpiresAt.Sub(now).Round(time.Minute)
		fmt.Fprintf(&b, "| %s | %s | %s | %s | in %s |\n",
			c.Category, c.Label, c.Tier, c.Remedy, remaining)
	}

	return b.String()
}

func sortedKeys(m map[string]store.Condition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
