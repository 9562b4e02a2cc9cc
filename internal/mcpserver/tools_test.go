package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/catalog"
	"github.com/wardlab/infirmary/internal/clock"
	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/config"
	"github.com/wardlab/infirmary/internal/presence"
	"github.com/wardlab/infirmary/internal/store"
)

// --- Helpers ---

func newTestMCP(t *testing.T) (*Server, *clock.Fake) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "infirmary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cat, err := catalog.Load()
	require.NoError(t, err)

	cfg := &config.Config{MinTTL: time.Hour, MaxTTL: 24 * time.Hour}
	engine := presence.NewEngine(st, clk, log)
	registry := condition.NewRegistry(st, clk, log, cfg.MinTTL, cfg.MaxTTL)
	tracker := presence.NewTracker()

	return NewServer(engine, registry, tracker, cat, cfg), clk
}

func makeRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "result content is %T, not TextContent", result.Content[0])
	return tc.Text
}

// --- Tests ---

func TestRankPresenceEmpty(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleRankPresence(context.Background(), makeRequest("rank_presence", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var entries []rankEntryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	assert.Empty(t, entries)
}

func TestRankPresenceOrdersByTotal(t *testing.T) {
	s, clk := newTestMCP(t)
	ctx := context.Background()

	require.NoError(t, s.engine.OnEnter(ctx, "u1"))
	require.NoError(t, s.engine.OnEnter(ctx, "u2"))
	clk.Advance(time.Minute)
	require.NoError(t, s.engine.OnLeave(ctx, "u1"))
	clk.Advance(time.Minute)
	require.NoError(t, s.engine.OnLeave(ctx, "u2"))

	result, err := s.handleRankPresence(ctx, makeRequest("rank_presence", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var entries []rankEntryResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "u2", entries[0].SubjectID)
	assert.Equal(t, int64(120_000), entries[0].TotalMS)
}

func TestSubjectStatusRequiresSubjectID(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleSubjectStatus(context.Background(), makeRequest("subject_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSubjectStatusUnknownSubject(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleSubjectStatus(context.Background(),
		makeRequest("subject_status", map[string]any{"subject_id": "ghost"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status subjectStatusResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.Zero(t, status.TotalMS)
	assert.False(t, status.Present)
	assert.Empty(t, status.Conditions)
}

func TestAssignAndCureCondition(t *testing.T) {
	s, _ := newTestMCP(t)
	ctx := context.Background()

	result, err := s.handleAssignCondition(ctx, makeRequest("assign_condition", map[string]any{
		"subject_id": "u1",
		"category":   condition.CategoryDiagnosis,
		"issued_by":  "doc",
		"ttl_hours":  2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var c conditionResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &c))
	assert.NotEmpty(t, c.ID)
	assert.NotEmpty(t, c.Label)
	assert.Equal(t, condition.CategoryDiagnosis, c.Category)

	// Conflict on a second assignment in the same category.
	result, err = s.handleAssignCondition(ctx, makeRequest("assign_condition", map[string]any{
		"subject_id": "u1",
		"category":   condition.CategoryDiagnosis,
		"issued_by":  "doc",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleCureCondition(ctx, makeRequest("cure_condition", map[string]any{
		"subject_id": "u1",
		"category":   condition.CategoryDiagnosis,
		"cured_by":   "nurse",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var cured cureConditionResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &cured))
	assert.True(t, cured.Cured)

	// Nothing left to cure.
	result, err = s.handleCureCondition(ctx, makeRequest("cure_condition", map[string]any{
		"subject_id": "u1",
		"category":   condition.CategoryDiagnosis,
		"cured_by":   "nurse",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestAssignConditionUnknownCategory(t *testing.T) {
	s, _ := newTestMCP(t)

	result, err := s.handleAssignCondition(context.Background(), makeRequest("assign_condition", map[string]any{
		"subject_id": "u1",
		"category":   "haircut",
		"issued_by":  "doc",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
