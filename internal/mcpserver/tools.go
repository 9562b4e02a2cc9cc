package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/store"
)

// --- Tool Definitions ---

func rankPresenceTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"rank_presence",
		"List all subjects ranked by total accrued presence time, descending.",
		json.RawMessage(`{
			"type": "object",
			"properties": {}
		}`),
	)
}

func subjectStatusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"subject_status",
		"Get a subject's total presence time, whether they are currently present, and their active conditions.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"subject_id": {
					"type": "string",
					"description": "Subject identifier"
				}
			},
			"required": ["subject_id"]
		}`),
	)
}

func assignConditionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"assign_condition",
		"Assign a random condition from the catalog to a subject. Fails if the subject already holds an active condition in that category.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"subject_id": {
					"type": "string",
					"description": "Subject receiving the condition"
				},
				"category": {
					"type": "string",
					"enum": ["diagnosis", "experiment"],
					"description": "Condition category"
				},
				"issued_by": {
					"type": "string",
					"description": "Actor issuing the condition"
				},
				"ttl_hours": {
					"type": "integer",
					"description": "Lifetime in whole hours (optional; random within the configured range when omitted)"
				}
			},
			"required": ["subject_id", "category", "issued_by"]
		}`),
	)
}

func cureConditionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"cure_condition",
		"Remove a subject's condition in the given category before it expires on its own.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"subject_id": {
					"type": "string",
					"description": "Subject to cure"
				},
				"category": {
					"type": "string",
					"enum": ["diagnosis", "experiment"],
					"description": "Condition category"
				},
				"cured_by": {
					"type": "string",
					"description": "Actor performing the cure"
				}
			},
			"required": ["subject_id", "category", "cured_by"]
		}`),
	)
}

// --- Tool Handlers ---

// rankEntryResult is one row of the rank_presence response.
type rankEntryResult struct {
	SubjectID string `json:"subject_id"`
	TotalMS   int64  `json:"total_ms"`
}

func (s *Server) handleRankPresence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.engine.RankAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rank presence: %v", err)), nil
	}

	out := make([]rankEntryResult, len(entries))
	for i, e := range entries {
		out[i] = rankEntryResult{SubjectID: e.SubjectID, TotalMS: e.Total.Milliseconds()}
	}
	return resultJSON(out)
}

type subjectStatusArgs struct {
	SubjectID string `json:"subject_id"`
}

// conditionResult mirrors a stored condition for tool responses.
type conditionResult struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Remedy      string `json:"remedy"`
	Tier        string `json:"tier"`
	IssuedBy    string `json:"issued_by"`
	ExpiresAt   string `json:"expires_at"`
}

func toConditionResult(c store.Condition) conditionResult {
	return conditionResult{
		ID:          c.ID,
		Category:    c.Category,
		Label:       c.Label,
		Description: c.Description,
		Remedy:      c.Remedy,
		Tier:        c.Tier,
		IssuedBy:    c.IssuedBy,
		ExpiresAt:   c.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type subjectStatusResult struct {
	SubjectID  string                     `json:"subject_id"`
	Present    bool                       `json:"present"`
	TotalMS    int64                      `json:"total_ms"`
	Conditions map[string]conditionResult `json:"conditions"`
}

func (s *Server) handleSubjectStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args subjectStatusArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SubjectID == "" {
		return mcp.NewToolResultError("subject_id is required"), nil
	}

	total, err := s.engine.TotalFor(ctx, args.SubjectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("subject status: %v", err)), nil
	}
	active, err := s.registry.ActiveFor(ctx, args.SubjectID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("subject status: %v", err)), nil
	}

	conditions := make(map[string]conditionResult, len(active))
	for category, c := range active {
		conditions[category] = toConditionResult(c)
	}

	return resultJSON(subjectStatusResult{
		SubjectID:  args.SubjectID,
		Present:    s.tracker.Present(args.SubjectID),
		TotalMS:    total.Milliseconds(),
		Conditions: conditions,
	})
}

type assignConditionArgs struct {
	SubjectID string `json:"subject_id"`
	Category  string `json:"category"`
	IssuedBy  string `json:"issued_by"`
	TTLHours  int    `json:"ttl_hours"`
}

func (s *Server) handleAssignCondition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args assignConditionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SubjectID == "" || args.Category == "" || args.IssuedBy == "" {
		return mcp.NewToolResultError("subject_id, category, and issued_by are required"), nil
	}

	entry, err := s.catalog.Pick(args.Category)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ttl := time.Duration(args.TTLHours) * time.Hour
	if args.TTLHours <= 0 {
		ttl = s.catalog.PickTTL(s.cfg.MinTTL, s.cfg.MaxTTL)
	}

	cand := condition.Candidate{
		Label:       entry.Label,
		Description: entry.Description,
		Remedy:      entry.Remedy,
		Tier:        entry.Tier,
	}
	c, err := s.registry.Assign(ctx, args.SubjectID, args.Category, cand, args.IssuedBy, ttl)
	if errors.Is(err, condition.ErrAlreadyActive) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("assign condition: %v", err)), nil
	}

	return resultJSON(toConditionResult(*c))
}

type cureConditionArgs struct {
	SubjectID string `json:"subject_id"`
	Category  string `json:"category"`
	CuredBy   string `json:"cured_by"`
}

type cureConditionResult struct {
	Cured bool `json:"cured"`
}

func (s *Server) handleCureCondition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args cureConditionArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.SubjectID == "" || args.Category == "" || args.CuredBy == "" {
		return mcp.NewToolResultError("subject_id, category, and cured_by are required"), nil
	}

	err := s.registry.Cure(ctx, args.SubjectID, args.Category, args.CuredBy)
	if errors.Is(err, condition.ErrNothingToCure) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cure condition: %v", err)), nil
	}

	return resultJSON(cureConditionResult{Cured: true})
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
