// Package digest writes a periodic narrated ward report: it snapshots the
// presence rankings and active conditions, builds a plain-text summary of the
// ward's state, and asks the Anthropic Messages API to narrate it. The digest
// is optional and purely observational; it never mutates state.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/wardlab/infirmary/internal/condition"
	"github.com/wardlab/infirmary/internal/presence"
)

const systemPrompt = "You are the head physician of a slightly unhinged hospital ward, writing the daily rounds report. Summarize the ward state you are given in 3-5 sentences: who has logged the most time on the ward, and which patients carry which conditions. Keep a dry, clinical deadpan. Do not invent patients or conditions that are not in the data."

// Digest builds ward reports and narrates them through the Messages API.
type Digest struct {
	engine   *presence.Engine
	registry *condition.Registry
	log      *zap.Logger
	model    string
}

// New creates a Digest using the given Anthropic model identifier.
func New(engine *presence.Engine, registry *condition.Registry, log *zap.Logger, model string) *Digest {
	return &Digest{engine: engine, registry: registry, log: log, model: model}
}

// Run produces one narrated report and logs it. Suitable as a scheduler
// digest callback.
func (d *Digest) Run(ctx context.Context) error {
	report, err := d.buildReport(ctx)
	if err != nil {
		return fmt.Errorf("build ward report: %w", err)
	}

	narrated, err := d.narrate(ctx, report)
	if err != nil {
		return err
	}

	d.log.Info("ward digest", zap.String("report", narrated))
	return nil
}

// buildReport renders the current ward state as plain text for the model.
func (d *Digest) buildReport(ctx context.Context) (string, error) {
	entries, err := d.engine.RankAll(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if len(entries) == 0 {
		b.WriteString("The ward is empty. Nobody has accrued any time.\n")
		return b.String(), nil
	}

	b.WriteString("Time on ward, most to least:\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, e.SubjectID, formatTotal(e.Total))
	}

	b.WriteString("\nActive conditions:\n")
	listed := false
	for _, e := range entries {
		active, err := d.registry.ActiveFor(ctx, e.SubjectID)
		if err != nil {
			return "", err
		}
		for _, c := range active {
			listed = true
			fmt.Fprintf(&b, "- %s has %q (%s, tier %s), issued by %s\n",
				c.SubjectID, c.Label, c.Category, c.Tier, c.IssuedBy)
		}
	}
	if !listed {
		b.WriteString("- none\n")
	}

	return b.String(), nil
}

// narrate calls the Anthropic Messages API to turn the raw report into prose.
func (d *Digest) narrate(ctx context.Context, report string) (string, error) {
	client := anthropic.NewClient()

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(d.model),
		MaxTokens: 400,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(report)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text block in response")
}

func formatTotal(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, (d%time.Minute)/time.Second)
}
