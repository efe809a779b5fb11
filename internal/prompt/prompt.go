// Package prompt renders an agent's user-prompt template against an
// execution context under a token budget. Rendering never fails — when
// the assembled prompt is over budget it degrades by truncating long
// knowledge items and then dropping the lowest-priority ones.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// Budget bounds the rendered prompt. Token counts are a length-based
// approximation (1 token ≈ 4 characters), not a tokenizer.
type Budget struct {
	MaxContextTokens       int
	MaxKnowledgeItemTokens int
}

// Template placeholders. Unknown placeholders render empty.
const (
	phProduct         = "{{product}}"
	phPersona         = "{{persona}}"
	phIntent          = "{{intent}}"
	phGoal            = "{{goal}}"
	phSuccessCriteria = "{{success_criteria}}"
	phKnowledge       = "{{knowledge}}"
	phLPStructure     = "{{lp_structure}}"
)

// ApproxTokens approximates the token count of a string.
func ApproxTokens(s string) int {
	return len(s) / 4
}

// Render assembles the prompt. Knowledge items longer than the per-item
// budget are truncated first; if the whole prompt still exceeds the
// context budget, knowledge items are dropped lowest-priority first
// (the tail of the already priority-ordered slice) until it fits or
// nothing droppable remains.
func Render(template string, ec *models.ExecutionContext, b Budget) string {
	items := make([]string, 0, len(ec.Knowledge))
	for _, k := range ec.Knowledge {
		items = append(items, truncateTokens(renderKnowledgeItem(k), b.MaxKnowledgeItemTokens))
	}

	keep := len(items)
	out := renderOnce(template, ec, items[:keep])
	for b.MaxContextTokens > 0 && ApproxTokens(out) > b.MaxContextTokens && keep > 0 {
		keep--
		out = renderOnce(template, ec, items[:keep])
	}
	return out
}

func renderOnce(template string, ec *models.ExecutionContext, knowledgeItems []string) string {
	r := strings.NewReplacer(
		phProduct, renderProduct(ec.Product),
		phPersona, renderPersona(ec.Persona),
		phIntent, renderIntent(ec.Intent),
		phGoal, goalOf(ec.Intent),
		phSuccessCriteria, criteriaOf(ec.Intent),
		phKnowledge, strings.Join(knowledgeItems, "\n\n"),
		phLPStructure, renderJSON(ec.LPStructure),
	)
	return r.Replace(template)
}

func renderProduct(p *models.Product) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Product: %s", p.Name)
	if p.Category != "" {
		fmt.Fprintf(&sb, " (%s)", p.Category)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "\n%s", p.Description)
	}
	if len(p.Attributes) > 0 {
		fmt.Fprintf(&sb, "\nAttributes: %s", renderJSON(p.Attributes))
	}
	return sb.String()
}

func renderPersona(d *models.Document) string {
	if d == nil {
		return ""
	}
	return renderJSON(d.Payload)
}

func renderIntent(in *models.Intent) string {
	if in == nil {
		return ""
	}
	var sb strings.Builder
	if in.Title != "" {
		fmt.Fprintf(&sb, "%s\n", in.Title)
	}
	fmt.Fprintf(&sb, "Goal: %s\nSuccess criteria: %s", in.Goal, in.SuccessCriteria)
	return sb.String()
}

func goalOf(in *models.Intent) string {
	if in == nil {
		return ""
	}
	return in.Goal
}

func criteriaOf(in *models.Intent) string {
	if in == nil {
		return ""
	}
	return in.SuccessCriteria
}

func renderKnowledgeItem(k models.KnowledgeRef) string {
	title := k.Title
	if title == "" {
		title = k.ID
	}
	return fmt.Sprintf("[%s] %s\n%s", k.Kind, title, renderJSON(k.Payload))
}

func renderJSON(v map[string]interface{}) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func truncateTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	maxChars := maxTokens * 4
	if len(s) <= maxChars {
		return s
	}
	// Back off to a rune boundary so the cut never leaves invalid UTF-8.
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
