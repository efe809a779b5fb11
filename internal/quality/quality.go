// Package quality implements the two non-blocking quality gates around an
// agent execution.
//
// The pre-execution gate inspects the assembled context for missing
// recommended inputs and for inputs dropped during resolution, and
// annotates the run with warnings; it never blocks.
// The post-execution gate runs output-kind-specific structural checks over
// the parsed output, plus any custom expr rules declared on the agent
// definition.
package quality

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// ── Pre-execution gate ──────────────────────────────────────

// Recommended input categories, reported via MissingInputs.
const (
	MissingIntent    = "intent"
	MissingKnowledge = "knowledge"
	MissingPersona   = "persona"
	MissingProduct   = "product"
)

// CheckContext evaluates the pre-execution gate. Every rule is evaluated
// independently; Errors is always empty — conditions that look fatal are
// demoted to warnings so execution always proceeds.
func CheckContext(ec *models.ExecutionContext) models.ContextQuality {
	q := models.ContextQuality{
		Errors:        []string{},
		Warnings:      []string{},
		MissingInputs: []string{},
	}

	if ec.Intent == nil || ec.Intent.Goal == "" || ec.Intent.SuccessCriteria == "" {
		q.Warnings = append(q.Warnings, "no usable intent: goal and success criteria are recommended")
		q.MissingInputs = append(q.MissingInputs, MissingIntent)
	}
	if len(ec.Knowledge) == 0 {
		q.Warnings = append(q.Warnings, "no knowledge items resolved for this execution")
		q.MissingInputs = append(q.MissingInputs, MissingKnowledge)
	}
	if ec.Persona == nil {
		q.Warnings = append(q.Warnings, "no persona connected")
		q.MissingInputs = append(q.MissingInputs, MissingPersona)
	}
	if ec.Product == nil {
		q.Warnings = append(q.Warnings, "no product connected")
		q.MissingInputs = append(q.MissingInputs, MissingProduct)
	}
	for _, om := range ec.Omissions {
		q.Warnings = append(q.Warnings, "input dropped during resolution: "+om)
	}
	if ec.Product == nil && len(ec.Knowledge) == 0 {
		q.Warnings = append(q.Warnings, fmt.Sprintf(
			"recommended path product -> knowledge -> agent is broken: %d upstream node(s) resolved but neither product nor knowledge reached the context",
			len(ec.Trace.OrderedNodeIDs)))
	}

	q.Status = statusFor(len(q.Warnings), len(ec.Knowledge) == 0)
	return q
}

// statusFor derives the three-level status from the warning count.
// Missing knowledge is always insufficient evidence on its own.
func statusFor(warnings int, knowledgeMissing bool) models.QualityStatus {
	switch {
	case warnings >= 3 || knowledgeMissing:
		return models.QualityInsufficientEvidence
	case warnings >= 1:
		return models.QualityRegenerateRecommended
	default:
		return models.QualityUsable
	}
}

// ── Post-execution gate ─────────────────────────────────────

// Minimum structural counts per output kind.
const (
	minSections  = 2
	minQuestions = 3
)

// CheckSemantic runs the kind-specific structural checks over a parsed
// output, then any custom rules. A nil output fails with a single reason.
func CheckSemantic(outputKind string, parsed map[string]interface{}, rules []string) models.SemanticResult {
	if parsed == nil {
		return models.SemanticResult{Pass: false, Reasons: []string{"no parsed output to check"}}
	}

	var reasons []string
	switch outputKind {
	case models.OutputSiteStructure:
		if n := arrayLen(parsed, "sections"); n < minSections {
			reasons = append(reasons, fmt.Sprintf("expected at least %d sections, got %d", minSections, n))
		}
		if n := arrayLen(parsed, "questions"); n < minQuestions {
			reasons = append(reasons, fmt.Sprintf("expected at least %d questions, got %d", minQuestions, n))
		}
	case models.OutputCreativeStructure:
		if arrayLen(parsed, "ideas") == 0 {
			reasons = append(reasons, "ideas list is empty")
		}
		if stringField(parsed, "summary") == "" {
			reasons = append(reasons, "summary is empty")
		}
		if stringField(parsed, "design_notes") == "" {
			reasons = append(reasons, "design notes are empty")
		}
	}

	reasons = append(reasons, evalCustomRules(parsed, rules)...)
	return models.SemanticResult{Pass: len(reasons) == 0, Reasons: reasons}
}

// evalCustomRules evaluates each expr rule against the parsed output. A rule
// that does not compile, does not return a bool, or returns false appends a
// reason; a broken rule never panics the pipeline.
func evalCustomRules(parsed map[string]interface{}, rules []string) []string {
	var reasons []string
	for _, rule := range rules {
		prog, err := expr.Compile(rule, expr.Env(parsed), expr.AsBool())
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("rule %q failed to compile: %v", rule, err))
			continue
		}
		out, err := expr.Run(prog, parsed)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("rule %q failed to evaluate: %v", rule, err))
			continue
		}
		if pass, ok := out.(bool); !ok || !pass {
			reasons = append(reasons, fmt.Sprintf("rule %q not satisfied", rule))
		}
	}
	return reasons
}

// MergeStatus combines both gates into the final status. Any semantic-gate
// failure forces at least regenerate_recommended.
func MergeStatus(pre models.ContextQuality, sem models.SemanticResult) models.QualityStatus {
	knowledgeMissing := false
	for _, m := range pre.MissingInputs {
		if m == MissingKnowledge {
			knowledgeMissing = true
		}
	}
	status := statusFor(len(pre.Warnings)+len(sem.Reasons), knowledgeMissing)
	if !sem.Pass && status == models.QualityUsable {
		status = models.QualityRegenerateRecommended
	}
	return status
}

func arrayLen(m map[string]interface{}, key string) int {
	arr, _ := m[key].([]interface{})
	return len(arr)
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
