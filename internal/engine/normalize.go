package engine

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/Kubotie/marketing-ai-sub000/internal/schema"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// Raw model output kept on the record is bounded so a runaway response
// cannot bloat the document store.
const maxRawOutputLen = 20000

// normalizeInput is the loose bag of fields collected over one execution.
// Any of the output levels may be absent.
type normalizeInput struct {
	RunID             string
	WorkflowID        string
	AgentNodeID       string
	AgentDefinitionID string
	StartedAt         time.Time

	Context      *models.ExecutionContext
	RawOutput    string
	ParsedOutput map[string]interface{}

	SchemaValidation   models.ValidationResult
	SemanticValidation models.SemanticResult
	ContextQuality     models.ContextQuality

	Error string
}

// normalize produces the durable run record. It is total over optional
// fields: missing outputs yield a valid record; only missing identity
// fields are fatal. The final output is derived from the parsed output
// regardless of schema validity — a schema-invalid but parseable output is
// still persisted best-effort.
func normalize(in normalizeInput, events []models.StepEvent) (*models.RunRecord, error) {
	if in.WorkflowID == "" || in.AgentNodeID == "" {
		return nil, errors.New("run record requires workflow_id and agent_node_id")
	}

	finished := time.Now().UTC()
	status := models.RunSuccess
	if in.Error != "" {
		status = models.RunError
	}

	var summary models.ContextSummary
	if in.Context != nil {
		summary = in.Context.Summary()
	}

	return &models.RunRecord{
		RunID:              in.RunID,
		WorkflowID:         in.WorkflowID,
		AgentNodeID:        in.AgentNodeID,
		AgentDefinitionID:  in.AgentDefinitionID,
		StartedAt:          in.StartedAt,
		FinishedAt:         finished,
		DurationMs:         finished.Sub(in.StartedAt).Milliseconds(),
		Context:            in.Context,
		ContextSummary:     summary,
		LLMRawOutput:       truncate(in.RawOutput, maxRawOutputLen),
		ParsedOutput:       in.ParsedOutput,
		FinalOutput:        finalOutput(in.ParsedOutput),
		SchemaValidation:   in.SchemaValidation,
		SemanticValidation: in.SemanticValidation,
		ContextQuality:     in.ContextQuality,
		Status:             status,
		Error:              in.Error,
		Events:             events,
	}, nil
}

// finalOutput shape-normalizes the parsed output: a shallow copy with the
// presentation field stripped. The display model is orthogonal to the data
// and never persists into the final value.
func finalOutput(parsed map[string]interface{}) map[string]interface{} {
	if parsed == nil {
		return nil
	}
	out := make(map[string]interface{}, len(parsed))
	for k, v := range parsed {
		if k == schema.PresentationField {
			continue
		}
		out[k] = v
	}
	return out
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
