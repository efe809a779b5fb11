// Package engine runs the agent execution pipeline: resolve the upstream
// graph, build the execution context, gate it, render the prompt, call the
// generation endpoint with one corrective retry, gate the output, and
// persist a normalized run record.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kubotie/marketing-ai-sub000/internal/composer"
	"github.com/Kubotie/marketing-ai-sub000/internal/config"
	"github.com/Kubotie/marketing-ai-sub000/internal/llm"
	"github.com/Kubotie/marketing-ai-sub000/internal/prompt"
	"github.com/Kubotie/marketing-ai-sub000/internal/quality"
	"github.com/Kubotie/marketing-ai-sub000/internal/schema"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// Generator abstracts the outbound generation client so the pipeline can be
// tested without the network.
type Generator interface {
	Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// ExecuteRequest is the single execution entrypoint payload. Workflow is an
// optional override for graphs the caller already holds; InputNodes feed the
// flat fallback when graph resolution fails.
type ExecuteRequest struct {
	WorkflowID         string           `json:"workflow_id" validate:"required"`
	AgentNodeID        string           `json:"agent_node_id" validate:"required"`
	AgentDefinitionID  string           `json:"agent_definition_id,omitempty"`
	Workflow           *models.Workflow `json:"workflow,omitempty"`
	InputNodes         []models.Node    `json:"input_nodes,omitempty"`
	SelectedPriorRunID string           `json:"selected_prior_run_id,omitempty"`
}

// InputMissingError reports a request that fails validation before any side
// effect.
type InputMissingError struct {
	Fields []string
}

func (e *InputMissingError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// PersistenceError reports that the run record could not be durably written.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("run %s could not be persisted: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

const maxRetries = 1

type Engine struct {
	store    store.Store
	composer *composer.Composer
	gen      Generator
	genCfg   config.GenerationConfig
	budget   prompt.Budget
	validate *validator.Validate
}

func New(st store.Store, gen Generator, cfg *config.Config) *Engine {
	return &Engine{
		store:    st,
		composer: composer.New(st),
		gen:      gen,
		genCfg:   cfg.Generation,
		budget: prompt.Budget{
			MaxContextTokens:       cfg.Budget.MaxContextTokens,
			MaxKnowledgeItemTokens: cfg.Budget.MaxKnowledgeItemTokens,
		},
		validate: validator.New(),
	}
}

// Execute runs the full pipeline for one agent node and persists the
// resulting record. A generation transport failure still produces and
// persists an error record; only graph, input-validation, and persistence
// failures surface as errors.
func (e *Engine) Execute(ctx context.Context, req *ExecuteRequest) (*models.RunRecord, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	started := time.Now().UTC()
	ev := &eventLog{span: trace.SpanFromContext(ctx)}
	logger := log.With().Str("run_id", runID).Str("workflow_id", req.WorkflowID).Str("agent_node_id", req.AgentNodeID).Logger()

	wf, err := e.loadWorkflow(ctx, req)
	if err != nil {
		return nil, err
	}

	node := wf.Node(req.AgentNodeID)
	defID := req.AgentDefinitionID
	if defID == "" && node != nil {
		defID = node.AgentDefinitionID
	}
	def, err := e.store.GetAgentDefinition(ctx, defID)
	if err != nil {
		return nil, fmt.Errorf("agent definition %q: %w", defID, err)
	}

	ec, err := e.buildContext(ctx, req, wf, ev)
	if err != nil {
		return nil, err
	}
	if req.SelectedPriorRunID != "" {
		e.composer.MergeSelectedRun(ctx, ec, req.SelectedPriorRunID)
	}

	cq := quality.CheckContext(ec)
	ev.add("pre_gate", fmt.Sprintf("%d warning(s)", len(cq.Warnings)))

	userPrompt := prompt.Render(def.UserPromptTemplate, ec, e.budget)
	ev.add("render_prompt", fmt.Sprintf("%d approx tokens", prompt.ApproxTokens(userPrompt)))

	model := def.Model
	if model == "" {
		model = e.genCfg.Model
	}

	raw, parsed, schemaRes, genErr := e.generateLoop(ctx, model, def, userPrompt, ev, logger)

	norm := normalizeInput{
		RunID:             runID,
		WorkflowID:        req.WorkflowID,
		AgentNodeID:       req.AgentNodeID,
		AgentDefinitionID: defID,
		StartedAt:         started,
		Context:           ec,
		RawOutput:         raw,
		ParsedOutput:      parsed,
		SchemaValidation:  schemaRes,
		ContextQuality:    cq,
	}

	if genErr != nil {
		// Transport failure is fatal to the attempt, but the error record
		// is still written so the run is auditable.
		logger.Error().Err(genErr).Msg("generation failed")
		norm.Error = genErr.Error()
		norm.SemanticValidation = models.SemanticResult{Pass: false, Reasons: []string{"generation failed before any output was produced"}}
	} else {
		if presRes := schema.ValidatePresentation(parsed); !presRes.Success {
			ev.add("validate_presentation", fmt.Sprintf("%d presentation issue(s), stripped", len(presRes.Issues)))
		}
		sem := quality.CheckSemantic(def.OutputKind, parsed, def.SemanticRules)
		ev.add("post_gate", fmt.Sprintf("%d reason(s)", len(sem.Reasons)))
		norm.SemanticValidation = sem
		norm.ContextQuality.Status = quality.MergeStatus(cq, sem)
	}

	record, err := normalize(norm, ev.events())
	if err != nil {
		return nil, err
	}

	if err := e.persist(ctx, record); err != nil {
		return nil, &PersistenceError{RunID: runID, Err: err}
	}
	logger.Info().Str("status", string(record.Status)).Str("quality", string(record.ContextQuality.Status)).Int64("duration_ms", record.DurationMs).Msg("run persisted")
	return record, nil
}

func (e *Engine) validateRequest(req *ExecuteRequest) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		missing := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
		return &InputMissingError{Fields: missing}
	}
	return err
}

func (e *Engine) loadWorkflow(ctx context.Context, req *ExecuteRequest) (*models.Workflow, error) {
	if req.Workflow != nil {
		return req.Workflow, nil
	}
	wf, err := e.store.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", req.WorkflowID, err)
	}
	return wf, nil
}

// buildContext attempts graph resolution first and falls back to the flat
// interpretation of the caller's explicit input list.
func (e *Engine) buildContext(ctx context.Context, req *ExecuteRequest, wf *models.Workflow, ev *eventLog) (*models.ExecutionContext, error) {
	ec, err := e.composer.BuildFromGraph(ctx, wf, req.AgentNodeID)
	if err == nil {
		ev.add("resolve_context", fmt.Sprintf("%d node(s) from graph", len(ec.Trace.OrderedNodeIDs)))
		return ec, nil
	}
	if len(req.InputNodes) == 0 {
		return nil, err
	}
	log.Warn().Err(err).Str("workflow_id", req.WorkflowID).Msg("graph resolution failed, falling back to flat inputs")
	ec = e.composer.BuildFlat(ctx, req.InputNodes)
	ev.add("resolve_context", fmt.Sprintf("%d node(s) from flat fallback", len(req.InputNodes)))
	return ec, nil
}

// generateLoop issues the initial generation call plus at most one
// corrective retry on parse or schema failure. A transport error on either
// call ends the loop; the last raw/parsed values are kept regardless.
func (e *Engine) generateLoop(ctx context.Context, model string, def *models.AgentDefinition, userPrompt string, ev *eventLog, logger zerolog.Logger) (string, map[string]interface{}, models.ValidationResult, error) {
	outSchema := schema.ForKind(def.OutputKind)

	sysPrompt := def.SystemPrompt
	usrPrompt := userPrompt
	var raw string
	var parsed map[string]interface{}
	var res models.ValidationResult

	for attempt := 0; attempt <= maxRetries; attempt++ {
		stage := "generate"
		if attempt > 0 {
			stage = "generate_retry"
		}
		t0 := time.Now()
		text, err := e.gen.Generate(ctx, model, sysPrompt, usrPrompt)
		ev.add(stage, fmt.Sprintf("attempt %d, %dms", attempt+1, time.Since(t0).Milliseconds()))
		if err != nil {
			return raw, parsed, res, err
		}
		raw = text

		obj, ok := llm.ExtractObject(text)
		if ok {
			parsed = obj
			res = schema.Validate(obj, outSchema)
		} else {
			parsed = nil
			res = models.ValidationResult{
				Success: false,
				Issues:  []models.ValidationIssue{{Path: "$", Message: "response is not parseable JSON"}},
			}
		}
		if res.Success {
			return raw, parsed, res, nil
		}
		if attempt < maxRetries {
			logger.Warn().Int("issues", len(res.Issues)).Msg("output failed validation, retrying once with corrections")
			sysPrompt, usrPrompt = correctivePrompts(def.SystemPrompt, userPrompt, raw, res)
		}
	}
	// Retry budget exhausted: keep whatever parsed and return without error.
	return raw, parsed, res, nil
}

// correctivePrompts augments the original prompts with the concrete
// validation issues and field-level correction instructions.
func correctivePrompts(systemPrompt, userPrompt, lastRaw string, res models.ValidationResult) (string, string) {
	var sb strings.Builder
	sb.WriteString(userPrompt)
	sb.WriteString("\n\nYour previous response was rejected. Fix the following issues and respond with a single valid JSON object only:\n")
	for _, iss := range res.Issues {
		fmt.Fprintf(&sb, "- %s: %s\n", iss.Path, iss.Message)
	}
	if lastRaw != "" {
		sb.WriteString("\nPrevious response for reference:\n")
		sb.WriteString(truncate(lastRaw, 2000))
	}
	return systemPrompt + "\nRespond strictly with valid JSON matching the requested fields. No prose, no markdown fences.", sb.String()
}

// persist writes the record as a workflow_run document and confirms the
// write with a short read-back retry.
func (e *Engine) persist(ctx context.Context, record *models.RunRecord) error {
	payload, err := recordPayload(record)
	if err != nil {
		return err
	}
	doc := &models.Document{
		ID:      record.RunID,
		Type:    models.DocWorkflowRun,
		Payload: payload,
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		return err
	}

	// Read-back confirmation. The stores are read-after-write consistent in
	// the common case; the retry covers snapshot races and slow replicas.
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
	), 3), ctx)
	return backoff.Retry(func() error {
		_, err := e.store.GetDocument(ctx, record.RunID)
		return err
	}, bo)
}

// recordPayload converts the record to a generic document payload through
// its JSON form, so the stored shape matches the wire shape exactly.
func recordPayload(record *models.RunRecord) (map[string]interface{}, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// ── Step events ─────────────────────────────────────────────

// eventLog records pipeline stage events on the run record and mirrors
// them onto the request's trace span. Outside an instrumented request the
// span is a no-op.
type eventLog struct {
	items []models.StepEvent
	last  time.Time
	span  trace.Span
}

func (l *eventLog) add(stage, note string) {
	now := time.Now().UTC()
	var dur int64
	if !l.last.IsZero() {
		dur = now.Sub(l.last).Milliseconds()
	}
	l.last = now
	l.items = append(l.items, models.StepEvent{Stage: stage, At: now, DurationMs: dur, Note: note})
	if l.span != nil {
		l.span.AddEvent(stage, trace.WithAttributes(attribute.String("note", note)))
	}
}

func (l *eventLog) events() []models.StepEvent { return l.items }
