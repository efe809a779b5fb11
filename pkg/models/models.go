package models

import (
	"time"
)

// ── Documents ────────────────────────────────────────────────

// Document is the opaque knowledge-store record. Everything the knowledge
// base holds — personas, insight items, landing-page structures, persisted
// workflow runs — is a Document keyed by ID and discriminated by Type.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Type      string                 `json:"type" db:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// Well-known document types.
const (
	DocPersona     = "persona"
	DocWorkflowRun = "workflow_run"
)

// ── Knowledge kinds ──────────────────────────────────────────

// Knowledge kinds in fixed composition priority. Lower value = composed
// earlier in the prompt and dropped later under budget pressure.
const (
	KindBannerInsight    = "banner_insight"
	KindMarketInsight    = "market_insight"
	KindStrategyOption   = "strategy_option"
	KindPlanningHook     = "planning_hook"
	KindBannerAutoLayout = "banner_auto_layout"
)

var knowledgePriority = map[string]int{
	KindBannerInsight:    1,
	KindMarketInsight:    2,
	KindStrategyOption:   3,
	KindPlanningHook:     4,
	KindBannerAutoLayout: 5,
}

// KnowledgePriority returns the composition priority for a knowledge kind.
// Unknown kinds sort after all known kinds, keeping their discovery order.
func KnowledgePriority(kind string) int {
	if p, ok := knowledgePriority[kind]; ok {
		return p
	}
	return 99
}

// ── Product ──────────────────────────────────────────────────

type Product struct {
	ID          string                 `json:"id" db:"id"`
	Name        string                 `json:"name" db:"name"`
	Description string                 `json:"description,omitempty" db:"description"`
	Category    string                 `json:"category,omitempty" db:"category"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// ── Workflow graph ───────────────────────────────────────────

// NodeType discriminates the two node variants on the canvas.
type NodeType string

const (
	NodeInput NodeType = "input"
	NodeAgent NodeType = "agent"
)

// InputKind is the kind of external data an input node references.
type InputKind string

const (
	InputProduct        InputKind = "product"
	InputPersona        InputKind = "persona"
	InputKBItem         InputKind = "kb_item"
	InputIntent         InputKind = "intent"
	InputWorkflowRunRef InputKind = "workflow_run_ref"
)

// NodeData carries the variant-specific payload of a node.
type NodeData struct {
	// RefID points into an external store (product registry, knowledge
	// base, or prior run), depending on the node's input kind.
	RefID string `json:"ref_id,omitempty"`
	Title string `json:"title,omitempty"`

	// Intent nodes carry their content inline rather than by reference.
	Goal            string `json:"goal,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
}

type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`

	// Input nodes
	Kind InputKind `json:"kind,omitempty"`
	Data NodeData  `json:"data,omitempty"`

	// Agent nodes
	AgentDefinitionID string `json:"agent_definition_id,omitempty"`
	Label             string `json:"label,omitempty"`
}

// Connection is a directed edge on the canvas. RefKind optionally labels
// what knowledge kind the edge feeds downstream; when empty, the referenced
// document's own type is used.
type Connection struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	RefKind    string `json:"ref_kind,omitempty"`
}

type Workflow struct {
	ID          string       `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// Node returns the node with the given ID, or nil.
func (w *Workflow) Node(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ── Agent definitions ────────────────────────────────────────

// AgentDefinition is one invocable generation template: a system prompt, a
// user-prompt template rendered against the execution context, and the
// output kind that selects the schema and semantic checks for its result.
type AgentDefinition struct {
	ID                 string  `json:"id" db:"id"`
	Name               string  `json:"name" db:"name"`
	SystemPrompt       string  `json:"system_prompt"`
	UserPromptTemplate string  `json:"user_prompt_template"`
	OutputKind         string  `json:"output_kind"`
	Model              string  `json:"model,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`

	// SemanticRules are optional extra post-execution checks, each an
	// expr expression evaluated against the parsed output. A rule that
	// evaluates to false appends a reason to the semantic gate result.
	SemanticRules []string `json:"semantic_rules,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Well-known output kinds.
const (
	OutputSiteStructure     = "site_structure"
	OutputCreativeStructure = "creative_structure"
)

// ── Execution context ────────────────────────────────────────

// Intent is the operator-stated goal for an execution.
type Intent struct {
	Title           string `json:"title,omitempty"`
	Goal            string `json:"goal"`
	SuccessCriteria string `json:"success_criteria"`
}

// KnowledgeRef is one knowledge-base item pulled into an execution context.
type KnowledgeRef struct {
	ID      string                 `json:"id"`
	Kind    string                 `json:"kind"`
	Title   string                 `json:"title,omitempty"`
	Payload map[string]interface{} `json:"payload"`
}

// Packet records one resolved input node for provenance. Packets never feed
// generation — they exist so a run can be audited after the fact.
type Packet struct {
	NodeID    string      `json:"node_id"`
	NodeType  NodeType    `json:"node_type"`
	Kind      string      `json:"kind"`
	Title     string      `json:"title,omitempty"`
	Content   interface{} `json:"content,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Edge is one traversed reverse edge, recorded in the resolution trace.
type Edge struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
}

// ResolutionTrace is the exact upstream resolution path of one execution.
type ResolutionTrace struct {
	OrderedNodeIDs []string `json:"ordered_node_ids"`
	EdgesUsed      []Edge   `json:"edges_used"`
}

// ExecutionContext is the resolved, bounded bundle of data passed into
// prompt rendering for one agent execution. Built fresh per execution and
// owned exclusively by it.
type ExecutionContext struct {
	Product *Product  `json:"product,omitempty"`
	Persona *Document `json:"persona,omitempty"`
	Intent  *Intent   `json:"intent,omitempty"`

	// Knowledge is ordered by the fixed kind priority, discovery order
	// within a kind.
	Knowledge []KnowledgeRef `json:"knowledge"`

	Packets []Packet        `json:"packets"`
	Trace   ResolutionTrace `json:"trace"`

	ReferencedKBItemIDs []string `json:"referenced_kb_item_ids"`
	ReferencedRunIDs    []string `json:"referenced_run_ids"`

	// Omissions lists inputs that were declared on the graph but dropped
	// during resolution (fetch failure, type mismatch, unusable payload).
	// The pre-execution gate turns each into a warning.
	Omissions []string `json:"omissions"`

	// LPStructure is a prior-run output explicitly selected by the
	// operator, merged in after automatic resolution.
	LPStructure map[string]interface{} `json:"lp_structure,omitempty"`
}

// ContextSummary is the compact, counts-only snapshot persisted alongside
// the full context.
type ContextSummary struct {
	KnowledgeCount int  `json:"knowledge_count"`
	PacketCount    int  `json:"packet_count"`
	OmissionCount  int  `json:"omission_count"`
	HasProduct     bool `json:"has_product"`
	HasPersona     bool `json:"has_persona"`
	HasIntent      bool `json:"has_intent"`
	HasLPStructure bool `json:"has_lp_structure"`
}

// Summary derives the counts-only view of the context.
func (ec *ExecutionContext) Summary() ContextSummary {
	return ContextSummary{
		KnowledgeCount: len(ec.Knowledge),
		PacketCount:    len(ec.Packets),
		OmissionCount:  len(ec.Omissions),
		HasProduct:     ec.Product != nil,
		HasPersona:     ec.Persona != nil,
		HasIntent:      ec.Intent != nil,
		HasLPStructure: ec.LPStructure != nil,
	}
}

// ── Quality ──────────────────────────────────────────────────

// QualityStatus is the three-level trust signal attached to a run.
type QualityStatus string

const (
	QualityUsable                QualityStatus = "usable"
	QualityRegenerateRecommended QualityStatus = "regenerate_recommended"
	QualityInsufficientEvidence  QualityStatus = "insufficient_evidence"
)

// ContextQuality is the pre-execution gate result. Errors is always empty —
// the gate annotates, it never blocks.
type ContextQuality struct {
	Errors        []string      `json:"errors"`
	Warnings      []string      `json:"warnings"`
	MissingInputs []string      `json:"missing_inputs"`
	Status        QualityStatus `json:"status"`
}

// SemanticResult is the post-execution gate result.
type SemanticResult struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// ValidationIssue is one schema violation with its field path.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of schema-validating a parsed output.
type ValidationResult struct {
	Success bool              `json:"success"`
	Issues  []ValidationIssue `json:"issues"`
}

// ── Run record ───────────────────────────────────────────────

// RunStatus reflects whether an attempt was made and a record produced —
// not whether the output was schema-valid. Schema failure is a quality
// signal, not an execution failure.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// StepEvent is one pipeline-stage event recorded during an execution.
type StepEvent struct {
	Stage      string    `json:"stage"`
	At         time.Time `json:"at"`
	DurationMs int64     `json:"duration_ms"`
	Note       string    `json:"note,omitempty"`
}

// RunRecord is the durable, normalized artifact of one agent execution.
// It carries every output fidelity level (raw text, parsed JSON, validated
// final shape) and both quality-gate results; any output level may be
// absent. Immutable once written.
//
// The zodValidationResult / semanticValidationResult field names are kept
// for compatibility with documents written by earlier versions of the app.
type RunRecord struct {
	RunID             string `json:"run_id"`
	WorkflowID        string `json:"workflow_id"`
	AgentNodeID       string `json:"agent_node_id"`
	AgentDefinitionID string `json:"agent_definition_id,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`

	Context        *ExecutionContext `json:"context,omitempty"`
	ContextSummary ContextSummary    `json:"context_summary"`

	LLMRawOutput string                 `json:"llm_raw_output,omitempty"`
	ParsedOutput map[string]interface{} `json:"parsed_output,omitempty"`
	FinalOutput  map[string]interface{} `json:"final_output,omitempty"`

	SchemaValidation   ValidationResult `json:"zodValidationResult"`
	SemanticValidation SemanticResult   `json:"semanticValidationResult"`
	ContextQuality     ContextQuality   `json:"contextQuality"`

	Status RunStatus   `json:"status"`
	Error  string      `json:"error,omitempty"`
	Events []StepEvent `json:"events,omitempty"`
}

// ── Generation wire types ────────────────────────────────────

// ChatMessage is one message in a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
