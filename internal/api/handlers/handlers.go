// Package handlers implements the HTTP handlers for the marketing-analysis
// backend: knowledge-base items, products, agent definitions, workflows,
// persisted runs, and the agent execution entrypoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Kubotie/marketing-ai-sub000/internal/engine"
	"github.com/Kubotie/marketing-ai-sub000/internal/resolver"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store  store.Store
	Engine *engine.Engine
}

// New creates a Handlers instance.
func New(s store.Store, eng *engine.Engine) *Handlers {
	return &Handlers{Store: s, Engine: eng}
}

// ══════════════════════════════════════════════════════════════
// ── Execution ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ExecuteAgent(w http.ResponseWriter, r *http.Request) {
	var req engine.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.Engine.Execute(r.Context(), &req)
	if err != nil {
		var missing *engine.InputMissingError
		var graph *resolver.GraphError
		switch {
		case errors.As(err, &missing):
			respondError(w, http.StatusBadRequest, missing.Error())
		case errors.As(err, &graph), store.IsNotFound(err):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// ══════════════════════════════════════════════════════════════
// ── Knowledge-base items ─────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	filter := store.DocumentFilter{
		Type: r.URL.Query().Get("type"),
	}
	if types, ok := r.URL.Query()["types"]; ok {
		filter.Types = types
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	docs, err := h.Store.ListDocuments(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	respondJSON(w, http.StatusOK, docs)
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if doc.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt

	if err := h.Store.CreateDocument(r.Context(), &doc); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("id", doc.ID).Str("type", doc.Type).Msg("item created")
	respondJSON(w, http.StatusCreated, doc)
}

func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	doc.ID = chi.URLParam(r, "itemId")
	doc.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateDocument(r.Context(), &doc); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteDocument(r.Context(), chi.URLParam(r, "itemId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Products ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProduct(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if p.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	if err := h.Store.CreateProduct(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("id", p.ID).Str("name", p.Name).Msg("product created")
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.ID = chi.URLParam(r, "productId")
	p.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateProduct(r.Context(), &p); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProduct(r.Context(), chi.URLParam(r, "productId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Agent definitions ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgentDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Store.ListAgentDefinitions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if defs == nil {
		defs = []models.AgentDefinition{}
	}
	respondJSON(w, http.StatusOK, defs)
}

func (h *Handlers) GetAgentDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.Store.GetAgentDefinition(r.Context(), chi.URLParam(r, "agentId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (h *Handlers) CreateAgentDefinition(w http.ResponseWriter, r *http.Request) {
	var def models.AgentDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if def.Name == "" || def.OutputKind == "" {
		respondError(w, http.StatusBadRequest, "name and output_kind are required")
		return
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.CreatedAt = time.Now().UTC()
	def.UpdatedAt = def.CreatedAt

	if err := h.Store.CreateAgentDefinition(r.Context(), &def); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("id", def.ID).Str("name", def.Name).Str("output_kind", def.OutputKind).Msg("agent definition created")
	respondJSON(w, http.StatusCreated, def)
}

func (h *Handlers) UpdateAgentDefinition(w http.ResponseWriter, r *http.Request) {
	var def models.AgentDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	def.ID = chi.URLParam(r, "agentId")
	def.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateAgentDefinition(r.Context(), &def); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (h *Handlers) DeleteAgentDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteAgentDefinition(r.Context(), chi.URLParam(r, "agentId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Workflows ────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.Store.ListWorkflows(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if wfs == nil {
		wfs = []models.Workflow{}
	}
	respondJSON(w, http.StatusOK, wfs)
}

func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	wf.CreatedAt = time.Now().UTC()
	wf.UpdatedAt = wf.CreatedAt

	if err := h.Store.CreateWorkflow(r.Context(), &wf); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("id", wf.ID).Str("name", wf.Name).Int("nodes", len(wf.Nodes)).Msg("workflow created")
	respondJSON(w, http.StatusCreated, wf)
}

func (h *Handlers) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf models.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	wf.ID = chi.URLParam(r, "workflowId")
	wf.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateWorkflow(r.Context(), &wf); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (h *Handlers) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteWorkflow(r.Context(), chi.URLParam(r, "workflowId")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Runs ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workflowID := q.Get("workflow_id")
	agentNodeID := q.Get("agent_node_id")

	limit := 0
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = n
	}

	// The payload filters apply after the store list, so the store-level
	// limit is only usable when none of them are set.
	filter := store.DocumentFilter{Type: models.DocWorkflowRun}
	if workflowID == "" && agentNodeID == "" {
		filter.Limit = limit
	}

	docs, err := h.Store.ListDocuments(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if workflowID != "" && payloadString(doc.Payload, "workflow_id") != workflowID {
			continue
		}
		if agentNodeID != "" && payloadString(doc.Payload, "agent_node_id") != agentNodeID {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.GetDocument(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if doc.Type != models.DocWorkflowRun {
		respondError(w, http.StatusNotFound, "run not found: "+doc.ID)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
