// Package store — in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests). Supports
// file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Documents   map[string]*models.Document        `json:"documents"`
	Products    map[string]*models.Product         `json:"products"`
	Workflows   map[string]*models.Workflow        `json:"workflows"`
	Definitions map[string]*models.AgentDefinition `json:"definitions"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]*models.Document        // key: id
	products    map[string]*models.Product         // key: id
	workflows   map[string]*models.Workflow        // key: id
	definitions map[string]*models.AgentDefinition // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutine to stop
}

// NewMemoryStore creates a new in-memory store.
// If MARKAI_DATA_DIR is set, data is persisted to a JSON file in that
// directory. Otherwise defaults to ~/.markai/data.json.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		documents:   make(map[string]*models.Document),
		products:    make(map[string]*models.Product),
		workflows:   make(map[string]*models.Workflow),
		definitions: make(map[string]*models.AgentDefinition),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	dataDir := os.Getenv("MARKAI_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			dataDir = filepath.Join(home, ".markai")
		}
	}
	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests.
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Documents:   m.documents,
		Products:    m.products,
		Workflows:   m.workflows,
		Definitions: m.definitions,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to replace snapshot")
	}
}

// loadSnapshot restores data from disk, if a snapshot exists.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Cannot read snapshot")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Corrupt snapshot, starting empty")
		return
	}

	m.mu.Lock()
	if snap.Documents != nil {
		m.documents = snap.Documents
	}
	if snap.Products != nil {
		m.products = snap.Products
	}
	if snap.Workflows != nil {
		m.workflows = snap.Workflows
	}
	if snap.Definitions != nil {
		m.definitions = snap.Definitions
	}
	m.mu.Unlock()

	log.Info().
		Int("documents", len(snap.Documents)).
		Int("products", len(snap.Products)).
		Int("workflows", len(snap.Workflows)).
		Msg("Snapshot loaded")
}

// ── Document Store ──────────────────────────────────────────

func (m *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "document", Key: id}
	}
	cp := *doc
	return &cp, nil
}

func (m *MemoryStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	cp := *doc
	m.documents[doc.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	m.mu.Lock()
	if _, ok := m.documents[doc.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "document", Key: doc.ID}
	}
	cp := *doc
	m.documents[doc.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.documents[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "document", Key: id}
	}
	delete(m.documents, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	m.mu.RLock()
	var out []models.Document
	for _, doc := range m.documents {
		if !matchesFilter(doc, filter) {
			continue
		}
		out = append(out, *doc)
	}
	m.mu.RUnlock()

	// Newest first, stable across calls.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(doc *models.Document, filter DocumentFilter) bool {
	if filter.Type != "" {
		return doc.Type == filter.Type
	}
	if len(filter.Types) > 0 {
		for _, t := range filter.Types {
			if doc.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

// ── Product Store ───────────────────────────────────────────

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "product", Key: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	cp := *p
	m.products[p.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	if _, ok := m.products[p.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "product", Key: p.ID}
	}
	cp := *p
	m.products[p.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.products[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "product", Key: id}
	}
	delete(m.products, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ── Workflow Store ──────────────────────────────────────────

func (m *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow", Key: id}
	}
	cp := *wf
	return &cp, nil
}

func (m *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	if _, ok := m.workflows[wf.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "workflow", Key: wf.ID}
	}
	cp := *wf
	m.workflows[wf.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.workflows[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "workflow", Key: id}
	}
	delete(m.workflows, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	m.mu.RLock()
	out := make([]models.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		out = append(out, *wf)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ── Agent Definition Store ──────────────────────────────────

func (m *MemoryStore) GetAgentDefinition(ctx context.Context, id string) (*models.AgentDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent definition", Key: id}
	}
	cp := *def
	return &cp, nil
}

func (m *MemoryStore) CreateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error {
	m.mu.Lock()
	cp := *def
	m.definitions[def.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error {
	m.mu.Lock()
	if _, ok := m.definitions[def.ID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent definition", Key: def.ID}
	}
	cp := *def
	m.definitions[def.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgentDefinition(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.definitions[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent definition", Key: id}
	}
	delete(m.definitions, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAgentDefinitions(ctx context.Context) ([]models.AgentDefinition, error) {
	m.mu.RLock()
	out := make([]models.AgentDefinition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, *def)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ── Lifecycle ───────────────────────────────────────────────

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close flushes a final snapshot and stops background goroutines.
func (m *MemoryStore) Close() error {
	close(m.doneCh)
	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	return nil
}
