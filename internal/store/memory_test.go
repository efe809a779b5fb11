package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// newTestStore creates a fresh in-memory store backed by a temp dir so
// tests never touch ~/.markai/.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	t.Setenv("MARKAI_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// ─── Document CRUD ───────────────────────────────────────────

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:      "kb-1",
		Type:    "market_insight",
		Payload: map[string]interface{}{"headline": "CTR doubles with social proof"},
	}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	got, err := s.GetDocument(ctx, "kb-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Type != "market_insight" {
		t.Errorf("GetDocument().Type = %q, want %q", got.Type, "market_insight")
	}
	if got.Payload["headline"] != "CTR doubles with social proof" {
		t.Errorf("GetDocument().Payload[headline] = %v", got.Payload["headline"])
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), "missing")
	if err == nil {
		t.Fatal("GetDocument() expected error for missing id")
	}
	if !store.IsNotFound(err) {
		t.Errorf("GetDocument() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateDocument(context.Background(), &models.Document{ID: "ghost", Type: "persona"})
	if !store.IsNotFound(err) {
		t.Errorf("UpdateDocument() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{ID: "kb-del", Type: "planning_hook"}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if err := s.DeleteDocument(ctx, "kb-del"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if _, err := s.GetDocument(ctx, "kb-del"); !store.IsNotFound(err) {
		t.Errorf("GetDocument() after delete error = %v, want ErrNotFound", err)
	}
}

func TestListDocuments_FilterAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	docs := []*models.Document{
		{ID: "a", Type: "persona", CreatedAt: base},
		{ID: "b", Type: "market_insight", CreatedAt: base.Add(1 * time.Second)},
		{ID: "c", Type: "market_insight", CreatedAt: base.Add(2 * time.Second)},
		{ID: "d", Type: "workflow_run", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, d := range docs {
		if err := s.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument(%s) error = %v", d.ID, err)
		}
	}

	got, err := s.ListDocuments(ctx, store.DocumentFilter{Type: "market_insight"})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListDocuments(type) returned %d docs, want 2", len(got))
	}
	// Newest first
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListDocuments() order = [%s %s], want [c b]", got[0].ID, got[1].ID)
	}

	got, err = s.ListDocuments(ctx, store.DocumentFilter{Types: []string{"persona", "workflow_run"}, Limit: 1})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListDocuments(types, limit 1) returned %d docs, want 1", len(got))
	}
	if got[0].ID != "d" {
		t.Errorf("ListDocuments() first = %s, want d (newest)", got[0].ID)
	}
}

func TestDocumentCopyOnRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &models.Document{ID: "iso", Type: "persona", Payload: map[string]interface{}{"name": "saver"}}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}

	got, _ := s.GetDocument(ctx, "iso")
	got.Type = "mutated"

	again, _ := s.GetDocument(ctx, "iso")
	if again.Type != "persona" {
		t.Errorf("store copy mutated through read: Type = %q", again.Type)
	}
}

// ─── Snapshot persistence ────────────────────────────────────

func TestSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MARKAI_DATA_DIR", dir)
	ctx := context.Background()

	s1 := store.NewMemoryStore()
	if err := s1.CreateDocument(ctx, &models.Document{ID: "persist-1", Type: "strategy_option"}); err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if err := s1.CreateWorkflow(ctx, &models.Workflow{ID: "wf-1", Name: "launch plan"}); err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	// Close flushes the final snapshot.
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2 := store.NewMemoryStore()
	defer s2.Close()

	doc, err := s2.GetDocument(ctx, "persist-1")
	if err != nil {
		t.Fatalf("GetDocument() after restart error = %v", err)
	}
	if doc.Type != "strategy_option" {
		t.Errorf("restored Type = %q, want strategy_option", doc.Type)
	}
	wf, err := s2.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow() after restart error = %v", err)
	}
	if wf.Name != "launch plan" {
		t.Errorf("restored workflow Name = %q", wf.Name)
	}
}

// ─── Other entities ──────────────────────────────────────────

func TestProductCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Product{ID: "p-1", Name: "Trail Shoe", Category: "footwear"}
	if err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("CreateProduct() error = %v", err)
	}

	got, err := s.GetProduct(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProduct() error = %v", err)
	}
	if got.Name != "Trail Shoe" {
		t.Errorf("GetProduct().Name = %q", got.Name)
	}

	got.Description = "updated"
	if err := s.UpdateProduct(ctx, got); err != nil {
		t.Fatalf("UpdateProduct() error = %v", err)
	}
	again, _ := s.GetProduct(ctx, "p-1")
	if again.Description != "updated" {
		t.Errorf("UpdateProduct() not applied, Description = %q", again.Description)
	}

	if err := s.DeleteProduct(ctx, "p-1"); err != nil {
		t.Fatalf("DeleteProduct() error = %v", err)
	}
	if _, err := s.GetProduct(ctx, "p-1"); !store.IsNotFound(err) {
		t.Errorf("GetProduct() after delete error = %v, want ErrNotFound", err)
	}
}

func TestAgentDefinitionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &models.AgentDefinition{
		ID:         "def-1",
		Name:       "lp-structurer",
		OutputKind: models.OutputSiteStructure,
	}
	if err := s.CreateAgentDefinition(ctx, def); err != nil {
		t.Fatalf("CreateAgentDefinition() error = %v", err)
	}

	got, err := s.GetAgentDefinition(ctx, "def-1")
	if err != nil {
		t.Fatalf("GetAgentDefinition() error = %v", err)
	}
	if got.OutputKind != models.OutputSiteStructure {
		t.Errorf("GetAgentDefinition().OutputKind = %q", got.OutputKind)
	}

	defs, err := s.ListAgentDefinitions(ctx)
	if err != nil {
		t.Fatalf("ListAgentDefinitions() error = %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("ListAgentDefinitions() returned %d, want 1", len(defs))
	}
}
