// Package store provides the storage interface and implementations for the
// marketing-analysis backend. The in-memory implementation (with JSON
// snapshot persistence) serves local dev and tests; PostgreSQL serves
// production.
package store

import (
	"context"
	"errors"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// Store is the primary storage interface. All handler and pipeline code
// depends on this interface, making it easy to swap between in-memory
// (tests) and PostgreSQL (production) implementations.
type Store interface {
	DocumentStore
	ProductStore
	WorkflowStore
	AgentDefinitionStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Document Store ──────────────────────────────────────────

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	Type  string   // exact match on type
	Types []string // any-of match on type; ignored if Type is set
	Limit int      // max results (0 = no limit)
}

// DocumentStore is the knowledge base: an append-friendly keyed document
// store. Runs are persisted here as documents of type "workflow_run".
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error)
}

// ── Product Store ───────────────────────────────────────────

type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// ── Workflow Store ──────────────────────────────────────────

type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]models.Workflow, error)
}

// ── Agent Definition Store ──────────────────────────────────

type AgentDefinitionStore interface {
	GetAgentDefinition(ctx context.Context, id string) (*models.AgentDefinition, error)
	CreateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error
	UpdateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error
	DeleteAgentDefinition(ctx context.Context, id string) error
	ListAgentDefinitions(ctx context.Context) ([]models.AgentDefinition, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is, or wraps, an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
