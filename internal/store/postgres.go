package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL. Documents, workflows, and
// agent definitions are stored as JSONB rows; products get real columns for
// the fields the UI filters on.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and runs migrations.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("Postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			payload    JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_documents_type ON documents (type);

		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			attributes  JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS workflows (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			graph      JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS agent_definitions (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			definition JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// ── Document Store ──────────────────────────────────────────

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, payload, created_at, updated_at FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.Type, &payload, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "document", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if err := json.Unmarshal(payload, &doc.Payload); err != nil {
		return nil, fmt.Errorf("decode document payload: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return fmt.Errorf("encode document payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, type, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET type = $2, payload = $3, updated_at = $5`,
		doc.ID, doc.Type, payload, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	payload, err := json.Marshal(doc.Payload)
	if err != nil {
		return fmt.Errorf("encode document payload: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET type = $2, payload = $3, updated_at = $4 WHERE id = $1`,
		doc.ID, doc.Type, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "document", Key: doc.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "document", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	query := `SELECT id, type, payload, created_at, updated_at FROM documents`
	var args []interface{}
	switch {
	case filter.Type != "":
		query += ` WHERE type = $1`
		args = append(args, filter.Type)
	case len(filter.Types) > 0:
		query += ` WHERE type = ANY($1)`
		args = append(args, filter.Types)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var doc models.Document
		var payload []byte
		if err := rows.Scan(&doc.ID, &doc.Type, &payload, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(payload, &doc.Payload); err != nil {
			return nil, fmt.Errorf("decode document payload: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ── Product Store ───────────────────────────────────────────

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	var attrs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, category, attributes, created_at, updated_at
		 FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Category, &attrs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "product", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
		return nil, fmt.Errorf("decode product attributes: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("encode product attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (id, name, description, category, attributes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET name = $2, description = $3, category = $4, attributes = $5, updated_at = $7`,
		p.ID, p.Name, p.Description, p.Category, attrs, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("encode product attributes: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET name = $2, description = $3, category = $4, attributes = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Category, attrs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "product", Key: p.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "product", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, category, attributes, created_at, updated_at
		 FROM products ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		var attrs []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("decode product attributes: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Workflow Store ──────────────────────────────────────────

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var graph []byte
	err := s.pool.QueryRow(ctx, `SELECT graph FROM workflows WHERE id = $1`, id).Scan(&graph)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "workflow", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	var wf models.Workflow
	if err := json.Unmarshal(graph, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &wf, nil
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	graph, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflows (id, name, graph, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = $2, graph = $3, updated_at = $5`,
		wf.ID, wf.Name, graph, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *models.Workflow) error {
	graph, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE workflows SET name = $2, graph = $3, updated_at = $4 WHERE id = $1`,
		wf.ID, wf.Name, graph, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow", Key: wf.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "workflow", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT graph FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []models.Workflow
	for rows.Next() {
		var graph []byte
		if err := rows.Scan(&graph); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var wf models.Workflow
		if err := json.Unmarshal(graph, &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// ── Agent Definition Store ──────────────────────────────────

func (s *PostgresStore) GetAgentDefinition(ctx context.Context, id string) (*models.AgentDefinition, error) {
	var def []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM agent_definitions WHERE id = $1`, id).Scan(&def)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent definition", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get agent definition: %w", err)
	}
	var d models.AgentDefinition
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("decode agent definition: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) CreateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode agent definition: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_definitions (id, name, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = $2, definition = $3, updated_at = $5`,
		def.ID, def.Name, raw, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create agent definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAgentDefinition(ctx context.Context, def *models.AgentDefinition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode agent definition: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_definitions SET name = $2, definition = $3, updated_at = $4 WHERE id = $1`,
		def.ID, def.Name, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update agent definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent definition", Key: def.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteAgentDefinition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "agent definition", Key: id}
	}
	return nil
}

func (s *PostgresStore) ListAgentDefinitions(ctx context.Context) ([]models.AgentDefinition, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM agent_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agent definitions: %w", err)
	}
	defer rows.Close()

	var out []models.AgentDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan agent definition: %w", err)
		}
		var d models.AgentDefinition
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode agent definition: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ── Lifecycle ───────────────────────────────────────────────

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
