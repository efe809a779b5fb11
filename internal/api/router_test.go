package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kubotie/marketing-ai-sub000/internal/api"
	"github.com/Kubotie/marketing-ai-sub000/internal/api/handlers"
	"github.com/Kubotie/marketing-ai-sub000/internal/config"
	"github.com/Kubotie/marketing-ai-sub000/internal/engine"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// staticGen always answers with one fixed response.
type staticGen struct{ response string }

func (g *staticGen) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return g.response, nil
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	t.Setenv("MARKAI_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{
		Port:    8080,
		Version: "test",
		Generation: config.GenerationConfig{
			Endpoint: "http://unused", Model: "test-model", TimeoutSecs: 5,
		},
		Budget: config.BudgetConfig{MaxContextTokens: 6000, MaxKnowledgeItemTokens: 1200},
	}
	gen := &staticGen{response: `{"title":"Launch","sections":["a","b"],"questions":["q1","q2","q3"]}`}
	h := handlers.New(s, engine.New(s, gen, cfg))

	srv := httptest.NewServer(api.NewRouter(cfg, h))
	t.Cleanup(srv.Close)
	return srv, s
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health["status"])

	resp, err = http.Get(srv.URL + "/version")
	require.NoError(t, err)
	var version map[string]string
	decode(t, resp, &version)
	assert.Equal(t, "test", version["version"])
}

func TestItemLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/items", map[string]interface{}{
		"type":    "market_insight",
		"payload": map[string]interface{}{"note": "proof"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Document
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)

	resp, err := http.Get(srv.URL + "/api/v1/items/" + created.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Document
	decode(t, resp, &got)
	assert.Equal(t, "market_insight", got.Type)

	resp, err = http.Get(srv.URL + "/api/v1/items?type=market_insight")
	require.NoError(t, err)
	var list []models.Document
	decode(t, resp, &list)
	assert.Len(t, list, 1)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/items/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/items/" + created.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateItemWithoutType(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/items", map[string]interface{}{
		"payload": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAgentDefinition(ctx, &models.AgentDefinition{
		ID: "def-1", Name: "lp", OutputKind: models.OutputSiteStructure,
	}))
	require.NoError(t, s.CreateWorkflow(ctx, &models.Workflow{
		ID:    "wf-1",
		Nodes: []models.Node{{ID: "n-agent", Type: models.NodeAgent, AgentDefinitionID: "def-1"}},
	}))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/executions", map[string]interface{}{
		"workflow_id":   "wf-1",
		"agent_node_id": "n-agent",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record models.RunRecord
	decode(t, resp, &record)
	assert.Equal(t, models.RunSuccess, record.Status)
	assert.Equal(t, "Launch", record.FinalOutput["title"])

	// The run is now browsable.
	listResp, err := http.Get(srv.URL + "/api/v1/runs")
	require.NoError(t, err)
	var runs []models.Document
	decode(t, listResp, &runs)
	assert.Len(t, runs, 1)
}

func TestExecuteEndpoint_MissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/executions", map[string]interface{}{
		"workflow_id": "wf-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteEndpoint_WorkflowNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/executions", map[string]interface{}{
		"workflow_id":   "ghost",
		"agent_node_id": "n-agent",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListRuns_FilteredByWorkflowAndAgentNode(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	for _, run := range []struct{ id, wfID, nodeID string }{
		{"run-a", "wf-1", "n-agent"},
		{"run-b", "wf-1", "n-other"},
		{"run-c", "wf-2", "n-agent"},
	} {
		require.NoError(t, s.CreateDocument(ctx, &models.Document{
			ID: run.id, Type: models.DocWorkflowRun,
			Payload: map[string]interface{}{"workflow_id": run.wfID, "agent_node_id": run.nodeID},
		}))
	}

	resp, err := http.Get(srv.URL + "/api/v1/runs?workflow_id=wf-1")
	require.NoError(t, err)
	var runs []models.Document
	decode(t, resp, &runs)
	require.Len(t, runs, 2)

	resp, err = http.Get(srv.URL + "/api/v1/runs?workflow_id=wf-1&agent_node_id=n-agent")
	require.NoError(t, err)
	decode(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-a", runs[0].ID)

	resp, err = http.Get(srv.URL + "/api/v1/runs?workflow_id=wf-ghost")
	require.NoError(t, err)
	decode(t, resp, &runs)
	assert.Empty(t, runs)
}

func TestGetRun_NonRunDocumentIs404(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.CreateDocument(context.Background(), &models.Document{
		ID: "kb-1", Type: "market_insight",
	}))

	resp, err := http.Get(srv.URL + "/api/v1/runs/kb-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
