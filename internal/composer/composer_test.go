package composer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kubotie/marketing-ai-sub000/internal/composer"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	t.Setenv("MARKAI_DATA_DIR", t.TempDir())
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

// seedWorkflow builds a workflow wiring product, persona, kb and intent
// inputs into one agent node, and seeds their referenced documents.
func seedWorkflow(t *testing.T, s store.Store) *models.Workflow {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.CreateProduct(ctx, &models.Product{ID: "p-1", Name: "Trail Shoe"}))
	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "kb-persona", Type: models.DocPersona,
		Payload: map[string]interface{}{"name": "weekend hiker"},
	}))
	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "kb-insight", Type: models.KindMarketInsight,
		Payload: map[string]interface{}{"note": "social proof works"},
	}))

	return &models.Workflow{
		ID: "wf-1",
		Nodes: []models.Node{
			{ID: "n-product", Type: models.NodeInput, Kind: models.InputProduct, Data: models.NodeData{RefID: "p-1"}},
			{ID: "n-persona", Type: models.NodeInput, Kind: models.InputPersona, Data: models.NodeData{RefID: "kb-persona"}},
			{ID: "n-kb", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-insight", Title: "CTR study"}},
			{ID: "n-intent", Type: models.NodeInput, Kind: models.InputIntent, Data: models.NodeData{Goal: "launch page", SuccessCriteria: "3% signup"}},
			{ID: "n-agent", Type: models.NodeAgent, AgentDefinitionID: "def-1"},
		},
		Connections: []models.Connection{
			{FromNodeID: "n-product", ToNodeID: "n-agent"},
			{FromNodeID: "n-persona", ToNodeID: "n-agent"},
			{FromNodeID: "n-kb", ToNodeID: "n-agent"},
			{FromNodeID: "n-intent", ToNodeID: "n-agent"},
		},
	}
}

func TestBuildFromGraph_AllSlots(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)

	ec, err := composer.New(s).BuildFromGraph(context.Background(), wf, "n-agent")
	require.NoError(t, err)

	require.NotNil(t, ec.Product)
	assert.Equal(t, "Trail Shoe", ec.Product.Name)
	require.NotNil(t, ec.Persona)
	require.NotNil(t, ec.Intent)
	assert.Equal(t, "launch page", ec.Intent.Goal)

	require.Len(t, ec.Knowledge, 1)
	assert.Equal(t, models.KindMarketInsight, ec.Knowledge[0].Kind)
	assert.Equal(t, []string{"kb-insight"}, ec.ReferencedKBItemIDs)
	assert.Len(t, ec.Packets, 4)
	assert.Len(t, ec.Trace.OrderedNodeIDs, 4)
}

func TestBuildFromGraph_FetchFailureDropsInput(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	// Point the kb node at a document that does not exist.
	wf.Nodes[2].Data.RefID = "missing"

	ec, err := composer.New(s).BuildFromGraph(context.Background(), wf, "n-agent")
	require.NoError(t, err, "per-input failures must not propagate")

	assert.Empty(t, ec.Knowledge, "failed fetch must be dropped, not nulled")
	assert.Empty(t, ec.ReferencedKBItemIDs)
	assert.NotNil(t, ec.Product)

	// The drop is recorded on the context so the quality gate can see it.
	require.Len(t, ec.Omissions, 1)
	assert.Contains(t, ec.Omissions[0], "missing")
}

func TestBuildFromGraph_PersonaTypeMismatchIsMiss(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	// Persona node pointing at a non-persona document.
	wf.Nodes[1].Data.RefID = "kb-insight"

	ec, err := composer.New(s).BuildFromGraph(context.Background(), wf, "n-agent")
	require.NoError(t, err)

	assert.Nil(t, ec.Persona)
	require.Len(t, ec.Omissions, 1)
	assert.Contains(t, ec.Omissions[0], "persona")
}

func TestBuildFromGraph_EdgeRefKindOverridesDocType(t *testing.T) {
	s := newTestStore(t)
	wf := seedWorkflow(t, s)
	wf.Connections[2].RefKind = models.KindBannerInsight

	ec, err := composer.New(s).BuildFromGraph(context.Background(), wf, "n-agent")
	require.NoError(t, err)

	require.Len(t, ec.Knowledge, 1)
	assert.Equal(t, models.KindBannerInsight, ec.Knowledge[0].Kind)
}

func TestBuildFromGraph_KnowledgeOrderedByKindPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Seed three kb items discovered in reverse priority order.
	for _, d := range []struct{ id, kind string }{
		{"kb-layout", models.KindBannerAutoLayout},
		{"kb-strategy", models.KindStrategyOption},
		{"kb-banner", models.KindBannerInsight},
	} {
		require.NoError(t, s.CreateDocument(ctx, &models.Document{ID: d.id, Type: d.kind}))
	}

	wf := &models.Workflow{
		ID: "wf-2",
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-layout"}},
			{ID: "n2", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-strategy"}},
			{ID: "n3", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-banner"}},
			{ID: "n-agent", Type: models.NodeAgent},
		},
		Connections: []models.Connection{
			{FromNodeID: "n1", ToNodeID: "n-agent"},
			{FromNodeID: "n2", ToNodeID: "n-agent"},
			{FromNodeID: "n3", ToNodeID: "n-agent"},
		},
	}

	ec, err := composer.New(s).BuildFromGraph(ctx, wf, "n-agent")
	require.NoError(t, err)

	require.Len(t, ec.Knowledge, 3)
	assert.Equal(t, models.KindBannerInsight, ec.Knowledge[0].Kind)
	assert.Equal(t, models.KindStrategyOption, ec.Knowledge[1].Kind)
	assert.Equal(t, models.KindBannerAutoLayout, ec.Knowledge[2].Kind)
}

func TestBuildFromGraph_RunRefPrefersFinalOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "run-1", Type: models.DocWorkflowRun,
		Payload: map[string]interface{}{
			"final_output": map[string]interface{}{"title": "normalized"},
			"output":       map[string]interface{}{"title": "legacy"},
		},
	}))

	wf := &models.Workflow{
		ID: "wf-3",
		Nodes: []models.Node{
			{ID: "n-ref", Type: models.NodeInput, Kind: models.InputWorkflowRunRef, Data: models.NodeData{RefID: "run-1"}},
			{ID: "n-agent", Type: models.NodeAgent},
		},
		Connections: []models.Connection{{FromNodeID: "n-ref", ToNodeID: "n-agent"}},
	}

	ec, err := composer.New(s).BuildFromGraph(ctx, wf, "n-agent")
	require.NoError(t, err)

	require.Len(t, ec.Knowledge, 1)
	assert.Equal(t, "normalized", ec.Knowledge[0].Payload["title"])
	assert.Equal(t, []string{"run-1"}, ec.ReferencedRunIDs)
}

func TestBuildFromGraph_RunRefWithoutOutputDropped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "run-empty", Type: models.DocWorkflowRun,
		Payload: map[string]interface{}{"status": "error"},
	}))

	wf := &models.Workflow{
		ID: "wf-4",
		Nodes: []models.Node{
			{ID: "n-ref", Type: models.NodeInput, Kind: models.InputWorkflowRunRef, Data: models.NodeData{RefID: "run-empty"}},
			{ID: "n-agent", Type: models.NodeAgent},
		},
		Connections: []models.Connection{{FromNodeID: "n-ref", ToNodeID: "n-agent"}},
	}

	ec, err := composer.New(s).BuildFromGraph(ctx, wf, "n-agent")
	require.NoError(t, err)

	assert.Empty(t, ec.Knowledge)
	assert.Empty(t, ec.ReferencedRunIDs)
	require.Len(t, ec.Omissions, 1)
	assert.Contains(t, ec.Omissions[0], "run-empty")
}

func TestBuildFromGraph_ReferencedIDsAreSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "kb-shared", Type: models.KindMarketInsight,
		Payload: map[string]interface{}{"note": "cited twice"},
	}))

	wf := &models.Workflow{
		ID: "wf-dup",
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-shared"}},
			{ID: "n2", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-shared"}},
			{ID: "n-agent", Type: models.NodeAgent},
		},
		Connections: []models.Connection{
			{FromNodeID: "n1", ToNodeID: "n-agent"},
			{FromNodeID: "n2", ToNodeID: "n-agent"},
		},
	}

	ec, err := composer.New(s).BuildFromGraph(ctx, wf, "n-agent")
	require.NoError(t, err)

	assert.Len(t, ec.Knowledge, 2, "each node contributes its knowledge entry")
	assert.Equal(t, []string{"kb-shared"}, ec.ReferencedKBItemIDs, "the ID list stays a set")
}

func TestBuildFlat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "kb-insight", Type: models.KindMarketInsight,
		Payload: map[string]interface{}{"note": "works"},
	}))

	nodes := []models.Node{
		{ID: "n-kb", Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "kb-insight"}},
		{ID: "n-intent", Type: models.NodeInput, Kind: models.InputIntent, Data: models.NodeData{Goal: "g", SuccessCriteria: "c"}},
	}

	ec := composer.New(s).BuildFlat(ctx, nodes)

	require.Len(t, ec.Knowledge, 1)
	require.NotNil(t, ec.Intent)
	assert.Equal(t, []string{"n-kb", "n-intent"}, ec.Trace.OrderedNodeIDs)
	assert.Empty(t, ec.Trace.EdgesUsed)
}

func TestMergeSelectedRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		ID: "run-lp", Type: models.DocWorkflowRun,
		Payload: map[string]interface{}{
			"final_output": map[string]interface{}{"sections": []interface{}{"hero"}},
		},
	}))

	c := composer.New(s)
	ec := c.BuildFlat(ctx, nil)
	c.MergeSelectedRun(ctx, ec, "run-lp")

	require.NotNil(t, ec.LPStructure)
	assert.Contains(t, ec.ReferencedKBItemIDs, "run-lp")

	// A missing run leaves the context untouched.
	ec2 := c.BuildFlat(ctx, nil)
	c.MergeSelectedRun(ctx, ec2, "ghost")
	assert.Nil(t, ec2.LPStructure)
}
