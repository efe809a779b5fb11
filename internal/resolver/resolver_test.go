package resolver_test

import (
	"testing"

	"github.com/Kubotie/marketing-ai-sub000/internal/resolver"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

func inputNode(id string) models.Node {
	return models.Node{ID: id, Type: models.NodeInput, Kind: models.InputKBItem, Data: models.NodeData{RefID: "ref-" + id}}
}

func agentNode(id string) models.Node {
	return models.Node{ID: id, Type: models.NodeAgent, AgentDefinitionID: "def-1"}
}

func TestResolve_LinearChain(t *testing.T) {
	wf := &models.Workflow{
		ID:    "wf",
		Nodes: []models.Node{inputNode("a"), inputNode("b"), agentNode("target")},
		Connections: []models.Connection{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "b", ToNodeID: "target"},
		},
	}

	nodes, trace, err := resolver.Resolve(wf, "target")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Resolve() returned %d nodes, want 2", len(nodes))
	}
	// Deepest ancestor first.
	if nodes[0].ID != "a" || nodes[1].ID != "b" {
		t.Errorf("Resolve() order = [%s %s], want [a b]", nodes[0].ID, nodes[1].ID)
	}
	if len(trace.EdgesUsed) != 2 {
		t.Errorf("trace.EdgesUsed = %d, want 2", len(trace.EdgesUsed))
	}
}

func TestResolve_DiamondDeduplicates(t *testing.T) {
	// a feeds both b and c; both feed target. a must appear once.
	wf := &models.Workflow{
		ID:    "wf",
		Nodes: []models.Node{inputNode("a"), inputNode("b"), inputNode("c"), agentNode("target")},
		Connections: []models.Connection{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "a", ToNodeID: "c"},
			{FromNodeID: "b", ToNodeID: "target"},
			{FromNodeID: "c", ToNodeID: "target"},
		},
	}

	nodes, _, err := resolver.Resolve(wf, "target")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	counts := map[string]int{}
	for _, n := range nodes {
		counts[n.ID]++
	}
	for id, c := range counts {
		if c != 1 {
			t.Errorf("node %s appears %d times, want 1", id, c)
		}
	}
	if len(nodes) != 3 {
		t.Errorf("Resolve() returned %d nodes, want 3", len(nodes))
	}
	if nodes[0].ID != "a" {
		t.Errorf("deepest ancestor = %s, want a", nodes[0].ID)
	}
}

func TestResolve_CycleTerminates(t *testing.T) {
	// a -> b -> a loop feeding the target. Must terminate with no dups.
	wf := &models.Workflow{
		ID:    "wf",
		Nodes: []models.Node{inputNode("a"), inputNode("b"), agentNode("target")},
		Connections: []models.Connection{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "b", ToNodeID: "a"},
			{FromNodeID: "b", ToNodeID: "target"},
		},
	}

	nodes, _, err := resolver.Resolve(wf, "target")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	seen := map[string]bool{}
	for _, n := range nodes {
		if seen[n.ID] {
			t.Errorf("duplicate node %s in cycle resolution", n.ID)
		}
		seen[n.ID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("cycle members missing from result: %v", seen)
	}
}

func TestResolve_SelfLoopTerminates(t *testing.T) {
	wf := &models.Workflow{
		ID:    "wf",
		Nodes: []models.Node{inputNode("a"), agentNode("target")},
		Connections: []models.Connection{
			{FromNodeID: "a", ToNodeID: "a"},
			{FromNodeID: "a", ToNodeID: "target"},
		},
	}

	nodes, _, err := resolver.Resolve(wf, "target")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "a" {
		t.Errorf("Resolve() = %v, want [a]", nodes)
	}
}

func TestResolve_TargetMissing(t *testing.T) {
	wf := &models.Workflow{ID: "wf", Nodes: []models.Node{inputNode("a")}}

	_, _, err := resolver.Resolve(wf, "ghost")
	if err == nil {
		t.Fatal("Resolve() expected error for missing target")
	}
	if _, ok := err.(*resolver.GraphError); !ok {
		t.Errorf("Resolve() error = %T, want *GraphError", err)
	}
}

func TestResolve_NoUpstream(t *testing.T) {
	wf := &models.Workflow{ID: "wf", Nodes: []models.Node{agentNode("target")}}

	nodes, trace, err := resolver.Resolve(wf, "target")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("Resolve() returned %d nodes, want 0", len(nodes))
	}
	if len(trace.OrderedNodeIDs) != 0 {
		t.Errorf("trace.OrderedNodeIDs = %v, want empty", trace.OrderedNodeIDs)
	}
}

func TestInboundRefKind(t *testing.T) {
	wf := &models.Workflow{
		ID: "wf",
		Connections: []models.Connection{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "a", ToNodeID: "c", RefKind: "banner_insight"},
		},
	}

	if got := resolver.InboundRefKind(wf, "a"); got != "banner_insight" {
		t.Errorf("InboundRefKind(a) = %q, want banner_insight", got)
	}
	if got := resolver.InboundRefKind(wf, "b"); got != "" {
		t.Errorf("InboundRefKind(b) = %q, want empty", got)
	}
}
