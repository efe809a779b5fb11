// Package resolver computes the transitive upstream closure of a workflow
// node. Given a target node, it walks the connection graph in reverse and
// returns every node whose output can reach the target, deepest ancestors
// first. The walk is cycle-safe: a connection loop terminates the branch
// instead of recursing forever.
package resolver

import (
	"fmt"

	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

// GraphError reports that the workflow or the target node could not be
// located. It is the only error the resolver produces.
type GraphError struct {
	WorkflowID string
	NodeID     string
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %q not found in workflow %q", e.NodeID, e.WorkflowID)
	}
	return fmt.Sprintf("workflow %q has no graph", e.WorkflowID)
}

// Resolve returns the upstream nodes of targetNodeID, ordered deepest
// ancestors first with the target's direct predecessors last. The target
// itself is excluded. Node IDs never repeat in the result, even when a node
// is reachable over several paths.
func Resolve(wf *models.Workflow, targetNodeID string) ([]models.Node, models.ResolutionTrace, error) {
	trace := models.ResolutionTrace{}
	if wf == nil {
		return nil, trace, &GraphError{WorkflowID: ""}
	}
	target := wf.Node(targetNodeID)
	if target == nil {
		return nil, trace, &GraphError{WorkflowID: wf.ID, NodeID: targetNodeID}
	}

	seen := make(map[string]bool) // dedup across all branches
	var ordered []models.Node

	var walk func(nodeID string, visited map[string]bool)
	walk = func(nodeID string, visited map[string]bool) {
		// Each branch carries its own copy of the path so that sibling
		// branches cannot alias each other's visited set.
		path := make(map[string]bool, len(visited)+1)
		for id := range visited {
			path[id] = true
		}
		path[nodeID] = true

		for _, conn := range wf.Connections {
			if conn.ToNodeID != nodeID {
				continue
			}
			if path[conn.FromNodeID] {
				// Cycle: this branch already passed through the
				// predecessor. Stop here, not an error.
				continue
			}
			trace.EdgesUsed = append(trace.EdgesUsed, models.Edge{
				FromNodeID: conn.FromNodeID,
				ToNodeID:   conn.ToNodeID,
			})

			// Recurse before appending so deeper ancestors land first.
			walk(conn.FromNodeID, path)

			if !seen[conn.FromNodeID] {
				seen[conn.FromNodeID] = true
				if n := wf.Node(conn.FromNodeID); n != nil {
					ordered = append(ordered, *n)
					trace.OrderedNodeIDs = append(trace.OrderedNodeIDs, n.ID)
				}
			}
		}
	}

	walk(targetNodeID, map[string]bool{})
	return ordered, trace, nil
}

// InboundRefKind returns the ref kind declared on an edge leaving
// fromNodeID. When several edges leave the node, the first declared kind
// wins. Empty when no edge declares one.
func InboundRefKind(wf *models.Workflow, fromNodeID string) string {
	for i := range wf.Connections {
		c := &wf.Connections[i]
		if c.FromNodeID == fromNodeID && c.RefKind != "" {
			return c.RefKind
		}
	}
	return ""
}
