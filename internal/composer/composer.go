// Package composer builds the execution context for one agent run. It
// consumes the resolver's ordered upstream nodes, dereferences what they
// point at, and assembles a typed bundle of product, persona, intent,
// knowledge and prior-run data plus a provenance trace.
//
// Per-input fetch failures never fail the build: the input is dropped,
// logged, and recorded as an omission on the context so the pre-execution
// gate can warn about it. Only a missing workflow or target node is an
// error.
package composer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kubotie/marketing-ai-sub000/internal/resolver"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/pkg/models"
)

type Composer struct {
	store store.Store
}

func New(st store.Store) *Composer {
	return &Composer{store: st}
}

// BuildFromGraph resolves the upstream closure of targetNodeID and builds
// the context from every input node in it. Fails only with a GraphError.
func (c *Composer) BuildFromGraph(ctx context.Context, wf *models.Workflow, targetNodeID string) (*models.ExecutionContext, error) {
	nodes, trace, err := resolver.Resolve(wf, targetNodeID)
	if err != nil {
		return nil, err
	}

	ec := newContext()
	ec.Trace = trace
	for _, n := range nodes {
		if n.Type != models.NodeInput {
			continue
		}
		c.resolveInput(ctx, ec, wf, n)
	}
	finalize(ec)
	return ec, nil
}

// BuildFlat builds a context from an explicit input-node list without any
// graph walk. Used as the fallback when DAG resolution fails but the caller
// supplied the inputs directly.
func (c *Composer) BuildFlat(ctx context.Context, nodes []models.Node) *models.ExecutionContext {
	ec := newContext()
	for _, n := range nodes {
		if n.Type != models.NodeInput {
			continue
		}
		ec.Trace.OrderedNodeIDs = append(ec.Trace.OrderedNodeIDs, n.ID)
		c.resolveInput(ctx, ec, nil, n)
	}
	finalize(ec)
	return ec
}

// MergeSelectedRun merges an operator-chosen prior run's output into the
// context as lp_structure. Applied after automatic resolution; a fetch miss
// leaves the context untouched.
func (c *Composer) MergeSelectedRun(ctx context.Context, ec *models.ExecutionContext, runID string) {
	doc, err := c.store.GetDocument(ctx, runID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("selected prior run could not be fetched, skipping lp_structure")
		return
	}
	output := runOutput(doc.Payload)
	if output == nil {
		log.Warn().Str("run_id", runID).Msg("selected prior run has no usable output, skipping lp_structure")
		return
	}
	ec.LPStructure = output
	ec.ReferencedKBItemIDs = appendID(ec.ReferencedKBItemIDs, runID)
}

func newContext() *models.ExecutionContext {
	return &models.ExecutionContext{
		Knowledge:           []models.KnowledgeRef{},
		Packets:             []models.Packet{},
		ReferencedKBItemIDs: []string{},
		ReferencedRunIDs:    []string{},
		Omissions:           []string{},
	}
}

// resolveInput dereferences one input node into the context. wf may be nil
// in flat mode; edge ref kinds are then unavailable.
func (c *Composer) resolveInput(ctx context.Context, ec *models.ExecutionContext, wf *models.Workflow, n models.Node) {
	switch n.Kind {
	case models.InputProduct:
		p, err := c.store.GetProduct(ctx, n.Data.RefID)
		if err != nil {
			dropInput(ec, n, err)
			return
		}
		ec.Product = p
		addPacket(ec, n, string(models.InputProduct), p.Name)

	case models.InputPersona:
		doc, err := c.store.GetDocument(ctx, n.Data.RefID)
		if err != nil {
			dropInput(ec, n, err)
			return
		}
		if doc.Type != models.DocPersona {
			omit(ec, n, fmt.Sprintf("persona node %s references a %s document, dropped", n.ID, doc.Type))
			return
		}
		ec.Persona = doc
		addPacket(ec, n, string(models.InputPersona), doc.Payload)

	case models.InputKBItem:
		doc, err := c.store.GetDocument(ctx, n.Data.RefID)
		if err != nil {
			dropInput(ec, n, err)
			return
		}
		kind := ""
		if wf != nil {
			kind = resolver.InboundRefKind(wf, n.ID)
		}
		if kind == "" {
			kind = doc.Type
		}
		ec.Knowledge = append(ec.Knowledge, models.KnowledgeRef{
			ID:      doc.ID,
			Kind:    kind,
			Title:   n.Data.Title,
			Payload: doc.Payload,
		})
		ec.ReferencedKBItemIDs = appendID(ec.ReferencedKBItemIDs, doc.ID)
		addPacket(ec, n, kind, doc.Payload)

	case models.InputWorkflowRunRef:
		doc, err := c.store.GetDocument(ctx, n.Data.RefID)
		if err != nil {
			dropInput(ec, n, err)
			return
		}
		output := runOutput(doc.Payload)
		if output == nil {
			omit(ec, n, fmt.Sprintf("referenced run %s has no usable output, dropped", doc.ID))
			return
		}
		kind := ""
		if wf != nil {
			kind = resolver.InboundRefKind(wf, n.ID)
		}
		if kind == "" {
			kind = doc.Type
		}
		ec.Knowledge = append(ec.Knowledge, models.KnowledgeRef{
			ID:      doc.ID,
			Kind:    kind,
			Title:   n.Data.Title,
			Payload: output,
		})
		ec.ReferencedRunIDs = appendID(ec.ReferencedRunIDs, doc.ID)
		addPacket(ec, n, kind, output)

	case models.InputIntent:
		// Intent is carried inline on the node, not dereferenced.
		ec.Intent = &models.Intent{
			Title:           n.Data.Title,
			Goal:            n.Data.Goal,
			SuccessCriteria: n.Data.SuccessCriteria,
		}
		addPacket(ec, n, string(models.InputIntent), ec.Intent)

	default:
		omit(ec, n, fmt.Sprintf("input node %s has unknown kind %q, dropped", n.ID, n.Kind))
	}
}

// finalize orders knowledge by the fixed kind priority. The sort is stable
// so discovery order is kept within a kind.
func finalize(ec *models.ExecutionContext) {
	sort.SliceStable(ec.Knowledge, func(i, j int) bool {
		return models.KnowledgePriority(ec.Knowledge[i].Kind) < models.KnowledgePriority(ec.Knowledge[j].Kind)
	})
}

// runOutput extracts the usable output of a persisted run document,
// preferring the normalized final output over the legacy output field.
func runOutput(payload map[string]interface{}) map[string]interface{} {
	if out, ok := payload["final_output"].(map[string]interface{}); ok && len(out) > 0 {
		return out
	}
	if out, ok := payload["output"].(map[string]interface{}); ok && len(out) > 0 {
		return out
	}
	return nil
}

func addPacket(ec *models.ExecutionContext, n models.Node, kind string, content interface{}) {
	ec.Packets = append(ec.Packets, models.Packet{
		NodeID:    n.ID,
		NodeType:  n.Type,
		Kind:      kind,
		Title:     n.Data.Title,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

func dropInput(ec *models.ExecutionContext, n models.Node, err error) {
	log.Warn().Err(err).Str("node_id", n.ID).Str("kind", string(n.Kind)).Str("ref_id", n.Data.RefID).Msg("input fetch failed, dropping")
	ec.Omissions = append(ec.Omissions, fmt.Sprintf("%s input %s (ref %s) could not be fetched: %v", n.Kind, n.ID, n.Data.RefID, err))
}

// omit records a dropped input on the context and logs it.
func omit(ec *models.ExecutionContext, n models.Node, reason string) {
	log.Warn().Str("node_id", n.ID).Str("kind", string(n.Kind)).Msg(reason)
	ec.Omissions = append(ec.Omissions, reason)
}

// appendID appends id unless already present; the referenced-ID lists are
// sets.
func appendID(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
