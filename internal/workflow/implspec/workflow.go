// Package implspec implements the LLD-to-implementation-spec workflow:
// load an approved LLD, snapshot the current state of every file it
// touches, generate an implementation spec with the drafter, and gate it
// before it lands next to the LLD.
package implspec

import (
	"context"

	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/provider"
	"agentos/internal/workflow/requirements"
)

// Node names.
const (
	nodeLoadLLD         = "load_lld"
	nodeAnalyzeCodebase = "analyze_codebase"
	nodeGenerateSpec    = "generate_spec"
	nodeHumanGate       = "human_gate"
	nodeFinalize        = "finalize"
)

const (
	keyErrorMessage = "error_message"
	keySpecDraft    = "spec_draft"
	keyNextNode     = "next_node"
	keyAuditDir     = "audit_dir"
)

// Workflow wires the implementation-spec node set.
type Workflow struct {
	Drafter provider.Provider
	Trail   *audit.Trail
	Gate    requirements.GateFunc
	Config  *config.Config
}

// New builds the workflow with the interactive console gate.
func New(drafter provider.Provider, repoRoot string, cfg *config.Config) *Workflow {
	return &Workflow{
		Drafter: drafter,
		Trail:   audit.NewTrail(repoRoot),
		Gate:    requirements.ConsoleGate,
		Config:  cfg,
	}
}

// BuildGraph declares the node set and routing.
func (w *Workflow) BuildGraph() *graph.Graph {
	g := graph.New().
		AddNode(nodeLoadLLD, w.loadLLD).
		AddNode(nodeAnalyzeCodebase, w.analyzeCodebase).
		AddNode(nodeGenerateSpec, w.generateSpec).
		AddNode(nodeHumanGate, w.humanGate).
		AddNode(nodeFinalize, w.finalize).
		SetStart(nodeLoadLLD)

	g.AddConditionalEdges(nodeLoadLLD, routeOnError(nodeAnalyzeCodebase))
	g.AddConditionalEdges(nodeAnalyzeCodebase, routeOnError(nodeGenerateSpec))
	g.AddConditionalEdges(nodeGenerateSpec, w.routeAfterGenerateSpec)
	g.AddConditionalEdges(nodeHumanGate, routeFromGate)
	g.AddEdge(nodeFinalize, graph.END)
	return g
}

// routeOnError forwards unless the node set error_message.
func routeOnError(next string) graph.Router {
	return func(s graph.State) string {
		if s.GetString(keyErrorMessage) != "" {
			return graph.END
		}
		return next
	}
}

func (w *Workflow) routeAfterGenerateSpec(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	if w.Config.Workflows.GatesDraft {
		return nodeHumanGate
	}
	return nodeFinalize
}

func routeFromGate(s graph.State) string {
	switch next := s.GetString(keyNextNode); next {
	case nodeFinalize, nodeGenerateSpec:
		return next
	default:
		return graph.END
	}
}

// humanGate interposes before finalize. Disabled gates auto-forward.
func (w *Workflow) humanGate(_ context.Context, s graph.State) (graph.State, error) {
	if !w.Config.Workflows.GatesDraft {
		return graph.State{keyNextNode: nodeFinalize, keyErrorMessage: ""}, nil
	}
	draft := s.GetString(keySpecDraft)
	if draft == "" {
		return graph.State{
			keyNextNode:     graph.END,
			keyErrorMessage: "human gate reached with no spec draft",
		}, nil
	}

	decision, feedback := w.Gate("spec", draft)
	switch decision {
	case requirements.GateSend:
		return graph.State{keyNextNode: nodeFinalize, keyErrorMessage: ""}, nil
	case requirements.GateRevise:
		logging.Workflow("spec gate: revise")
		return graph.State{
			keyNextNode:       nodeGenerateSpec,
			"review_feedback": feedback,
			keyErrorMessage:   "",
		}, nil
	default:
		return graph.State{keyNextNode: graph.END, keyErrorMessage: ""}, nil
	}
}
