// Package tdd implements the test-driven testing workflow: load an
// approved LLD's test plan, scaffold failing tests, verify the red
// phase, generate the implementation, gate it for completeness, then
// verify green and run end-to-end validation.
package tdd

import (

	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/provider"
)

// Node names.
const (
	nodeLoadInput        = "load_input"
	nodeScaffoldTests    = "scaffold_tests"
	nodeVerifyRed        = "verify_red"
	nodeImplementCode    = "implement_code"
	nodeCompletenessGate = "completeness_gate"
	nodeVerifyGreen      = "verify_green"
	nodeE2EValidation    = "e2e_validation"
	nodeFinalize         = "finalize"
)

// State keys shared across nodes.
const (
	keyErrorMessage   = "error_message"
	keyNextNode       = "next_node"
	keyAuditDir       = "audit_dir"
	keyIterationCount = "iteration_count"
	keyTestFiles      = "test_files"
	keyImplFiles      = "implementation_files"
	keyLastRunOutput  = "last_run_output"
)

// Workflow wires the testing node set. Runner abstracts the pytest
// subprocess so tests can inject outcomes.
type Workflow struct {
	Implementer provider.Provider
	Trail       *audit.Trail
	Runner      TestRunner
	Config      *config.Config
}

// New builds the workflow with the real pytest runner.
func New(implementer provider.Provider, repoRoot string, cfg *config.Config) *Workflow {
	return &Workflow{
		Implementer: implementer,
		Trail:       audit.NewTrail(repoRoot),
		Runner:      NewPytestRunner(repoRoot, cfg.Workflows.PytestTimeoutSeconds),
		Config:      cfg,
	}
}

// BuildGraph declares the node set and routing.
func (w *Workflow) BuildGraph() *graph.Graph {
	g := graph.New().
		AddNode(nodeLoadInput, w.loadInput).
		AddNode(nodeScaffoldTests, w.scaffoldTests).
		AddNode(nodeVerifyRed, w.verifyRed).
		AddNode(nodeImplementCode, w.implementCode).
		AddNode(nodeCompletenessGate, w.completenessGate).
		AddNode(nodeVerifyGreen, w.verifyGreen).
		AddNode(nodeE2EValidation, w.e2eValidation).
		AddNode(nodeFinalize, w.finalize).
		SetStart(nodeLoadInput)

	g.AddConditionalEdges(nodeLoadInput, routeOnError(nodeScaffoldTests))
	g.AddConditionalEdges(nodeScaffoldTests, w.routeAfterScaffold)
	g.AddConditionalEdges(nodeVerifyRed, routeOnNext)
	g.AddConditionalEdges(nodeImplementCode, routeOnError(nodeCompletenessGate))
	g.AddConditionalEdges(nodeCompletenessGate, w.routeAfterCompleteness)
	g.AddConditionalEdges(nodeVerifyGreen, routeOnNext)
	g.AddConditionalEdges(nodeE2EValidation, routeOnNext)
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

// routeOnNext follows the node's own routing decision. Nodes that loop
// or branch record their successor in next_node; anything unrecognized
// ends the run.
func routeOnNext(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	switch next := s.GetString(keyNextNode); next {
	case nodeImplementCode, nodeVerifyGreen, nodeE2EValidation, nodeFinalize:
		return next
	default:
		return graph.END
	}
}

func (w *Workflow) routeAfterScaffold(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	if s.GetBool("scaffold_only") {
		return graph.END
	}
	return nodeVerifyRed
}

func (w *Workflow) maxIterations(s graph.State) int {
	if n := s.GetInt("max_iterations"); n > 0 {
		return n
	}
	if n := w.Config.Workflows.TestingMaxIterations; n > 0 {
		return n
	}
	return 10
}
