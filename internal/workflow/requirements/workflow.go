// Package requirements implements the governed drafting workflow that
// turns a brief into a filed tracker issue, or a tracker issue into an
// approved LLD. A drafter provider generates, mechanical validators and
// a reviewer provider gate, optional human gates interpose, and every
// artifact lands in the audit trail.
package requirements

import (
	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/provider"
)

// Workflow kinds. The issue kind drafts a tracker issue from a brief;
// the lld kind drafts an LLD from an approved tracker issue.
const (
	KindIssue = "issue"
	KindLLD   = "lld"
)

// Node names.
const (
	nodeLoadInput        = "load_input"
	nodeAnalyzeCodebase  = "analyze_codebase"
	nodeGenerateDraft    = "generate_draft"
	nodeValidateMech     = "validate_mechanical"
	nodeValidateTestPlan = "validate_test_plan"
	nodeHumanGateDraft   = "human_gate_draft"
	nodeReview           = "review"
	nodeHumanGateVerdict = "human_gate_verdict"
	nodeFinalize         = "finalize"
)

// Frequently shared state keys. Nodes also write workflow-specific keys
// documented at their return sites.
const (
	keyErrorMessage   = "error_message"
	keyIterationCount = "iteration_count"
	keyMaxIterations  = "max_iterations"
	keyLLDStatus      = "lld_status"
	keyNextNode       = "next_node"
	keyDraft          = "draft"
	keyAuditDir       = "audit_dir"
)

// Workflow wires the node set to its collaborators. All fields must be
// set; use New for defaults.
type Workflow struct {
	Kind     string
	Drafter  provider.Provider
	Reviewer provider.Provider
	Trail    *audit.Trail
	Log      *audit.GovernanceLog
	Tracker  Tracker
	Gate     GateFunc
	Config   *config.Config
}

// New builds a workflow over the given providers and repo root with the
// interactive console gate and the gh-backed tracker.
func New(kind string, drafter, reviewer provider.Provider, repoRoot string, cfg *config.Config) *Workflow {
	return &Workflow{
		Kind:     kind,
		Drafter:  drafter,
		Reviewer: reviewer,
		Trail:    audit.NewTrail(repoRoot),
		Log:      audit.NewGovernanceLog(audit.GovernanceLogPath(repoRoot)),
		Tracker:  NewGHTracker(cfg.Workflows.TrackerTimeoutSeconds),
		Gate:     ConsoleGate,
		Config:   cfg,
	}
}

// maxIterations resolves the loop cap: explicit state override first,
// then the per-kind config default.
func (w *Workflow) maxIterations(s graph.State) int {
	if n := s.GetInt(keyMaxIterations); n > 0 {
		return n
	}
	if w.Kind == KindLLD {
		return w.Config.Workflows.LLDMaxIterations
	}
	return w.Config.Workflows.RequirementsMaxIterations
}

// BuildGraph declares the node set and routing for this workflow kind.
func (w *Workflow) BuildGraph() *graph.Graph {
	g := graph.New().
		AddNode(nodeLoadInput, w.loadInput).
		AddNode(nodeAnalyzeCodebase, w.analyzeCodebase).
		AddNode(nodeGenerateDraft, w.generateDraft).
		AddNode(nodeValidateMech, w.validateMechanical).
		AddNode(nodeValidateTestPlan, w.validateTestPlan).
		AddNode(nodeHumanGateDraft, w.humanGateDraft).
		AddNode(nodeReview, w.review).
		AddNode(nodeHumanGateVerdict, w.humanGateVerdict).
		AddNode(nodeFinalize, w.finalize).
		SetStart(nodeLoadInput)

	g.AddConditionalEdges(nodeLoadInput, w.routeAfterLoadInput)
	g.AddEdge(nodeAnalyzeCodebase, nodeGenerateDraft)
	g.AddConditionalEdges(nodeGenerateDraft, w.routeAfterGenerateDraft)
	g.AddConditionalEdges(nodeValidateMech, w.routeAfterValidateMechanical)
	g.AddConditionalEdges(nodeValidateTestPlan, w.routeAfterValidateTestPlan)
	g.AddConditionalEdges(nodeHumanGateDraft, routeFromGate)
	g.AddConditionalEdges(nodeReview, w.routeAfterReview)
	g.AddConditionalEdges(nodeHumanGateVerdict, routeFromGate)
	g.AddEdge(nodeFinalize, graph.END)
	return g
}

// ===========================================================================
// Routers
// ===========================================================================

func (w *Workflow) routeAfterLoadInput(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	if w.Kind == KindLLD {
		return nodeAnalyzeCodebase
	}
	return nodeGenerateDraft
}

func (w *Workflow) routeAfterGenerateDraft(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	if w.Kind == KindLLD {
		return nodeValidateMech
	}
	if w.Config.Workflows.GatesDraft {
		return nodeHumanGateDraft
	}
	return nodeReview
}

func (w *Workflow) routeAfterValidateMechanical(s graph.State) string {
	if s.GetString(keyLLDStatus) == StatusBlocked {
		if s.GetInt(keyIterationCount) >= w.maxIterations(s) {
			logging.Workflow("max iterations (%d) reached with validation errors", w.maxIterations(s))
			return graph.END
		}
		return nodeGenerateDraft
	}
	return nodeValidateTestPlan
}

func (w *Workflow) routeAfterValidateTestPlan(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}
	if !s.GetBool("test_plan_passed") {
		if s.GetInt(keyIterationCount) >= w.maxIterations(s) {
			logging.Workflow("max iterations (%d) reached with test plan errors", w.maxIterations(s))
			return graph.END
		}
		return nodeGenerateDraft
	}
	if w.Config.Workflows.GatesDraft {
		return nodeHumanGateDraft
	}
	return nodeReview
}

func (w *Workflow) routeAfterReview(s graph.State) string {
	if s.GetString(keyErrorMessage) != "" {
		return graph.END
	}

	switch s.GetString("open_questions_status") {
	case QuestionsHumanRequired:
		logging.Workflow("open questions need a human decision, escalating to verdict gate")
		return nodeHumanGateVerdict
	case QuestionsUnanswered:
		if s.GetInt(keyIterationCount) >= w.maxIterations(s) {
			return nodeHumanGateVerdict
		}
		return nodeGenerateDraft
	}

	if w.Config.Workflows.GatesVerdict {
		return nodeHumanGateVerdict
	}
	if s.GetString(keyLLDStatus) == StatusApproved {
		return nodeFinalize
	}
	if s.GetInt(keyIterationCount) >= w.maxIterations(s) {
		// Out of budget: finalize with the current status rather than
		// silently dropping the run.
		return nodeFinalize
	}
	return nodeGenerateDraft
}

// routeFromGate dispatches on the next_node decision a human gate wrote.
func routeFromGate(s graph.State) string {
	switch next := s.GetString(keyNextNode); next {
	case nodeReview, nodeGenerateDraft, nodeFinalize:
		return next
	default:
		return graph.END
	}
}
