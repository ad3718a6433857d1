package graph

import (
	"context"
	"errors"
	"fmt"

	"agentos/internal/logging"
)

// END is the terminal pseudo-node name. Routers return it to stop the
// workflow.
const END = "__end__"

// DefaultMaxIterations bounds total node executions per run as a safety
// net against routing loops.
const DefaultMaxIterations = 100

// ErrInterrupted is returned when the context is cancelled mid-run. The
// current checkpoint has already been written, so a later run with the
// same thread id resumes after the last completed node.
var ErrInterrupted = errors.New("workflow interrupted")

// Node transforms state into a partial update. Nodes never fail hard;
// unrecoverable problems go into the error_message state key and routers
// steer to END.
type Node func(ctx context.Context, s State) (State, error)

// Router picks the next node name (or END) from the merged state.
type Router func(s State) string

type edge struct {
	router Router // nil for unconditional edges
	to     string
}

// Graph is a declared workflow: named nodes plus edges between them.
// Declare bottom-up with AddNode/AddEdge, then Compile.
type Graph struct {
	nodes map[string]Node
	edges map[string]edge
	start string

	maxIterations int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:         make(map[string]Node),
		edges:         make(map[string]edge),
		maxIterations: DefaultMaxIterations,
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, fn Node) *Graph {
	g.nodes[name] = fn
	return g
}

// AddEdge declares an unconditional from → to edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = edge{to: to}
	return g
}

// AddConditionalEdges declares a router on from. The router returns the
// next node name or END.
func (g *Graph) AddConditionalEdges(from string, router Router) *Graph {
	g.edges[from] = edge{router: router}
	return g
}

// SetStart designates the entry node.
func (g *Graph) SetStart(name string) *Graph {
	g.start = name
	return g
}

// SetMaxIterations overrides the engine-level loop bound.
func (g *Graph) SetMaxIterations(n int) *Graph {
	if n > 0 {
		g.maxIterations = n
	}
	return g
}

// Compile validates the declaration and returns a runnable workflow.
// Every edge endpoint must resolve to a declared node; routers are
// checked at runtime since their targets are data-dependent.
func (g *Graph) Compile(cp Checkpointer) (*Runnable, error) {
	if g.start == "" {
		return nil, errors.New("graph has no start node")
	}
	if _, ok := g.nodes[g.start]; !ok {
		return nil, fmt.Errorf("start node %q is not declared", g.start)
	}
	for from, e := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("edge source %q is not declared", from)
		}
		if e.router == nil && e.to != END {
			if _, ok := g.nodes[e.to]; !ok {
				return nil, fmt.Errorf("edge %s -> %s targets an undeclared node", from, e.to)
			}
		}
	}
	if cp == nil {
		cp = NewMemoryCheckpointer()
	}
	return &Runnable{graph: g, checkpointer: cp}, nil
}

// Runnable executes a compiled graph against a checkpoint store.
type Runnable struct {
	graph        *Graph
	checkpointer Checkpointer
}

// Invoke runs the workflow to completion and returns the final state.
// With a prior checkpoint for threadID, execution resumes from the saved
// state at the saved node; otherwise it starts fresh from initial.
func (r *Runnable) Invoke(ctx context.Context, threadID string, initial State) (State, error) {
	return r.run(ctx, threadID, initial, nil)
}

// Stream runs the workflow like Invoke but calls observe with each
// node's partial update after it is merged and checkpointed.
func (r *Runnable) Stream(ctx context.Context, threadID string, initial State, observe func(node string, update State)) (State, error) {
	return r.run(ctx, threadID, initial, observe)
}

func (r *Runnable) run(ctx context.Context, threadID string, initial State, observe func(node string, update State)) (State, error) {
	state := initial.Clone()
	current := r.graph.start
	step := 0

	if ckpt, err := r.checkpointer.Latest(ctx, threadID); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	} else if ckpt != nil {
		state = ckpt.State
		current = ckpt.Next
		step = ckpt.Step
		logging.Checkpoint("thread %s resuming at step %d node %s", threadID, step, current)
	}

	for iterations := 0; current != END; iterations++ {
		if iterations >= r.graph.maxIterations {
			return state, fmt.Errorf("max iterations (%d) exceeded at node %s", r.graph.maxIterations, current)
		}

		node, ok := r.graph.nodes[current]
		if !ok {
			return state, fmt.Errorf("router returned undeclared node %q", current)
		}

		logging.WorkflowDebug("thread %s step %d: %s", threadID, step, current)
		update, err := node(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		state.Merge(update)
		step++

		next := r.nextNode(current, state)

		if err := r.checkpointer.Save(ctx, Checkpoint{
			ThreadID: threadID,
			Step:     step,
			Node:     current,
			Next:     next,
			State:    state.Clone(),
		}); err != nil {
			return state, fmt.Errorf("save checkpoint: %w", err)
		}

		if observe != nil {
			observe(current, update)
		}

		// Interrupt converts to a graceful exit after the checkpoint
		// write, so the next run resumes at the routed node.
		if ctx.Err() != nil {
			logging.Checkpoint("thread %s interrupted after step %d", threadID, step)
			return state, ErrInterrupted
		}

		current = next
	}

	return state, nil
}

func (r *Runnable) nextNode(current string, state State) string {
	e, ok := r.graph.edges[current]
	if !ok {
		return END
	}
	if e.router != nil {
		return e.router(state)
	}
	return e.to
}
