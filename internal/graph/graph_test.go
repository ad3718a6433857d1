package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func passthrough(update State) Node {
	return func(_ context.Context, _ State) (State, error) {
		return update, nil
	}
}

func TestLinearGraphRunsToEnd(t *testing.T) {
	g := New().
		AddNode("a", passthrough(State{"a_ran": true})).
		AddNode("b", passthrough(State{"b_ran": true})).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetStart("a")

	run, err := g.Compile(nil)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	final, err := run.Invoke(context.Background(), "t1", State{"seed": "x"})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}

	want := State{"seed": "x", "a_ran": true, "b_ran": true}
	if diff := cmp.Diff(want, final); diff != "" {
		t.Fatalf("final state mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeLastWriterWins(t *testing.T) {
	g := New().
		AddNode("first", passthrough(State{"verdict": "BLOCK", "attempts": 1})).
		AddNode("second", passthrough(State{"verdict": "APPROVED"})).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetStart("first")

	run, err := g.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	final, err := run.Invoke(context.Background(), "t1", State{})
	if err != nil {
		t.Fatal(err)
	}
	if final.GetString("verdict") != "APPROVED" {
		t.Fatalf("verdict = %q, want APPROVED", final.GetString("verdict"))
	}
	if final.GetInt("attempts") != 1 {
		t.Fatalf("attempts = %d, want 1 (untouched keys survive)", final.GetInt("attempts"))
	}
}

func TestConditionalRouting(t *testing.T) {
	g := New().
		AddNode("review", passthrough(State{"verdict": "BLOCK"})).
		AddNode("revise", passthrough(State{"revised": true})).
		AddConditionalEdges("review", func(s State) string {
			if s.GetString("verdict") == "APPROVED" {
				return END
			}
			return "revise"
		}).
		AddEdge("revise", END).
		SetStart("review")

	run, err := g.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	final, err := run.Invoke(context.Background(), "t1", State{})
	if err != nil {
		t.Fatal(err)
	}
	if !final.GetBool("revised") {
		t.Fatal("BLOCK verdict should route through revise")
	}
}

func TestStreamEmitsNodeUpdates(t *testing.T) {
	g := New().
		AddNode("a", passthrough(State{"a_ran": true})).
		AddNode("b", passthrough(State{"b_ran": true})).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetStart("a")

	run, err := g.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}

	var nodes []string
	final, err := run.Stream(context.Background(), "t1", State{}, func(node string, update State) {
		nodes = append(nodes, node)
		if len(update) != 1 {
			t.Fatalf("node %s update = %v, want the partial update only", node, update)
		}
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, nodes); diff != "" {
		t.Fatalf("node order mismatch (-want +got):\n%s", diff)
	}
	if !final.GetBool("a_ran") || !final.GetBool("b_ran") {
		t.Fatalf("final state incomplete: %v", final)
	}
}

func TestMaxIterationsBound(t *testing.T) {
	g := New().
		AddNode("loop", passthrough(State{})).
		AddEdge("loop", "loop").
		SetStart("loop").
		SetMaxIterations(5)

	run, err := g.Compile(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = run.Invoke(context.Background(), "t1", State{})
	if err == nil {
		t.Fatal("expected max iterations error")
	}
}

func TestCompileRejectsUndeclaredTargets(t *testing.T) {
	g := New().
		AddNode("a", passthrough(State{})).
		AddEdge("a", "ghost").
		SetStart("a")
	if _, err := g.Compile(nil); err == nil {
		t.Fatal("expected compile error for undeclared edge target")
	}

	g = New().AddNode("a", passthrough(State{}))
	if _, err := g.Compile(nil); err == nil {
		t.Fatal("expected compile error for missing start node")
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	cp := NewMemoryCheckpointer()
	var aRuns, bRuns int

	build := func(failB bool) *Runnable {
		g := New().
			AddNode("a", func(_ context.Context, _ State) (State, error) {
				aRuns++
				return State{"a_done": true}, nil
			}).
			AddNode("b", func(_ context.Context, _ State) (State, error) {
				bRuns++
				if failB {
					return nil, errors.New("transient")
				}
				return State{"b_done": true}, nil
			}).
			AddEdge("a", "b").
			AddEdge("b", END).
			SetStart("a")
		run, err := g.Compile(cp)
		if err != nil {
			t.Fatal(err)
		}
		return run
	}

	// First run: a completes and is checkpointed, b fails.
	if _, err := build(true).Invoke(context.Background(), "issue-42", State{"issue": 42}); err == nil {
		t.Fatal("expected first run to fail at b")
	}

	// Second run resumes at b without re-running a.
	final, err := build(false).Invoke(context.Background(), "issue-42", State{})
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if aRuns != 1 {
		t.Fatalf("a ran %d times, want 1 (resume skips completed nodes)", aRuns)
	}
	if bRuns != 2 {
		t.Fatalf("b ran %d times, want 2", bRuns)
	}
	if !final.GetBool("a_done") || !final.GetBool("b_done") {
		t.Fatalf("resumed state lost progress: %v", final)
	}
	if final.GetInt("issue") != 42 {
		t.Fatal("resume should restore the checkpointed state, not the new initial state")
	}
}

func TestInterruptCheckpointsThenExits(t *testing.T) {
	cp := NewMemoryCheckpointer()
	ctx, cancel := context.WithCancel(context.Background())

	g := New().
		AddNode("a", func(_ context.Context, _ State) (State, error) {
			cancel() // simulate SIGINT arriving mid-node
			return State{"a_done": true}, nil
		}).
		AddNode("b", passthrough(State{"b_done": true})).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetStart("a")

	run, err := g.Compile(cp)
	if err != nil {
		t.Fatal(err)
	}
	_, err = run.Invoke(ctx, "t1", State{})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}

	ckpt, err := cp.Latest(context.Background(), "t1")
	if err != nil || ckpt == nil {
		t.Fatalf("interrupt must leave a checkpoint: ckpt=%v err=%v", ckpt, err)
	}
	if ckpt.Next != "b" {
		t.Fatalf("checkpoint next = %q, want b", ckpt.Next)
	}
}

func TestSQLiteCheckpointerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "workflow.db")
	cp, err := NewSQLiteCheckpointer(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer cp.Close()

	ctx := context.Background()
	saved := Checkpoint{
		ThreadID: "issue-7",
		Step:     3,
		Node:     "generate_draft",
		Next:     "validate_mechanical",
		State: State{
			"issue_number":  7,
			"verdict":       "BLOCK",
			"context_files": []string{"a.md", "b.md"},
		},
	}
	if err := cp.Save(ctx, saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := cp.Latest(ctx, "issue-7")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if got == nil {
		t.Fatal("latest returned nil for saved thread")
	}
	if got.Step != 3 || got.Node != "generate_draft" || got.Next != "validate_mechanical" {
		t.Fatalf("checkpoint fields mismatch: %+v", got)
	}
	// JSON round-trip turns numbers into float64 and slices into []any;
	// the typed getters absorb that.
	if got.State.GetInt("issue_number") != 7 {
		t.Fatalf("issue_number = %v", got.State["issue_number"])
	}
	if files := got.State.GetStrings("context_files"); len(files) != 2 || files[0] != "a.md" {
		t.Fatalf("context_files = %v", files)
	}

	// Higher step wins.
	saved.Step = 4
	saved.Node = "validate_mechanical"
	if err := cp.Save(ctx, saved); err != nil {
		t.Fatal(err)
	}
	got, err = cp.Latest(ctx, "issue-7")
	if err != nil || got.Step != 4 {
		t.Fatalf("latest step = %v err = %v, want 4", got, err)
	}

	// Unknown thread is a nil checkpoint, not an error.
	got, err = cp.Latest(ctx, "issue-999")
	if err != nil || got != nil {
		t.Fatalf("unknown thread: got=%v err=%v", got, err)
	}
}
