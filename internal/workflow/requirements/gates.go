package requirements

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"agentos/internal/graph"
	"agentos/internal/logging"
)

// GateDecision is the three-way choice a human gate offers.
type GateDecision int

const (
	GateSend GateDecision = iota
	GateRevise
	GateExit
)

// GateFunc presents a preview at a named stage and returns the decision
// plus optional revision feedback. Tests substitute a canned function.
type GateFunc func(stage, preview string) (GateDecision, string)

const maxPreviewLines = 80

// ConsoleGate is the interactive default: preview on stdout, decision on
// stdin, looping until a valid choice.
func ConsoleGate(stage, preview string) (GateDecision, string) {
	lines := strings.Split(preview, "\n")
	shown := lines
	if len(shown) > maxPreviewLines {
		shown = shown[:maxPreviewLines]
	}

	fmt.Printf("\n    %s\n    %s preview\n    %s\n", strings.Repeat("=", 60), stage, strings.Repeat("=", 60))
	for _, line := range shown {
		fmt.Printf("    | %s\n", line)
	}
	if len(lines) > maxPreviewLines {
		fmt.Printf("    | ... (%d more lines)\n", len(lines)-maxPreviewLines)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\n    [S] Send onward  [R] Revise  [M] Manual handling (exit)\n    Enter choice (S/R/M): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return GateExit, ""
		}
		switch strings.ToUpper(strings.TrimSpace(input)) {
		case "S":
			return GateSend, ""
		case "R":
			fmt.Print("    Feedback for the drafter (blank for none): ")
			feedback, _ := reader.ReadString('\n')
			feedback = strings.TrimSpace(feedback)
			if feedback == "" {
				feedback = "Human reviewer requested a revision without specific feedback."
			}
			return GateRevise, feedback
		case "M":
			return GateExit, ""
		}
		fmt.Println("    Invalid choice.")
	}
}

// humanGateDraft interposes before review. A disabled gate auto-forwards.
func (w *Workflow) humanGateDraft(_ context.Context, s graph.State) (graph.State, error) {
	return w.runGate(s, "draft", nodeReview)
}

// humanGateVerdict interposes before finalize.
func (w *Workflow) humanGateVerdict(_ context.Context, s graph.State) (graph.State, error) {
	return w.runGate(s, "verdict", nodeFinalize)
}

func (w *Workflow) runGate(s graph.State, stage, forward string) (graph.State, error) {
	enabled := w.Config.Workflows.GatesDraft
	if stage == "verdict" {
		enabled = w.Config.Workflows.GatesVerdict
	}
	if !enabled {
		logging.Workflow("%s gate disabled, auto-forwarding", stage)
		return graph.State{keyNextNode: forward, keyErrorMessage: ""}, nil
	}

	if s.GetString(keyDraft) == "" {
		return graph.State{
			keyNextNode:     graph.END,
			keyErrorMessage: "human gate reached with no draft to review",
		}, nil
	}

	decision, feedback := w.Gate(stage, s.GetString(keyDraft))
	switch decision {
	case GateSend:
		logging.Workflow("%s gate: send", stage)
		return graph.State{keyNextNode: forward, keyErrorMessage: ""}, nil
	case GateRevise:
		logging.Workflow("%s gate: revise", stage)
		return graph.State{
			keyNextNode:       nodeGenerateDraft,
			"review_feedback": feedback,
			keyErrorMessage:   "",
		}, nil
	default:
		logging.Workflow("%s gate: manual handling, exiting", stage)
		return graph.State{keyNextNode: graph.END, keyErrorMessage: ""}, nil
	}
}
