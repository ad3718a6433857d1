// Command agentos runs the governance workflows: idea-to-issue filing,
// issue-to-LLD drafting, LLD-to-implementation-spec generation, and the
// TDD testing loop. Every run checkpoints after each node so an
// interrupted workflow resumes where it stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentos/internal/audit"
	"agentos/internal/config"
	"agentos/internal/graph"
	"agentos/internal/logging"
	"agentos/internal/provider"
	_ "agentos/internal/rotation"
	"agentos/internal/workflow/implspec"
	"agentos/internal/workflow/requirements"
	"agentos/internal/workflow/tdd"
)

// Exit codes: 0 success, 1 failure, 130 interrupted (128+SIGINT).
const exitInterrupted = 130

var (
	flagIssue         int
	flagBrief         string
	flagContext       []string
	flagAuto          bool
	flagMock          bool
	flagResume        bool
	flagMaxIterations int
	flagScaffoldOnly  bool
	flagSkipE2E       bool
	flagTail          int

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentos",
	Short: "agentos - governance workflow runner",
	Long: `agentos drives LLM-assisted governance workflows over a git repository:
drafting issues from idea briefs, LLDs from issues, implementation specs
from approved LLDs, and a TDD testing loop that scaffolds failing tests,
implements against them, and gates the result for completeness.

Every node execution is checkpointed; rerun with --resume to continue an
interrupted workflow from where it stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if err := logging.Initialize(config.Home()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if flagAuto {
			cfg.Workflows.GatesDraft = false
			cfg.Workflows.GatesVerdict = false
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Draft and file a tracker issue from an idea brief",
	Long: `Reads an idea brief (YAML front matter plus markdown body), drafts a
requirements issue with the drafter model, reviews it with the governance
reviewer, and files it on the tracker once approved.

Example:
  agentos issue --brief docs/ideas/active/rate-limiter.md --context docs/adr/0012.md`,
	RunE: runIssue,
}

var lldCmd = &cobra.Command{
	Use:   "lld",
	Short: "Draft an LLD from a tracker issue",
	Long: `Fetches the approved issue, analyzes the target codebase for
conventions, then iterates draft / mechanical validation / governance
review until the LLD is approved or the iteration cap is hit.

Example:
  agentos lld --issue 42`,
	RunE: runLLD,
}

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Generate an implementation spec from an approved LLD",
	RunE:  runSpec,
}

var testingCmd = &cobra.Command{
	Use:   "testing",
	Short: "Run the TDD testing workflow for an approved LLD",
	Long: `Scaffolds failing tests from the LLD's test plan, verifies the red
phase, generates the implementation, gates it for completeness, then
verifies green and runs end-to-end validation.`,
	RunE: runTesting,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent governance log entries",
	RunE:  runAudit,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagAuto, "auto", false, "disable interactive gates (auto-forward)")
	rootCmd.PersistentFlags().BoolVar(&flagMock, "mock", false, "use mock providers (no LLM calls)")
	rootCmd.PersistentFlags().BoolVar(&flagResume, "resume", false, "resume from the last checkpoint")
	rootCmd.PersistentFlags().IntVar(&flagMaxIterations, "max-iterations", 0, "override the workflow iteration cap")

	issueCmd.Flags().StringVar(&flagBrief, "brief", "", "path to the idea brief")
	issueCmd.Flags().StringSliceVar(&flagContext, "context", nil, "extra context file (repeatable)")

	lldCmd.Flags().IntVar(&flagIssue, "issue", 0, "tracker issue number")
	lldCmd.Flags().StringSliceVar(&flagContext, "context", nil, "extra context file (repeatable)")
	specCmd.Flags().IntVar(&flagIssue, "issue", 0, "tracker issue number")
	testingCmd.Flags().IntVar(&flagIssue, "issue", 0, "tracker issue number")
	testingCmd.Flags().BoolVar(&flagScaffoldOnly, "scaffold-only", false, "stop after scaffolding the failing tests")
	testingCmd.Flags().BoolVar(&flagSkipE2E, "skip-e2e", false, "skip end-to-end validation")
	auditCmd.Flags().IntVar(&flagTail, "tail", 10, "number of entries to show")

	rootCmd.AddCommand(issueCmd, lldCmd, specCmd, testingCmd, auditCmd)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, graph.ErrInterrupted) {
			fmt.Fprintln(os.Stderr, "Interrupted; rerun with --resume to continue.")
			os.Exit(exitInterrupted)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so the engine checkpoints and
// exits between nodes instead of dying mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupt received, finishing current node...")
		cancel()
	}()
	return ctx, cancel
}

// resolveProvider honors --mock, otherwise builds the configured spec.
func resolveProvider(spec, mockModel string) (provider.Provider, error) {
	if flagMock {
		return provider.NewMockProvider(mockModel, nil, 0), nil
	}
	return provider.Resolve(spec)
}

// threadID yields a stable ID for --resume and a fresh one otherwise.
func threadID(workflow string, issue int) string {
	if flagResume {
		return fmt.Sprintf("%s-%d", workflow, issue)
	}
	return fmt.Sprintf("%s-%d-%d", workflow, issue, time.Now().Unix())
}

// runWorkflow compiles g against the workflow's checkpoint store and
// runs it to completion.
func runWorkflow(g *graph.Graph, workflow string, issue int, initial graph.State) error {
	cp, err := graph.NewSQLiteCheckpointer(config.CheckpointDBPath(workflow))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer cp.Close()

	run, err := g.Compile(cp)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	final, err := run.Invoke(ctx, threadID(workflow, issue), initial)
	if err != nil {
		return err
	}
	if msg := final.GetString("error_message"); msg != "" {
		return errors.New(msg)
	}
	return nil
}

func repoRoot() (string, error) {
	root, err := audit.RepoRoot()
	if err != nil {
		return "", fmt.Errorf("agentos must run inside the target repository: %w", err)
	}
	return root, nil
}

func runIssue(cmd *cobra.Command, args []string) error {
	if flagBrief == "" {
		return errors.New("--brief is required")
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	drafter, err := resolveProvider(cfg.Providers.Drafter, "draft")
	if err != nil {
		return err
	}
	reviewer, err := resolveProvider(cfg.Providers.Reviewer, "review")
	if err != nil {
		return err
	}

	w := requirements.New(requirements.KindIssue, drafter, reviewer, root, cfg)
	initial := graph.State{"brief_path": flagBrief}
	if len(flagContext) > 0 {
		initial["context_files"] = flagContext
	}
	if flagMaxIterations > 0 {
		initial["max_iterations"] = flagMaxIterations
	}
	return runWorkflow(w.BuildGraph(), "issue", 0, initial)
}

func runLLD(cmd *cobra.Command, args []string) error {
	if flagIssue == 0 {
		return errors.New("--issue is required")
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	drafter, err := resolveProvider(cfg.Providers.Drafter, "draft")
	if err != nil {
		return err
	}
	reviewer, err := resolveProvider(cfg.Providers.Reviewer, "review")
	if err != nil {
		return err
	}

	w := requirements.New(requirements.KindLLD, drafter, reviewer, root, cfg)
	initial := graph.State{"issue_number": flagIssue}
	if len(flagContext) > 0 {
		initial["context_files"] = flagContext
	}
	if flagMaxIterations > 0 {
		initial["max_iterations"] = flagMaxIterations
	}
	return runWorkflow(w.BuildGraph(), "lld", flagIssue, initial)
}

func runSpec(cmd *cobra.Command, args []string) error {
	if flagIssue == 0 {
		return errors.New("--issue is required")
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	drafter, err := resolveProvider(cfg.Providers.Drafter, "draft")
	if err != nil {
		return err
	}

	w := implspec.New(drafter, root, cfg)
	return runWorkflow(w.BuildGraph(), "spec", flagIssue, graph.State{"issue_number": flagIssue})
}

func runTesting(cmd *cobra.Command, args []string) error {
	if flagIssue == 0 {
		return errors.New("--issue is required")
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	implementer, err := resolveProvider(cfg.Providers.Drafter, "draft")
	if err != nil {
		return err
	}

	w := tdd.New(implementer, root, cfg)
	initial := graph.State{
		"issue_number":  flagIssue,
		"scaffold_only": flagScaffoldOnly,
		"skip_e2e":      flagSkipE2E,
	}
	if flagMaxIterations > 0 {
		initial["max_iterations"] = flagMaxIterations
	}
	return runWorkflow(w.BuildGraph(), "testing", flagIssue, initial)
}

func runAudit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	log := audit.NewGovernanceLog(audit.GovernanceLogPath(root))
	entries, err := log.Tail(flagTail)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No governance entries.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-16s  issue=%-5d verdict=%-8s model=%s\n",
			e.Timestamp, e.Node, e.IssueID, e.Verdict, e.Model)
	}
	return nil
}
