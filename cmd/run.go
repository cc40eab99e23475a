package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vsaizz/dash-gen/internal/agent"
	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/handlers"
	"github.com/vsaizz/dash-gen/internal/llm"
	"github.com/vsaizz/dash-gen/internal/log"
	"github.com/vsaizz/dash-gen/internal/loop"
	"github.com/vsaizz/dash-gen/internal/sandbox"
	"github.com/vsaizz/dash-gen/internal/types"
)

// runFlags holds CLI flag values that override dashgen.yaml config settings.
// Only flags explicitly changed by the user are applied (checked via
// cmd.Flags().Changed).
var runFlags struct {
	maxIterations  int
	sandboxTimeout int
	dataRetries    int
	python         string
	workdir        string
	model          string
	review         bool
}

var runCmd = &cobra.Command{
	Use:   "run <requirement>",
	Short: "Run the generation pipeline for a dashboard requirement",
	Long: "Run the full generation pipeline: plan the requirement into capabilities,\n" +
		"resolve external data, synthesize the dashboard script, and execute-repair\n" +
		"it in the sandbox until it runs clean or the repair budget is spent.",
	Args: cobra.MinimumNArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().IntVar(&runFlags.maxIterations, "max-iterations", 0, "override max_iterations from dashgen.yaml")
	runCmd.Flags().IntVar(&runFlags.sandboxTimeout, "sandbox-timeout", 0, "override sandbox_timeout_seconds from dashgen.yaml")
	runCmd.Flags().IntVar(&runFlags.dataRetries, "data-retries", 0, "override data_retry_budget from dashgen.yaml")
	runCmd.Flags().StringVar(&runFlags.python, "python", "", "override python_command from dashgen.yaml")
	runCmd.Flags().StringVar(&runFlags.workdir, "workdir", "", "override workdir from dashgen.yaml")
	runCmd.Flags().StringVar(&runFlags.model, "model", "", "use one model for every role, overriding the per-role settings")
	runCmd.Flags().BoolVar(&runFlags.review, "review", false, "run a hardening review pass on a clean script before handoff")
}

// runPipeline implements the "run" subcommand.
//
// Pre-loop sequence:
//  1. Load config from dashgen.yaml; apply CLI flag overrides; validate.
//  2. Detect a python interpreter when neither config nor flag supplied one.
//  3. Build the OpenAI client (fails fast when OPENAI_API_KEY is unset).
//  4. Wire the agents, the sandbox, and the loop controller.
//  5. Install a SIGINT/SIGTERM handler so Ctrl-C cancels the session cleanly.
//
// Terminal outcome dispatch:
//   - SUCCEEDED         -> success handoff, exit 0.
//   - FAILED_EXHAUSTED  -> failure postmortem, exit 1.
//   - CANCELLED         -> exit 1 with the cancellation error.
//   - pre-loop faults   -> exit 1 with the stage error.
func runPipeline(cmd *cobra.Command, args []string) error {
	requirement := strings.TrimSpace(strings.Join(args, " "))

	projectRoot, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.LoadConfig(filepath.Join(projectRoot, "dashgen.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply CLI flag overrides — only when the user explicitly set the flag.
	if cmd.Flags().Changed("max-iterations") {
		cfg.MaxIterations = runFlags.maxIterations
	}
	if cmd.Flags().Changed("sandbox-timeout") {
		cfg.SandboxTimeoutSeconds = runFlags.sandboxTimeout
	}
	if cmd.Flags().Changed("data-retries") {
		cfg.DataRetryBudget = runFlags.dataRetries
	}
	if cmd.Flags().Changed("python") {
		cfg.PythonCommand = runFlags.python
	}
	if cmd.Flags().Changed("workdir") {
		cfg.Workdir = runFlags.workdir
	}
	if cmd.Flags().Changed("model") {
		cfg.PlannerModel = runFlags.model
		cfg.ResolverModel = runFlags.model
		cfg.CoderModel = runFlags.model
		cfg.RepairModel = runFlags.model
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.PythonCommand == "" {
		python, err := config.DetectPythonCommand()
		if err != nil {
			return err
		}
		cfg.PythonCommand = python
		log.Info(fmt.Sprintf("using %s from PATH", python))
	}

	client, err := llm.NewOpenAIClient(llm.ModelTable{
		llm.RolePlanner:  cfg.PlannerModel,
		llm.RoleResolver: cfg.ResolverModel,
		llm.RoleCoder:    cfg.CoderModel,
		llm.RoleRepairer: cfg.RepairModel,
	})
	if err != nil {
		return err
	}

	runner := sandbox.NewRunner(cfg.PythonCommand, cfg.Workdir, cfg.SandboxTimeout())
	ctrl := loop.NewController(cfg, loop.Deps{
		Planner:  agent.NewPlanner(client),
		Resolver: agent.NewResolver(client, runner, cfg.DataRetryBudget),
		Coder:    agent.NewCoder(client),
		Repairer: agent.NewRepairer(client),
		Sandbox:  runner,
	}, runFlags.review)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := ctrl.Run(ctx, requirement)
	if err != nil {
		if result != nil && result.Status == types.StatusCancelled {
			return fmt.Errorf("session cancelled: %w", err)
		}
		return err
	}

	switch result.Status {
	case types.StatusSucceeded:
		return handlers.HandleSucceeded(result, cfg)
	case types.StatusFailedExhausted:
		return handlers.HandleExhausted(result, cfg, ctrl.LogsDir())
	default:
		return fmt.Errorf("session ended in unexpected status %s", result.Status)
	}
}
