package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vsaizz/dash-gen/internal/config"
	"github.com/vsaizz/dash-gen/internal/log"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a dash-gen project directory",
	Long:  "Scaffold a dash-gen project: dashgen.yaml plus the workdir and logs directories.",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite an existing dashgen.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	return initProject(dir, initFlags.force)
}

// initProject is the testable core of the init command. It writes dashgen.yaml
// and pre-creates the generated/ and generated/logs/ directories.
func initProject(dir string, force bool) error {
	cfgPath := filepath.Join(dir, "dashgen.yaml")
	if !force {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return fmt.Errorf("dashgen.yaml already exists — project appears to be already initialized; use --force to overwrite")
		}
	}

	if err := os.WriteFile(cfgPath, []byte(dashgenYAMLContent()), 0o644); err != nil {
		return fmt.Errorf("write dashgen.yaml: %w", err)
	}
	log.Success("created dashgen.yaml")

	logsDir := filepath.Join(dir, config.DefaultWorkdir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", logsDir, err)
	}
	log.Success(fmt.Sprintf("created %s", filepath.Join(config.DefaultWorkdir, "logs")))

	log.Info(`project initialized — set OPENAI_API_KEY, then run: dash-gen run "<requirement>"`)
	return nil
}

// dashgenYAMLContent returns the dashgen.yaml file content with inline YAML
// comments and every knob pre-filled with its default.
func dashgenYAMLContent() string {
	return fmt.Sprintf(`# dashgen.yaml — pipeline configuration
python_command: ""            # Interpreter for the sandbox; auto-detected (python3, python) when empty
max_iterations: %d             # Max repair iterations before the session fails
sandbox_timeout_seconds: %d   # Wall-clock budget per sandboxed execution
data_retry_budget: %d          # Fetch script validation attempts (must be < max_iterations)
workdir: %s            # Where candidate scripts, state, and logs are written
planner_model: %s    # Model for requirement planning
resolver_model: %s    # Model for data fetch script synthesis
coder_model: %s       # Model for dashboard code synthesis
repair_model: %s      # Model for repair and review passes
`,
		config.DefaultMaxIterations,
		config.DefaultSandboxTimeoutSeconds,
		config.DefaultDataRetryBudget,
		config.DefaultWorkdir,
		config.DefaultPlannerModel,
		config.DefaultResolverModel,
		config.DefaultCoderModel,
		config.DefaultRepairModel,
	)
}
