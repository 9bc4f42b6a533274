package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomloop/atomloop/internal/config"
	"github.com/atomloop/atomloop/internal/driver"
	"github.com/atomloop/atomloop/internal/embedded"
	"github.com/atomloop/atomloop/internal/historystore"
	"github.com/atomloop/atomloop/internal/paths"
	"github.com/atomloop/atomloop/internal/prompt"
	"github.com/atomloop/atomloop/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	appPaths *paths.Paths

	taskText      string
	toolName      string
	ephemeral     bool
	maxIterations int
	useTUI        bool
)

func main() {
	var err error
	appPaths, err = paths.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "atomloop",
		Short: "Drive an external coding agent through a retrying iteration loop",
		Long: `atomloop repeatedly invokes an external agent CLI against a single task,
continuing its conversation directory across iterations, until the agent
emits a completion sentinel, a transient failure is retried away, or the
iteration budget runs out.`,
		PersistentPreRunE: ensureInitialized,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task to completion",
		RunE:  runTask,
	}
	runCmd.Flags().StringVarP(&taskText, "task", "t", "", "Task description (reads the project prompt file if omitted)")
	runCmd.Flags().StringVar(&toolName, "toolname", "", "Specialized prompt to compose on top of the base prompt")
	runCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Use a fresh, disposable conversation directory")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the configured iteration budget")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Show a live progress view instead of plain output")

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List past runs recorded in the optional history store",
		RunE:  listJobs,
	}

	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "Print the composed system prompt that would be used for a run",
		RunE:  printPrompt,
	}
	promptsCmd.Flags().StringVar(&toolName, "toolname", "", "Specialized prompt to compose on top of the base prompt")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize .atom in the current project",
		RunE:  initProject,
	}

	rootCmd.AddCommand(runCmd, jobsCmd, promptsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ensureInitialized(cmd *cobra.Command, args []string) error {
	if err := appPaths.EnsureUserDir(); err != nil {
		return err
	}
	if !appPaths.IsInitialized() {
		fmt.Println("First run - setting up ~/.atom...")
		if err := embedded.Install(appPaths.UserDir); err != nil {
			return fmt.Errorf("failed to install defaults: %w", err)
		}
		fmt.Println("Ready.")
	}
	return nil
}

func buildResolver(cfg config.RuntimeConfig) *prompt.Resolver {
	return prompt.NewResolver(appPaths.PromptSearchDirs(), cfg.MaxIterations)
}

func loadRuntimeConfig() config.RuntimeConfig {
	cfg, err := config.Load(appPaths.ProjectConfig)
	if err == nil {
		return cfg
	}
	cfg, err = config.Load(appPaths.UserConfig)
	if err == nil {
		return cfg
	}
	return config.Default()
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg := loadRuntimeConfig()
	if maxIterations > 0 {
		cfg.MaxIterations = maxIterations
	}

	resolver := buildResolver(cfg)
	systemPrompt, err := resolver.Resolve(toolName)
	if err != nil {
		return fmt.Errorf("resolving prompt: %w", err)
	}

	text := taskText
	if text == "" {
		data, err := os.ReadFile(filepath.Join(appPaths.WorkDir, driver.PromptFileName))
		if err != nil {
			return fmt.Errorf("no --task given and no existing prompt file: %w", err)
		}
		text = string(data)
	}

	runtimeConfig := driver.RuntimeConfig{
		SystemPrompt:  systemPrompt,
		MaxIterations: cfg.MaxIterations,
		ExitSignal:    cfg.ExitSignal,
		Verbose:       cfg.VerboseMode(),
		Cleanup:       cfg.Cleanup,
		RetryPolicy:   cfg.Retry.RetryPolicy(),
		AgentPath:     cfg.AgentPath,
	}
	task := driver.Task{TaskText: text, ConversationDir: appPaths.WorkDir, Ephemeral: ephemeral}
	startedAt := time.Now()

	var result driver.Result
	var cancelled bool
	if useTUI {
		result, err = runWithTUI(runtimeConfig, task)
		if err != nil {
			return err
		}
		cancelled = result.Reason == driver.ReasonCancelled
	} else {
		result, cancelled, err = runHeadless(runtimeConfig, task, cfg.MaxIterations)
		if err != nil {
			return err
		}
	}

	if err := recordHistory(text, result, startedAt); err != nil {
		fmt.Fprintf(os.Stderr, "atomloop: warning: failed to record history: %v\n", err)
	}

	if result.Success {
		fmt.Printf("\natomloop: done after %d iteration(s)\n", result.Iterations)
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "\natomloop: failed: reason=%s detail=%s\n", result.Reason, result.ErrorDetail)
	if cancelled || result.Reason == driver.ReasonCancelled {
		os.Exit(130)
	}
	os.Exit(1)
	return nil
}

// runHeadless drives the task with plain Fprintf progress lines — the
// default, matching the teacher's non-TUI `main.go` entry point.
func runHeadless(config driver.RuntimeConfig, task driver.Task, maxIterations int) (driver.Result, bool, error) {
	d, err := driver.New(config)
	if err != nil {
		return driver.Result{}, false, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cancelled := false
	cancelToken := cancelFuncToken(func() bool {
		select {
		case <-ctx.Done():
			cancelled = true
			return true
		default:
			return false
		}
	})

	fmt.Printf("atomloop: starting run (max_iterations=%d)\n", maxIterations)
	result := d.Run(ctx, task, cancelToken)
	return result, cancelled, nil
}

// runWithTUI drives the task behind the optional live-progress view
// (internal/tui), which observes the driver's per-iteration events.
func runWithTUI(config driver.RuntimeConfig, task driver.Task) (driver.Result, error) {
	model := tui.New(config, task)
	program := tea.NewProgram(&model)
	model.SetProgram(program)

	finalModel, err := program.Run()
	if err != nil {
		return driver.Result{}, fmt.Errorf("running TUI: %w", err)
	}

	m, ok := finalModel.(tui.Model)
	if !ok {
		return driver.Result{}, fmt.Errorf("unexpected TUI model type %T", finalModel)
	}
	return m.Result()
}

// cancelFuncToken adapts a plain function to driver.CancelToken.
type cancelFuncToken func() bool

func (f cancelFuncToken) Cancelled() bool { return f() }

func recordHistory(taskText string, result driver.Result, startedAt time.Time) error {
	dsn := filepath.Join(appPaths.UserDir, "history.db")
	store, err := historystore.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveResult(result.RunID, taskText, result, startedAt)
}

func printPrompt(cmd *cobra.Command, args []string) error {
	cfg := loadRuntimeConfig()
	resolver := buildResolver(cfg)
	systemPrompt, err := resolver.Resolve(toolName)
	if err != nil {
		return err
	}
	fmt.Println(systemPrompt)
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	dsn := filepath.Join(appPaths.UserDir, "history.db")
	store, err := historystore.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		status := "failed"
		if run.Success {
			status = "success"
		}
		fmt.Printf("  %s  %-8s  %s\n", run.ID, status, run.Task)
		fmt.Printf("    iterations=%d duration=%.1fs started=%s\n", run.Iterations, run.DurationSeconds, run.StartedAt.Format("Jan 02 15:04"))
	}
	return nil
}

func initProject(cmd *cobra.Command, args []string) error {
	if appPaths.HasProjectConfig() {
		fmt.Println(".atom already exists in this directory")
		return nil
	}

	dirs := []string{appPaths.ProjectDir, appPaths.ProjectPrompts}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	configContent := `# Project-specific atomloop configuration
# max_iterations = 25
# exit_signal = "EXIT_LOOP_NOW"
# cleanup = false
# agent_path = "claude"
`
	if err := os.WriteFile(appPaths.ProjectConfig, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", appPaths.ProjectConfig, err)
	}

	fmt.Println("Initialized .atom in this project")
	return nil
}
