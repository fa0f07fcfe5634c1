package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/cascade-labs/cascade/internal/events"
	"github.com/cascade-labs/cascade/internal/history"
	"github.com/cascade-labs/cascade/internal/workflow"
)

var (
	runInput     string
	runInputFile string
	runQuiet     bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow",
	Long: `Run validates a workflow and executes it to completion, printing the
execution result as JSON. Tool nodes resolve against the built-in tool
set; pass run input as JSON with --input or --input-file.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Run input as a JSON object")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "Path to a JSON file with the run input")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress the result JSON, only set the exit code")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	w, err := workflow.LoadYAML(args[0])
	if err != nil {
		return err
	}

	input, err := parseRunInput()
	if err != nil {
		return err
	}

	tracer, shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("failed to shut down tracing", "error", err)
		}
	}()

	bus := events.NewBus()
	defer bus.Close()

	var recorder *history.Recorder
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder = history.NewRecorder(store, logger)
		recorder.Start(ctx, bus)
		defer func() {
			recorder.Stop()
			if lastResult == nil {
				return
			}
			if err := store.SaveRun(ctx, w, input, lastResult); err != nil {
				logger.Warn("failed to persist run", "error", err)
			}
		}()
	}

	opts := []workflow.ExecutorOption{
		workflow.WithLogger(logger),
		workflow.WithEventBus(bus),
		workflow.WithMaxParallel(cfg.Engine.MaxParallel),
		workflow.WithValidationOptions(validationOptions()),
		workflow.WithRunnerRegistry(workflow.DefaultRunnerRegistry(builtinTools(), nil)),
	}
	if d := cfg.Engine.DefaultNodeTimeout.Std(); d > 0 {
		opts = append(opts, workflow.WithDefaultNodeTimeout(d))
	}
	if tracer != nil {
		opts = append(opts, workflow.WithTracer(tracer))
	}

	executor := workflow.NewExecutor(opts...)

	result, execErr := executor.Execute(ctx, w, input)
	lastResult = result

	if !runQuiet && result != nil {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render result: %w", err)
		}
		cmd.Println(string(out))
	}

	if execErr != nil {
		return execErr
	}
	if result.Status == workflow.RunStatusFailed {
		return fmt.Errorf("run %s failed", result.RunID)
	}
	return nil
}

// lastResult holds the finished run for the deferred history save.
var lastResult *workflow.ExecutionResult

func parseRunInput() (map[string]any, error) {
	raw := runInput
	if runInputFile != "" {
		if raw != "" {
			return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
		}
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("run input must be a JSON object: %w", err)
	}
	return input, nil
}
