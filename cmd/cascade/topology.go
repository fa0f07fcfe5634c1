package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/cascade-labs/cascade/internal/workflow"
)

var topologyCmd = &cobra.Command{
	Use:   "topology <workflow.yaml>",
	Short: "Show the execution order of a workflow",
	Long: `Topology prints the level-based execution order of a workflow: nodes
in the same level have no dependencies between them and run concurrently;
each level waits for the previous one to finish.`,
	Args: cobra.ExactArgs(1),
	RunE: runTopology,
}

func runTopology(cmd *cobra.Command, args []string) error {
	w, err := workflow.LoadYAML(args[0])
	if err != nil {
		return err
	}

	result := workflow.NewDAGValidator().Validate(w, validationOptions())
	if !result.Valid {
		return result.Errors[0]
	}

	cmd.Printf("workflow %q: %d level(s)\n", w.Name, len(result.Levels))
	for i, level := range result.Levels {
		cmd.Printf("  level %d: %s\n", i, strings.Join(level, ", "))
	}
	if len(result.CriticalPath) > 0 {
		cmd.Printf("critical path: %s\n", strings.Join(result.CriticalPath, " -> "))
	}
	return nil
}
