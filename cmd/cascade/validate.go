package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascade-labs/cascade/internal/workflow"
)

var validateDepth string

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition",
	Long: `Validate checks a workflow definition for structural soundness: size
limits, edge integrity, cycles, and (at standard depth and above)
connectivity from the trigger nodes. Errors make the workflow unrunnable;
warnings do not.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateDepth, "depth", "standard",
		"Validation depth (minimal, standard, strict)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	w, err := workflow.LoadYAML(args[0])
	if err != nil {
		return err
	}

	opts := validationOptions()
	opts.Depth = workflow.ValidationDepth(validateDepth)

	result := workflow.NewDAGValidator().Validate(w, opts)

	for _, warn := range result.Warnings {
		cmd.PrintErrf("warning: %s: %s\n", warn.Code, warn.Message)
	}
	if !result.Valid {
		for _, verr := range result.Errors {
			cmd.PrintErrf("error: %s\n", verr)
		}
		return fmt.Errorf("workflow %q is invalid (%d error(s))", w.Name, len(result.Errors))
	}

	cmd.Printf("workflow %q is valid: %d node(s), %d edge(s), %d level(s)\n",
		w.Name, len(w.Nodes), len(w.Edges), len(result.Levels))
	return nil
}

// validationOptions builds validation options from the loaded config.
func validationOptions() workflow.ValidationOptions {
	return workflow.ValidationOptions{
		Depth:    workflow.ValidationDepth(cfg.Validation.Depth),
		MaxNodes: cfg.Validation.MaxNodes,
		MaxEdges: cfg.Validation.MaxEdges,
		Budget:   cfg.Validation.Budget.Std(),
	}
}
