package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonderhq/coordinator/internal/rpcclients"
)

var runInputFile string

func init() {
	runCmd.Flags().StringVar(&runInputFile, "input", "", "path to a JSON file of input for the run (default: {})")
	testCmd.Flags().StringVar(&runInputFile, "input", "", "path to a JSON file of input for the run (default: {})")
}

var runCmd = &cobra.Command{
	Use:   "run <definition_ref>",
	Short: "Start a workflow run against the Coordinator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := startRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("started run %s\n", runID)
		return nil
	},
}

func loadInput() (map[string]interface{}, error) {
	if runInputFile == "" {
		return map[string]interface{}{}, nil
	}
	raw, err := os.ReadFile(runInputFile)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", runInputFile, err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("parse input file %s: %w", runInputFile, err)
	}
	return input, nil
}

// coordinatorLogger adapts cobra's silent-by-default error handling to
// internal/rpcclients.Logger without pulling in internal/logger's full
// slog setup for what is, here, just request-failure diagnostics.
type coordinatorLogger struct{}

func (coordinatorLogger) Info(msg string, keysAndValues ...interface{})  {}
func (coordinatorLogger) Error(msg string, keysAndValues ...interface{}) { fmt.Fprintf(os.Stderr, "%s %v\n", msg, keysAndValues) }
func (coordinatorLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (coordinatorLogger) Debug(msg string, keysAndValues ...interface{}) {}

func startRun(ctx context.Context, definitionRef string) (string, error) {
	input, err := loadInput()
	if err != nil {
		return "", validationError(err)
	}

	client := rpcclients.NewCoordinatorClient(coordinatorURL, requestTimeout, coordinatorLogger{})
	runID, err := client.StartWorkflow(ctx, definitionRef, input, nil, nil)
	if err != nil {
		return "", networkError(err)
	}
	return runID, nil
}
