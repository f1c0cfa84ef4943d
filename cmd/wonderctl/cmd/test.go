package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <definition_ref>",
	Short: "Start a run against a definition; with --file, validate that local file first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// test composes validate + run rather than reimplementing either:
		// when --file is given and that file fails validation, the run is
		// never started. Without --file nothing is validated.
		if testDefinitionFile != "" {
			if err := runValidate(testDefinitionFile, true); err != nil {
				return err
			}
		}

		runID, err := startRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("test run %s started for %s\n", runID, args[0])
		return nil
	},
}

var testDefinitionFile string

func init() {
	testCmd.Flags().StringVar(&testDefinitionFile, "file", "", "local definition file to validate before starting the run")
}
