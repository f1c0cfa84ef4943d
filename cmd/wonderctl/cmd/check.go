package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Quick syntax check of a workflow definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0], false)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Fully validate a workflow definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args[0], true)
	},
}

// runValidate shells out to the pluggable Validator for both check and
// validate. Both make the same Validate call and fail the same way; the
// only difference is that validate (verbose) also prints a line when the
// file is valid.
func runValidate(path string, verbose bool) error {
	result, err := newValidator().Validate(path)
	if err != nil {
		return validationError(fmt.Errorf("validate %s: %w", path, err))
	}
	if !result.OK() {
		for _, e := range result.Errors {
			fmt.Printf("error: %s\n", e)
		}
		return validationError(fmt.Errorf("%s failed validation with %d error(s)", path, len(result.Errors)))
	}
	if verbose {
		fmt.Printf("%s is valid\n", path)
	}
	return nil
}
