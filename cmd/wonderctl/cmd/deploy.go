package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <definition_ref> <path>",
	Short: "Validate and publish a workflow definition file to the Resources store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		definitionRef, path := args[0], args[1]

		if err := runValidate(path, false); err != nil {
			return err
		}

		doc, err := os.ReadFile(path)
		if err != nil {
			return validationError(fmt.Errorf("read %s: %w", path, err))
		}

		version, err := newResourceStore().Deploy(cmd.Context(), definitionRef, doc)
		if err != nil {
			return networkError(err)
		}
		fmt.Printf("deployed %s as version %d\n", definitionRef, version)
		return nil
	},
}
