package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var pullOutputFile string

func init() {
	pullCmd.Flags().StringVar(&pullOutputFile, "out", "", "write the definition to this path instead of stdout")
}

var pullCmd = &cobra.Command{
	Use:   "pull <definition_ref> <version>",
	Short: "Fetch a workflow definition document from the Resources store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		definitionRef := args[0]
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return validationError(fmt.Errorf("version must be an integer: %w", err))
		}

		doc, err := newResourceStore().Pull(cmd.Context(), definitionRef, version)
		if err != nil {
			return networkError(err)
		}

		if pullOutputFile == "" {
			fmt.Println(string(doc))
			return nil
		}
		if err := os.WriteFile(pullOutputFile, doc, 0o644); err != nil {
			return validationError(fmt.Errorf("write %s: %w", pullOutputFile, err))
		}
		fmt.Printf("wrote %s\n", pullOutputFile)
		return nil
	},
}
