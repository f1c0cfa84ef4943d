package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <path-a> <path-b>",
	Short: "Show the JSON merge patch between two local definition documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := os.ReadFile(args[0])
		if err != nil {
			return validationError(fmt.Errorf("read %s: %w", args[0], err))
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			return validationError(fmt.Errorf("read %s: %w", args[1], err))
		}

		if !json.Valid(a) {
			return validationError(fmt.Errorf("%s is not valid JSON", args[0]))
		}
		if !json.Valid(b) {
			return validationError(fmt.Errorf("%s is not valid JSON", args[1]))
		}

		if jsonpatch.Equal(a, b) {
			fmt.Println("no differences")
			return nil
		}

		patch, err := jsonpatch.CreateMergePatch(a, b)
		if err != nil {
			return validationError(fmt.Errorf("diff %s %s: %w", args[0], args[1], err))
		}
		fmt.Println(string(patch))
		return nil
	},
}
