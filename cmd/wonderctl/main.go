package main

import (
	"fmt"
	"os"

	"github.com/wonderhq/coordinator/cmd/wonderctl/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wonderctl:", err)
	}
	os.Exit(cmd.ExitCode(err))
}
