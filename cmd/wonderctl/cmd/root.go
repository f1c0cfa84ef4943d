// Package cmd implements wonderctl's command surface: check, validate,
// run, test, deploy, pull, diff (spec.md §6's "workflow-authoring command,
// out-of-core but stable"). Grounded on cloudshipai-station's cmd/main
// package — a package-level rootCmd, cobra.OnInitialize for viper setup,
// one file per (sub)command.
package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wonderhq/coordinator/cmd/wonderctl/resourcestore"
	"github.com/wonderhq/coordinator/cmd/wonderctl/validator"
)

var (
	cfgFile         string
	coordinatorURL  string
	resourcesURL    string
	requestTimeout  time.Duration

	rootCmd = &cobra.Command{
		Use:           "wonderctl",
		Short:         "wonderctl manages Wonder workflow definitions and runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.wonderctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator-url", "http://localhost:8080", "Coordinator base URL")
	rootCmd.PersistentFlags().StringVar(&resourcesURL, "resources-url", "http://localhost:8081", "Resources store base URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "request timeout")

	_ = viper.BindPFlag("coordinator_url", rootCmd.PersistentFlags().Lookup("coordinator-url"))
	_ = viper.BindPFlag("resources_url", rootCmd.PersistentFlags().Lookup("resources-url"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(diffCmd)
}

func initConfig() {
	viper.SetEnvPrefix("WONDERCTL")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		_ = viper.ReadInConfig()
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".wonderctl")
		viper.SetConfigType("yaml")
		_ = viper.ReadInConfig()
	}

	if viper.IsSet("coordinator_url") {
		coordinatorURL = viper.GetString("coordinator_url")
	}
	if viper.IsSet("resources_url") {
		resourcesURL = viper.GetString("resources_url")
	}
}

func newValidator() validator.Validator {
	return validator.Stub{}
}

func newResourceStore() resourcestore.Store {
	return resourcestore.NewHTTPStore(resourcesURL, requestTimeout)
}

// Execute runs the command tree and returns the error RunE produced, so
// main can map it to a process exit code with ExitCode.
func Execute() error {
	return rootCmd.Execute()
}
