package cmd

import (
	"os"

	"github.com/opwatch/opwatch/cmd/config"
	"github.com/opwatch/opwatch/cmd/operations"
	"github.com/opwatch/opwatch/cmd/secrets"
	"github.com/opwatch/opwatch/cmd/serve"
	"github.com/opwatch/opwatch/cmd/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "opwatch",
	Short: "Track, time out and diagnose in-flight sdk operations",
}

func init() {
	// Add Subcommands
	rootCmd.AddCommand(serve.NewCmd(&config.Config{}, viper.New()))
	rootCmd.AddCommand(secrets.NewCmd(&config.SecretsConfig{}, viper.New()))
	rootCmd.AddCommand(operations.NewCmd())
	rootCmd.AddCommand(version.NewCmd())

	// Set default output
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
