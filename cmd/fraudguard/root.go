package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fraudguard",
	Short: "FraudGuard - rule-driven fraud screening",
	Long: `FraudGuard screens transactions against fraud rules written in a small
boolean language, for example:

  amount > 1000 AND (currency != 'USD' OR user.age < 21)

The serve command runs the HTTP API. The other commands work on rules
locally without a database.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML, JSON or TOML)")
}
