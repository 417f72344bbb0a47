// Package cmd provides the evtxhound command-line interface.
package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evtxhound/bootstrap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	configFile string
	noColor    bool
	quiet      bool
	verbose    bool
)

// NewRootCmd creates the evtxhound command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "evtxhound",
		Short: "Hunt for threats in Windows event logs",
		Long: `evtxhound scans Windows event logs, converted to JSON lines, against a
corpus of YAML detection rules and reports findings and event statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newRulesCmd())

	return rootCmd
}

// newLogger builds the logger for the current verbosity flags.
func newLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	return bootstrap.InitLogger(bootstrap.LogLevel(verbose, quiet))
}
