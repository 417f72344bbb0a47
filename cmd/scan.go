package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"evtxhound/bootstrap"
	"evtxhound/config"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// scanFlags holds the flags of one scan invocation.
type scanFlags struct {
	dir           string
	file          string
	statistics    bool
	logonSummary  bool
	pivotKeywords bool
}

// newScanCmd creates the 'scan' subcommand
func newScanCmd() *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan event log containers for threats",
		Long: `Scan event log containers against the rule corpus.

Containers are JSON-lines files, optionally gzip-compressed. Directories are
searched recursively. Findings are written to --output in --format; a summary
with findings per level and the most frequent event IDs is printed at the end.`,
		Example: `  evtxhound scan -d ./logs -o findings.jsonl
  evtxhound scan -f Security.jsonl -m high
  evtxhound scan -d ./logs --statistics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.dir, "dir", "d", "", "Directory of log containers to scan")
	f.StringVarP(&flags.file, "file", "f", "", "Single log container to scan")
	f.String("rules", "", "Rule file or directory")
	f.StringP("min-level", "m", "", "Minimum rule level to load (informational, low, medium, high, critical)")
	f.StringP("output", "o", "", "Output path, - for stdout")
	f.String("format", "", "Output format (jsonl, msgpack, sqlite)")
	f.BoolP("quiet-errors", "Q", false, "Do not write the error log file")
	f.BoolVarP(&flags.statistics, "statistics", "s", false, "Print event ID statistics only, without detection")
	f.BoolVarP(&flags.logonSummary, "logon-summary", "L", false, "Print a logon summary only, without detection")
	f.BoolVar(&flags.pivotKeywords, "pivot-keywords", false, "Collect pivot keywords from findings")

	return cmd
}

// scanBindings maps config keys to the scan flags that override them.
var scanBindings = map[string]string{
	"rules.dir":           "rules",
	"rules.min_level":     "min-level",
	"output.path":         "output",
	"output.format":       "format",
	"output.quiet_errors": "quiet-errors",
}

// bindFlags binds flags to config keys. Binding happens when the command
// runs, because subcommands share config keys.
func bindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for key, name := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func scanInputs(flags scanFlags, args []string) ([]string, error) {
	var inputs []string
	if flags.dir != "" {
		inputs = append(inputs, flags.dir)
	}
	if flags.file != "" {
		inputs = append(inputs, flags.file)
	}
	inputs = append(inputs, args...)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no input given: use --dir, --file or a path argument")
	}
	return inputs, nil
}

func runScan(cmd *cobra.Command, flags scanFlags, args []string) error {
	inputs, err := scanInputs(flags, args)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, scanBindings); err != nil {
		return err
	}

	logger, sugar, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := bootstrap.InitConfig(configFile, sugar)
	if err != nil {
		return err
	}
	if flags.pivotKeywords && cfg.Pivot.KeywordsFile == "" {
		cfg.Pivot.KeywordsFile = filepath.Join(cfg.ConfigDir, config.PivotKeywordsFile)
	}

	summaryOut := cmd.OutOrStdout()
	if cfg.Output.Path == "" || cfg.Output.Path == "-" {
		summaryOut = cmd.ErrOrStderr()
	}

	var s *spinner.Spinner
	opts := bootstrap.ScanOptions{StatisticsOnly: flags.statistics || flags.logonSummary}
	if !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		opts.OnContainer = func(path string, index, total int) {
			s.Lock()
			s.Suffix = fmt.Sprintf(" [%d/%d] %s", index+1, total, filepath.Base(path))
			s.Unlock()
		}
	}

	app, err := bootstrap.NewApp(cfg, opts, sugar)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s != nil {
		s.Start()
	}
	result, err := app.Run(ctx, inputs)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	mode := summaryFull
	switch {
	case flags.logonSummary:
		mode = summaryLogon
	case flags.statistics:
		mode = summaryStatistics
	}
	renderScanSummary(summaryOut, result, mode)
	renderErrorHint(summaryOut, app.Errors.Len(), cfg.Output.QuietErrors)
	return nil
}

func renderErrorHint(w io.Writer, n int, quietErrors bool) {
	if n == 0 {
		return
	}
	if quietErrors {
		warningColor.Fprintf(w, "%d recoverable errors occurred\n", n)
		return
	}
	warningColor.Fprintf(w, "%d recoverable errors occurred, see the error log for details\n", n)
}
