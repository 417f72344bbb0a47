package cmd

import (
	"fmt"

	"evtxhound/bootstrap"
	"evtxhound/core"

	"github.com/spf13/cobra"
)

// newRulesCmd creates the 'rules' subcommand
func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the loaded rule corpus",
		Long:  "Load and compile the rule corpus, then list every rule with its level and status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, rulesBindings); err != nil {
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

			errs := core.NewErrorLog()
			corpus, summary, err := bootstrap.LoadCorpus(cfg, errs, sugar)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderRulesTable(out, corpus)
			renderRuleSummary(out, summary)
			for _, e := range errs.Entries() {
				errorColor.Fprintf(out, "  %s: %s\n", e.Source, e.Message)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("rules", "", "Rule file or directory")
	f.StringP("min-level", "m", "", "Minimum rule level to load")
	return cmd
}

var rulesBindings = map[string]string{
	"rules.dir":       "rules",
	"rules.min_level": "min-level",
}
