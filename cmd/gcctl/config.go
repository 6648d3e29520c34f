package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `The config command prints the configuration after applying the
configuration file and the GCKIT_MAX_HEAP and GCKIT_INTERVAL environment
variables, together with the heap options it resolves to.

Example:
  gcctl config --config gc.yaml
  GCKIT_MAX_HEAP=512MB gcctl config --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cfg.HeapOptions()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(struct {
				Config  any `json:"config"`
				Options any `json:"options"`
			}{cfg, opts})
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		printInfo("%s", out)
		printVerbose("# resolved: reserve=%s commit=%s interval=%s stack_words=%d\n",
			formatBytes(opts.Region.MaxBytes), formatBytes(opts.Region.InitialCommit),
			opts.Collector.Interval, opts.StackWords)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
