package main

import (
	"github.com/spf13/cobra"
)

// options are the flags shared by every command.
type options struct {
	env        string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "itemrec",
		Short: "Item-to-item recommendation service",
		Long: `itemrec recommends related items (datasets, exercises, papers) for a given item.

Each deployment indexes one corpus with dense and/or BM25 retrieval, fuses the
candidate lists and re-ranks them with a configurable scorer.

Example usage:
  itemrec serve                        # HTTP API for all deployments
  itemrec build mathe                  # ingest, embed, index and persist the snapshot
  itemrec precompute datasets          # publish top-N lists for every item
  itemrec evaluate datasets --truth-from-attributes --n 5,10`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.env, "env", "", "environment name, selects config/<env>.yaml (default: $ENV or local)")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "explicit config file path, overrides --env lookup")

	root.AddCommand(
		newServeCmd(opts),
		newBuildCmd(opts),
		newPrecomputeCmd(opts),
		newEvaluateCmd(opts),
		newVersionCmd(),
	)
	return root
}
