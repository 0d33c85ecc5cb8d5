package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newBuildCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "build [deployments...]",
		Short: "Build and persist index snapshots",
		Long: `Ingest the corpus of each deployment, embed it, build the dense and
lexical indexes and write the snapshot artifact. Deployments with enrich.model
first ask the language model for the abstracts missing from enrich.output.

If no deployments are specified, builds all of them.

Examples:
  itemrec build                # build every deployment
  itemrec build mathe          # build one deployment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), *opts, args, cmd.OutOrStdout())
		},
	}
}

func runBuild(ctx context.Context, opts options, args []string, out io.Writer) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	deps, err := a.selected(args)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if err := a.ingest(ctx, dep, true); err != nil {
			return fmt.Errorf("%s: %w", dep.name, err)
		}
		snap, err := dep.indexer.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", dep.name, err)
		}
		m := snap.Manifest()
		enc := "none"
		if m.Encoder.Name != "" {
			enc = m.Encoder.String()
		}
		fmt.Fprintf(out, "%s: snapshot %s, %d items, encoder %s\n", dep.name, m.ID, m.ItemCount, enc)
	}
	return nil
}
