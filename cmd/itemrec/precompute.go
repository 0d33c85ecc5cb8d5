package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/usecase/precompute"
)

type precomputeOptions struct {
	out         string
	importFile  string
	n           int
	concurrency int
}

func newPrecomputeCmd(opts *options) *cobra.Command {
	popts := &precomputeOptions{}
	cmd := &cobra.Command{
		Use:   "precompute [deployments...]",
		Short: "Compute and publish top-N lists for every item",
		Long: `Recommend for every item of each deployment and publish the lists as
Redis sorted sets (score = rank), so that GET /recommend answers without running the pipeline.

With --out the lists are written as a JSON object instead. With --import an
existing JSON object of {item: [related items]} is published as is.

Examples:
  itemrec precompute                       # publish every deployment
  itemrec precompute mathe --n 5           # top-5 lists for one deployment
  itemrec precompute datasets --out recs.json
  itemrec precompute datasets --import recs.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrecompute(cmd.Context(), *opts, *popts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&popts.out, "out", "", "write lists to a JSON file (single deployment) instead of publishing")
	cmd.Flags().StringVar(&popts.importFile, "import", "", "publish lists from a JSON file (single deployment)")
	cmd.Flags().IntVar(&popts.n, "n", 0, "list length (default: deployment results)")
	cmd.Flags().IntVar(&popts.concurrency, "concurrency", precompute.DefaultConcurrency, "parallel pipeline runs")
	return cmd
}

func runPrecompute(ctx context.Context, opts options, popts precomputeOptions, args []string, out io.Writer) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	deps, err := a.selected(args)
	if err != nil {
		return err
	}
	if (popts.out != "" || popts.importFile != "") && len(deps) != 1 {
		return fmt.Errorf("--out and --import need exactly one deployment: %w", domain.ErrInvalidInput)
	}
	if popts.out == "" && a.lists == nil {
		return fmt.Errorf("publishing needs database.addrs, or use --out: %w", domain.ErrConfiguration)
	}

	if popts.importFile != "" {
		f, err := os.Open(filepath.Clean(popts.importFile))
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := a.lists.Import(ctx, deps[0].name, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: imported %d lists\n", deps[0].name, n)
		return nil
	}

	svc := a.lists
	if popts.out != "" {
		svc = precompute.New(nil, popts.concurrency, a.logger)
	}

	for _, dep := range deps {
		rep, err := a.computeLists(ctx, svc, dep, popts.n, popts.out == "")
		if err != nil {
			return fmt.Errorf("%s: %w", dep.name, err)
		}
		if popts.out != "" {
			if err := writeJSONFile(popts.out, rep.Lists); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d lists written to %s (%d failed)\n", dep.name, len(rep.Lists), popts.out, len(rep.Failed))
			continue
		}
		fmt.Fprintf(out, "%s: published %d lists (%d failed) in %s\n", dep.name, rep.Published, len(rep.Failed), rep.Took)
	}
	return nil
}

// computeLists warms the deployment and recommends for every catalog item.
func (a *app) computeLists(
	ctx context.Context, svc *precompute.Service, dep *deployment, n int, publish bool,
) (precompute.Report, error) {
	if err := a.warm(ctx, dep); err != nil {
		return precompute.Report{}, err
	}
	items, err := dep.catalog.Items(ctx)
	if err != nil {
		return precompute.Report{}, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID()
	}

	if n <= 0 {
		n = dep.cfg.Results
	}
	k := max(dep.cfg.PoolSize, n)

	if publish {
		return svc.Run(ctx, dep.pipeline, ids, k, n)
	}
	return svc.Compute(ctx, dep.pipeline, ids, k, n)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
