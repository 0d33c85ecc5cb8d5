package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/ingest"
	"github.com/kailas-cloud/itemrec/internal/usecase/evaluation"
	"github.com/kailas-cloud/itemrec/internal/usecase/precompute"
)

type evaluateOptions struct {
	truthFile       string
	fromAttributes  bool
	predictionsFile string
	cutoffs         []int
	concurrency     int
}

func newEvaluateCmd(opts *options) *cobra.Command {
	eopts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate [deployment]",
		Short: "Measure Recall@n and nDCG@n against ground truth",
		Long: `Score recommendation lists against ground truth.

Predictions come from --predictions (a JSON object {item: [ranked ids]}) or are
computed by running the deployment pipeline for every item. Ground truth comes
from --truth (same JSON shape) or, with --truth-from-attributes, from items
sharing an attribute value in the corpus (DataFinder tasks).

Examples:
  itemrec evaluate datasets --truth-from-attributes --n 5,10
  itemrec evaluate --predictions recs.json --truth truth.json
  itemrec evaluate mathe --truth mathe_truth.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), *opts, *eopts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&eopts.truthFile, "truth", "", "ground truth JSON file")
	cmd.Flags().BoolVar(&eopts.fromAttributes, "truth-from-attributes", false, "derive ground truth from shared corpus attributes")
	cmd.Flags().StringVar(&eopts.predictionsFile, "predictions", "", "predictions JSON file (default: run the pipeline)")
	cmd.Flags().IntSliceVar(&eopts.cutoffs, "n", []int{5, 10}, "cutoffs to report")
	cmd.Flags().IntVar(&eopts.concurrency, "concurrency", precompute.DefaultConcurrency, "parallel pipeline runs")
	return cmd
}

func runEvaluate(ctx context.Context, opts options, eopts evaluateOptions, args []string, out io.Writer) error {
	if eopts.truthFile == "" && !eopts.fromAttributes {
		return fmt.Errorf("either --truth or --truth-from-attributes is required: %w", domain.ErrInvalidInput)
	}
	if len(eopts.cutoffs) == 0 {
		return fmt.Errorf("at least one cutoff is required: %w", domain.ErrInvalidInput)
	}
	needsApp := eopts.predictionsFile == "" || eopts.fromAttributes
	if needsApp && len(args) == 0 {
		return fmt.Errorf("a deployment is required unless both --truth and --predictions are files: %w",
			domain.ErrInvalidInput)
	}

	var (
		truth evaluation.GroundTruth
		preds evaluation.Predictions
		err   error
	)
	if eopts.truthFile != "" {
		if truth, err = readFile(eopts.truthFile, evaluation.ReadGroundTruth); err != nil {
			return err
		}
	}
	if eopts.predictionsFile != "" {
		if preds, err = readFile(eopts.predictionsFile, evaluation.ReadPredictions); err != nil {
			return err
		}
	}

	if needsApp {
		a, err := newApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		dep, err := a.deployment(args[0])
		if err != nil {
			return err
		}

		if eopts.fromAttributes {
			corpus, err := ingest.Load(ctx, dep.cfg.Corpus.Format, dep.cfg.Corpus.Path, dep.cfg.Domain)
			if err != nil {
				return err
			}
			truth = evaluation.FromAttributes(corpus.Attributes)
		}
		if preds == nil {
			svc := precompute.New(nil, eopts.concurrency, a.logger)
			rep, err := a.computeLists(ctx, svc, dep, slices.Max(eopts.cutoffs), false)
			if err != nil {
				return err
			}
			preds = rep.Lists
		}
	}

	results, err := evaluation.Evaluate(preds, truth, eopts.cutoffs...)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "n\trecall\tndcg")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\n", r.N, r.Recall, r.NDCG)
	}
	return tw.Flush()
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return read(f)
}
