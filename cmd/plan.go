package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"pgmerge/core/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// mergeFlags are the flags shared by plan and merge.
type mergeFlags struct {
	session         sessionFlags
	input           inputFlags
	strategy        string
	lookup          string
	continueOnError bool
}

func (f *mergeFlags) register(cmd *cobra.Command) {
	f.session.register(cmd)
	f.input.register(cmd)
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Application strategy: bulk or incremental (default: merge.strategy)")
	cmd.Flags().StringVar(&f.lookup, "lookup", "", "Identity lookup: memory or cursor (default: merge.lookup)")
	cmd.Flags().BoolVar(&f.continueOnError, "continue-on-error", false, "Skip failing rows and tables instead of aborting")
}

// options merges the command line overrides into the configured options.
func (f *mergeFlags) options(rt *runtime) (reconcile.Options, error) {
	mc := rt.cfg.Merge
	if f.strategy != "" {
		mc.Strategy = f.strategy
	}
	if f.lookup != "" {
		mc.Lookup = f.lookup
	}
	if f.continueOnError {
		mc.ContinueOnError = true
	}
	return mc.Options()
}

var (
	planFlags mergeFlags
	planJSON  bool
)

// planCmd computes the changes a merge would make without applying them.
var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Show the changes a merge would make (dry run)",
	Long: `Reads <table>.csv inputs from a directory (or the storage bucket with
--bucket), matches them against the database and reports the inserts, updates
and deletes a merge would apply. Nothing is written.

Examples:
  # Plan the CSV files in ./export
  pgmerge plan ./export

  # Print the full plan as JSON
  pgmerge plan ./export --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planFlags.register(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the full plan as JSON")
	RootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(planFlags.session)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts, err := planFlags.options(rt)
	if err != nil {
		return err
	}
	plan, _, err := buildPlan(ctx, rt, planFlags.input, dirArg(args), opts)
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	printPlanReport(rt.logger, plan)
	return nil
}

// buildPlan discovers the inputs, builds the graph and plans the run.
func buildPlan(ctx context.Context, rt *runtime, flags inputFlags, dir string, opts reconcile.Options) (*reconcile.ImportPlan, *reconcile.Spec, error) {
	inputs, err := rt.inputs(ctx, flags, dir)
	if err != nil {
		return nil, nil, err
	}
	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("no CSV inputs found")
	}

	graph, err := rt.session.Graph(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build schema graph: %w", err)
	}
	jobs, err := rt.session.Jobs(ctx, graph, inputs)
	if err != nil {
		return nil, nil, err
	}

	spec := rt.session.Spec(graph)
	rt.logger.Info("Planning merge...", zap.Int("inputs", len(inputs)), zap.Int("jobs", len(jobs)))
	plan, err := reconcile.Plan(ctx, spec, jobs, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to plan merge: %w", err)
	}
	return plan, spec, nil
}

// printPlanReport prints a formatted plan report using logger.
func printPlanReport(l *zap.Logger, plan *reconcile.ImportPlan) {
	s := plan.Summary()

	l.Info("Merge plan",
		zap.String("run_id", plan.RunID),
		zap.Int("tables", s.Tables),
		zap.Int("inserts", s.Inserts),
		zap.Int("updates", s.Updates),
		zap.Int("deletes", s.Deletes),
		zap.Int("skipped", s.Skipped),
		zap.Int("errors", s.Errors),
	)

	for _, w := range plan.Warnings {
		l.Warn("Schema warning", zap.String("warning", w))
	}

	for _, tp := range plan.Tables {
		fields := []zap.Field{
			zap.String("table", tp.Table),
			zap.Int("insert", tp.Count(reconcile.OpInsert)),
			zap.Int("update", tp.Count(reconcile.OpUpdate)),
			zap.Int("delete", tp.Count(reconcile.OpDelete)),
			zap.Int("skip", tp.Skipped),
		}
		if tp.Failed {
			l.Error("Table plan failed", append(fields, zap.Error(tp.Err))...)
			continue
		}
		l.Info("Table plan", fields...)

		for _, w := range tp.Warnings {
			l.Warn("Table warning", zap.String("table", tp.Table), zap.String("warning", w))
		}

		// Show a sample of row errors (max 5 per table)
		maxShow := min(5, len(tp.Errors))
		for _, rowErr := range tp.Errors[:maxShow] {
			l.Warn("Row error",
				zap.String("table", tp.Table),
				zap.String("at", rowErr.Provenance.String()),
				zap.String("error", rowErr.Message),
			)
		}
		if len(tp.Errors) > maxShow {
			l.Warn("Additional row errors not shown", zap.String("table", tp.Table), zap.Int("count", len(tp.Errors)-maxShow))
		}
	}
}
