package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"pgmerge/core/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags for the merge command
	mergeCmdFlags mergeFlags
	dryRunMerge   bool
	yesConfirm    bool
)

// mergeCmd plans and applies a merge.
var mergeCmd = &cobra.Command{
	Use:   "merge [dir]",
	Short: "Merge CSV inputs into the database",
	Long: `Reads <table>.csv inputs from a directory (or the storage bucket with
--bucket), plans the changes and applies them after confirmation.

Tables are processed in foreign key order. Per-table row and column semantics
come from the job file (pgmerge.yaml by default).

Examples:
  # Plan, confirm interactively, apply
  pgmerge merge ./export

  # Apply without a prompt, one short transaction per batch
  pgmerge merge ./export --yes --strategy incremental

  # Read inputs from the bucket under imports/
  pgmerge merge --bucket --prefix imports --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmdFlags.register(mergeCmd)
	mergeCmd.Flags().BoolVar(&dryRunMerge, "dry-run", false, "Force dry-run (no mutations even with --yes)")
	mergeCmd.Flags().BoolVar(&yesConfirm, "yes", false, "Auto-confirm the merge (non-interactive)")
	RootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(mergeCmdFlags.session)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts, err := mergeCmdFlags.options(rt)
	if err != nil {
		return err
	}
	if dryRunMerge {
		opts.DryRun = true
	}

	// Step 1: Plan (always runs)
	plan, spec, err := buildPlan(ctx, rt, mergeCmdFlags.input, dirArg(args), opts)
	if err != nil {
		return err
	}

	// Step 2: Print report
	printPlanReport(rt.logger, plan)

	if opts.DryRun {
		rt.logger.Info("Dry-run mode: No changes were made.")
		return nil
	}

	s := plan.Summary()
	if s.Inserts+s.Updates+s.Deletes == 0 {
		rt.logger.Info("Nothing to merge: the database already matches the inputs.")
		return nil
	}
	if plan.Failed() && !opts.ContinueOnError {
		return fmt.Errorf("plan has failed tables; fix the inputs or use --continue-on-error")
	}

	// Step 3: Confirm
	if !confirmMerge(s) {
		rt.logger.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}

	// Step 4: Apply
	rt.logger.Info("Applying merge...", zap.String("strategy", string(opts.Strategy)))
	report, err := reconcile.Apply(ctx, spec, plan, opts)
	if report != nil && report.Status != reconcile.StatusSuccess {
		for _, tr := range report.Tables {
			for _, e := range tr.Errors {
				rt.logger.Warn("Table error", zap.String("table", tr.Table), zap.String("error", e))
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to apply merge: %w", err)
	}

	rt.logger.Info("Merge finished", zap.String("run_id", report.RunID), zap.String("status", string(report.Status)))
	return nil
}

// confirmMerge prompts the user for confirmation or uses --yes flag.
func confirmMerge(s reconcile.PlanSummary) bool {
	if yesConfirm {
		fmt.Println("\n✓ Auto-confirmed via --yes flag")
		return true
	}

	fmt.Printf("\n⚠️  %d inserts, %d updates, %d deletes. Type 'yes' to apply: ", s.Inserts, s.Updates, s.Deletes)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(response)
	return response == "yes"
}
