package cmd

import (
	"context"

	"pgmerge/core/schema"
	"pgmerge/feature/export"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportSession sessionFlags
	exportInput   inputFlags
	exportTables  []string
)

// exportCmd writes tables as CSV files that merge reads back.
var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Export tables to <table>.csv files",
	Long: `Writes every selected table as <table>.csv with a header line, to a
directory or, with --bucket, to the storage bucket. Column subsets per table
come from the export section of the job file.

Examples:
  # Export every table into ./export
  pgmerge export ./export

  # Export orders and the tables it depends on to the bucket
  pgmerge export --bucket --prefix snapshots --table orders`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportSession.register(exportCmd)
	exportInput.register(exportCmd)
	exportCmd.Flags().StringSliceVar(&exportTables, "table", nil, "Export these tables and the tables they depend on")
	RootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(exportSession)
	if err != nil {
		return err
	}
	defer rt.Close()

	graph, err := rt.session.Graph(ctx)
	if err != nil {
		return err
	}
	tables := graph.Tables
	if len(exportTables) > 0 {
		names, err := graph.DependencyClosure(exportTables...)
		if err != nil {
			return err
		}
		tables = make([]*schema.Table, 0, len(names))
		for _, n := range names {
			t, _ := graph.Table(n)
			tables = append(tables, t)
		}
	}

	var target export.Target = export.DirTarget{Dir: dirArg(args)}
	if exportInput.bucket {
		client, prefix, err := rt.storageClient(ctx, exportInput, true)
		if err != nil {
			return err
		}
		target = export.BucketTarget{Client: client, Bucket: rt.cfg.Storage.Bucket, Prefix: prefix}
	}

	exporter := export.New(rt.session.Store(), rt.logger, rt.cfg.Merge.NullMarker)
	results, err := exporter.Export(ctx, tables, rt.jobs.ExportColumns(), target)
	if err != nil {
		return err
	}

	rows := 0
	for _, r := range results {
		rows += r.Rows
	}
	rt.logger.Info("Export finished", zap.Int("tables", len(results)), zap.Int("rows", rows))
	return nil
}
