package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"pgmerge/core/identity"
	"pgmerge/core/record"
	"pgmerge/core/schema"
	"pgmerge/core/utils"

	"go.uber.org/zap"
)

// Result describes one exported table.
type Result struct {
	Table string `json:"table"`
	Name  string `json:"name"`
	Rows  int    `json:"rows"`
}

// Exporter writes tables as CSV files with a header line, in the format the
// merge command reads back.
type Exporter struct {
	scanner    identity.RowScanner
	logger     *zap.Logger
	nullMarker string
}

// New creates an exporter reading rows through scanner. NULL is written as
// nullMarker (empty by default).
func New(scanner identity.RowScanner, logger *zap.Logger, nullMarker string) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{scanner: scanner, logger: logger, nullMarker: nullMarker}
}

// Export writes every table to target as <table>.csv. columns optionally
// restricts the exported columns of a table.
func (e *Exporter) Export(ctx context.Context, tables []*schema.Table, columns map[string][]string, target Target) ([]Result, error) {
	results := make([]Result, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.exportTable(ctx, t, columns[t.Name], target)
		if err != nil {
			return results, err
		}
		e.logger.Info("Exported table",
			zap.String("table", res.Table),
			zap.String("name", res.Name),
			zap.Int("rows", res.Rows),
		)
		results = append(results, res)
	}
	return results, nil
}

func (e *Exporter) exportTable(ctx context.Context, table *schema.Table, cols []string, target Target) (Result, error) {
	if len(cols) == 0 {
		cols = table.ColumnNames()
	}
	for _, c := range cols {
		if !table.HasColumn(c) {
			return Result{}, fmt.Errorf("cannot export %s: unknown column %s", table.Name, c)
		}
	}

	name := table.Name + ".csv"
	w, err := target.Create(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", name, err)
	}

	res := Result{Table: table.Name, Name: w.Name()}
	cw := csv.NewWriter(w)
	err = cw.Write(cols)
	if err == nil {
		line := make([]string, len(cols))
		err = e.scanner.ScanRows(ctx, table, func(row record.Row) error {
			for i, c := range cols {
				line[i] = e.format(row[c])
			}
			res.Rows++
			return cw.Write(line)
		})
	}
	if err == nil {
		cw.Flush()
		err = cw.Error()
	}
	if err != nil {
		w.Abort()
		return Result{}, fmt.Errorf("failed to export %s: %w", table.Name, err)
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to write %s: %w", name, err)
	}
	return res, nil
}

// format renders a scanned value so that the value converter reads it back
// unchanged.
func (e *Exporter) format(v any) string {
	switch x := v.(type) {
	case nil:
		return e.nullMarker
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999999Z07:00")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	}
	return utils.ToString(v)
}
