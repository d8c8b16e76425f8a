package reconcile

import (
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of a table or of a whole run.
type Status string

const (
	// StatusSuccess means every planned operation was applied.
	StatusSuccess Status = "success"
	// StatusPartial means some operations were applied and some were not.
	StatusPartial Status = "partial"
	// StatusFailed means nothing was applied because of an error.
	StatusFailed Status = "failed"
	// StatusSkipped means the table was not attempted because a table it
	// depends on failed.
	StatusSkipped Status = "skipped"
	// StatusPending means the table was not attempted (dry run, abort or
	// cancellation).
	StatusPending Status = "pending"
)

// TableReport holds the execution outcome of one table.
type TableReport struct {
	// Table is the table name.
	Table string `json:"table"`

	// Inserted counts applied inserts.
	Inserted int `json:"inserted"`

	// Updated counts applied updates, excluding deferred foreign key updates.
	Updated int `json:"updated"`

	// Deleted counts applied deletes.
	Deleted int `json:"deleted"`

	// Skipped counts source rows that needed no change.
	Skipped int `json:"skipped"`

	// Pending counts planned operations that were not applied.
	Pending int `json:"pending"`

	// Committed lists the 1-based numbers of committed batches.
	Committed []int `json:"committed_batches,omitempty"`

	// Errors lists planning and execution errors, with row provenance where
	// one exists.
	Errors []string `json:"errors,omitempty"`

	// Warnings lists non-fatal findings.
	Warnings []string `json:"warnings,omitempty"`

	// Status is the table's outcome.
	Status Status `json:"status"`

	planned int
	applied int
	failed  bool
}

func (t *TableReport) addError(err error) {
	t.Errors = append(t.Errors, err.Error())
}

// finish derives the table status from its counters.
func (t *TableReport) finish() {
	t.Pending = t.planned - t.applied
	switch {
	case t.Status == StatusSkipped && t.applied == 0:
	case t.applied == 0 && t.failed:
		t.Status = StatusFailed
	case t.applied == 0 && t.Pending > 0:
		t.Status = StatusPending
	case t.Pending > 0 || len(t.Errors) > 0:
		t.Status = StatusPartial
	default:
		t.Status = StatusSuccess
	}
}

// Report is the execution report of a run.
type Report struct {
	// RunID matches ImportPlan.RunID.
	RunID string `json:"run_id"`

	// Strategy is the application strategy used.
	Strategy Strategy `json:"strategy"`

	// DryRun is set when nothing was applied on purpose.
	DryRun bool `json:"dry_run"`

	// Tables holds one report per planned table, in plan order.
	Tables []*TableReport `json:"tables"`

	// Status is the overall outcome.
	Status Status `json:"status"`

	// Started and Finished bound the execution.
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Table returns the report of a table.
func (r *Report) Table(name string) (*TableReport, bool) {
	for _, t := range r.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return nil, false
}

// Totals sums the per-table counters.
func (r *Report) Totals() TableReport {
	var total TableReport
	total.Table = "total"
	for _, t := range r.Tables {
		total.Inserted += t.Inserted
		total.Updated += t.Updated
		total.Deleted += t.Deleted
		total.Skipped += t.Skipped
		total.Pending += t.Pending
	}
	return total
}

// finish derives every status and the overall outcome.
func (r *Report) finish() {
	r.Finished = time.Now()
	applied, clean := 0, true
	for _, t := range r.Tables {
		t.finish()
		applied += t.applied
		if t.Status != StatusSuccess {
			clean = false
		}
	}
	switch {
	case r.DryRun:
		r.Status = StatusPending
	case clean:
		r.Status = StatusSuccess
	case applied == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// LogStats writes one line per table and a total line.
func (r *Report) LogStats(log *zap.Logger) {
	lines := make([]*TableReport, 0, len(r.Tables)+1)
	lines = append(lines, r.Tables...)
	total := r.Totals()
	lines = append(lines, &total)
	for _, t := range lines {
		log.Info("Merge stats",
			zap.String("run_id", r.RunID),
			zap.String("table", t.Table),
			zap.Int("skip", t.Skipped),
			zap.Int("insert", t.Inserted),
			zap.Int("update", t.Updated),
			zap.Int("delete", t.Deleted),
			zap.Int("pending", t.Pending),
			zap.String("status", string(t.Status)),
		)
	}
}
