package config

import (
	"fmt"
	"time"

	"pgmerge/core/reconcile"
)

// MergeConfig holds the planning and execution settings of a merge run.
type MergeConfig struct {
	// Strategy is bulk or incremental.
	Strategy string `mapstructure:"strategy" default:"bulk"`
	// BatchSize bounds operations per incremental transaction and rows per
	// multi-row insert.
	BatchSize int `mapstructure:"batch_size" default:"500"`
	// TxScope is table or plan (bulk only).
	TxScope string `mapstructure:"tx_scope" default:"table"`
	// Concurrency is how many independent tables are processed at once.
	Concurrency int `mapstructure:"concurrency" default:"1"`
	// ContinueOnError skips failing rows and tables instead of aborting.
	ContinueOnError bool `mapstructure:"continue_on_error" default:"false"`
	// OpTimeoutSeconds is the deadline of each transaction; 0 disables it.
	OpTimeoutSeconds int `mapstructure:"op_timeout_seconds" default:"0"`
	// MaxRetries is how often a batch hitting a lock timeout is retried.
	MaxRetries int `mapstructure:"max_retries" default:"3"`
	// RetryBackoffMS is the first wait between retries; it doubles.
	RetryBackoffMS int `mapstructure:"retry_backoff_ms" default:"200"`
	// Lookup is memory or cursor.
	Lookup string `mapstructure:"lookup" default:"memory"`
	// RowCyclePolicy is defer or fail.
	RowCyclePolicy string `mapstructure:"row_cycle_policy" default:"defer"`
	// StrictIdentity refuses rows that match under their primary key but not
	// under another supplied identity; false lets such rows change that key.
	StrictIdentity bool `mapstructure:"strict_identity" default:"true"`
	// DryRun plans without applying.
	DryRun bool `mapstructure:"dry_run" default:"false"`
	// SkipUnidentified drops tables without a usable identity instead of failing.
	SkipUnidentified bool `mapstructure:"skip_unidentified" default:"false"`
	// JobFile is the optional YAML file describing per-table jobs.
	JobFile string `mapstructure:"job_file" default:"pgmerge.yaml"`
	// NullMarker is the CSV cell text read as NULL for text columns.
	NullMarker string `mapstructure:"null_marker" default:"\\N"`
}

// Options validates the configuration and converts it into engine options.
func (m MergeConfig) Options() (reconcile.Options, error) {
	opts := reconcile.Options{
		BatchSize:       m.BatchSize,
		Concurrency:     m.Concurrency,
		ContinueOnError: m.ContinueOnError,
		OpTimeout:       time.Duration(m.OpTimeoutSeconds) * time.Second,
		MaxRetries:      m.MaxRetries,
		RetryBackoff:    time.Duration(m.RetryBackoffMS) * time.Millisecond,
		AllowKeyChange:  !m.StrictIdentity,
		DryRun:          m.DryRun,
	}

	switch reconcile.Strategy(m.Strategy) {
	case reconcile.StrategyBulk, reconcile.StrategyIncremental, "":
		opts.Strategy = reconcile.Strategy(m.Strategy)
	default:
		return opts, fmt.Errorf("merge.strategy must be bulk or incremental, got %q", m.Strategy)
	}
	switch reconcile.TxScope(m.TxScope) {
	case reconcile.TxPerTable, reconcile.TxPerPlan, "":
		opts.TxScope = reconcile.TxScope(m.TxScope)
	default:
		return opts, fmt.Errorf("merge.tx_scope must be table or plan, got %q", m.TxScope)
	}
	switch reconcile.LookupMode(m.Lookup) {
	case reconcile.LookupMemory, reconcile.LookupCursor, "":
		opts.Lookup = reconcile.LookupMode(m.Lookup)
	default:
		return opts, fmt.Errorf("merge.lookup must be memory or cursor, got %q", m.Lookup)
	}
	switch reconcile.RowCyclePolicy(m.RowCyclePolicy) {
	case reconcile.RowCyclesDefer, reconcile.RowCyclesFail, "":
		opts.RowCycles = reconcile.RowCyclePolicy(m.RowCyclePolicy)
	default:
		return opts, fmt.Errorf("merge.row_cycle_policy must be defer or fail, got %q", m.RowCyclePolicy)
	}
	if m.BatchSize < 0 || m.Concurrency < 0 || m.MaxRetries < 0 {
		return opts, fmt.Errorf("merge.batch_size, merge.concurrency and merge.max_retries must not be negative")
	}
	return opts, nil
}
