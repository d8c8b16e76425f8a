package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pgmerge/core/record"
	"pgmerge/core/schema"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Apply executes an import plan and reports per-table outcomes. The report is
// returned even when err is non-nil.
//
// Inserts and updates are applied table by table in plan order; deletes are
// applied afterwards in reverse order, so rows are never removed while rows
// of other tables still reference them. Cancellation of ctx is honoured
// between batches and tables only: a started transaction always runs to
// commit or rollback.
func Apply(ctx context.Context, spec *Spec, plan *ImportPlan, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	e := &executor{
		spec:   spec,
		opts:   opts,
		logger: spec.logger().With(zap.String("run_id", plan.RunID)),
		report: &Report{RunID: plan.RunID, Strategy: opts.Strategy, DryRun: opts.DryRun, Started: time.Now()},
		byID:   make(map[schema.TableID]*TableReport),
	}

	for _, tp := range plan.Tables {
		tr := &TableReport{
			Table:    tp.Table,
			Skipped:  tp.Skipped,
			Warnings: tp.Warnings,
			planned:  len(tp.Ops),
		}
		for _, rowErr := range tp.Errors {
			tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %s", rowErr.Provenance, rowErr.Message))
		}
		if tp.Err != nil {
			tr.addError(tp.Err)
		}
		tr.failed = tp.Failed || len(tp.Errors) > 0
		e.report.Tables = append(e.report.Tables, tr)
		e.byID[tp.ID] = tr
	}

	if opts.DryRun {
		e.report.finish()
		return e.report, nil
	}

	if plan.Failed() && !opts.ContinueOnError {
		e.report.finish()
		return e.report, fmt.Errorf("plan has failed tables, nothing applied")
	}

	upserts, deletes := e.units(plan)
	e.logger.Info("Applying plan",
		zap.String("strategy", string(opts.Strategy)),
		zap.String("tx_scope", string(opts.TxScope)),
		zap.Int("tables", len(plan.Tables)),
	)

	var err error
	if opts.Strategy == StrategyBulk && opts.TxScope == TxPerPlan {
		err = e.applyWhole(ctx, upserts, deletes)
	} else {
		err = e.runPhase(ctx, upserts, e.upsertWaits(upserts))
		if err == nil || opts.ContinueOnError {
			if phaseErr := e.runPhase(ctx, deletes, e.deleteWaits(upserts, deletes)); err == nil {
				err = phaseErr
			}
		}
	}

	e.report.finish()
	e.report.LogStats(e.logger)
	return e.report, err
}

// Run plans and applies in one call. It returns the plan, the report and
// the first error.
func Run(ctx context.Context, spec *Spec, jobs []Job, opts Options) (*ImportPlan, *Report, error) {
	plan, err := Plan(ctx, spec, jobs, opts)
	if err != nil {
		return nil, nil, err
	}
	report, err := Apply(ctx, spec, plan, opts)
	return plan, report, err
}

type executor struct {
	spec   *Spec
	opts   Options
	logger *zap.Logger
	report *Report
	byID   map[schema.TableID]*TableReport

	// aborted stops units that have not started once any unit fails and
	// continue-on-error is off.
	aborted atomic.Bool
}

// unit is one table's operations for one phase.
type unit struct {
	table  *schema.Table
	plan   *TablePlan
	ops    []Operation
	report *TableReport
	phase  string

	done chan struct{}
	// ok is written before done is closed.
	ok bool
}

// units splits table plans into the upsert phase (plan order) and the delete
// phase (reverse plan order).
func (e *executor) units(plan *ImportPlan) (upserts, deletes []*unit) {
	for _, tp := range plan.Tables {
		var writes, removals []Operation
		for _, op := range tp.Ops {
			if op.Kind == OpDelete {
				removals = append(removals, op)
			} else {
				writes = append(writes, op)
			}
		}
		table := e.spec.Graph.Tables[tp.ID]
		tr := e.byID[tp.ID]
		upserts = append(upserts, &unit{table: table, plan: tp, ops: writes, report: tr, phase: "upsert", done: make(chan struct{})})
		deletes = append(deletes, &unit{table: table, plan: tp, ops: removals, report: tr, phase: "delete", done: make(chan struct{})})
	}
	for i, j := 0, len(deletes)-1; i < j; i, j = i+1, j-1 {
		deletes[i], deletes[j] = deletes[j], deletes[i]
	}
	return upserts, deletes
}

// upsertWaits makes a table's upserts wait for the upserts of every table it
// depends on.
func (e *executor) upsertWaits(upserts []*unit) map[*unit][]*unit {
	byID := make(map[schema.TableID]*unit, len(upserts))
	for _, u := range upserts {
		byID[u.table.ID] = u
	}
	waits := make(map[*unit][]*unit, len(upserts))
	for _, u := range upserts {
		for _, dep := range e.spec.Graph.Dependencies(u.table.ID) {
			if d, ok := byID[dep]; ok {
				waits[u] = append(waits[u], d)
			}
		}
	}
	return waits
}

// deleteWaits makes a table's deletes wait for its own upserts and for the
// deletes of every table that depends on it.
func (e *executor) deleteWaits(upserts, deletes []*unit) map[*unit][]*unit {
	own := make(map[schema.TableID]*unit, len(upserts))
	for _, u := range upserts {
		own[u.table.ID] = u
	}
	byID := make(map[schema.TableID]*unit, len(deletes))
	for _, u := range deletes {
		byID[u.table.ID] = u
	}
	waits := make(map[*unit][]*unit, len(deletes))
	for _, u := range deletes {
		waits[u] = append(waits[u], own[u.table.ID])
		for _, dep := range e.spec.Graph.Dependents(u.table.ID) {
			if d, ok := byID[dep]; ok {
				waits[u] = append(waits[u], d)
			}
		}
	}
	return waits
}

// runPhase applies units, each after the units it waits for. With the bulk
// per-table strategy and Concurrency > 1 independent units run in parallel;
// otherwise units run one at a time in slice order, which already satisfies
// the waits.
func (e *executor) runPhase(ctx context.Context, units []*unit, waits map[*unit][]*unit) error {
	concurrent := e.opts.Strategy == StrategyBulk && e.opts.Concurrency > 1

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
		sem      = semaphore.NewWeighted(int64(e.opts.Concurrency))
	)
	remember := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	run := func(u *unit) {
		defer close(u.done)
		for _, w := range waits[u] {
			<-w.done
			if !w.ok {
				e.skip(u, fmt.Errorf("%w: %s %s", ErrDependencyFailed, w.table.Name, w.phase))
				return
			}
		}
		if e.aborted.Load() || ctx.Err() != nil {
			return
		}
		if concurrent {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
		}
		if err := e.applyUnit(ctx, u); err != nil {
			remember(err)
			if !e.opts.ContinueOnError {
				e.aborted.Store(true)
			}
			return
		}
		u.ok = true
	}

	for _, u := range units {
		if u.plan.Failed {
			close(u.done)
			continue
		}
		if concurrent {
			wg.Add(1)
			go func() {
				defer wg.Done()
				run(u)
			}()
			continue
		}
		run(u)
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

func (e *executor) skip(u *unit, err error) {
	if !u.report.failed {
		u.report.Status = StatusSkipped
	}
	u.report.addError(err)
	e.logger.Warn("Skipping table", zap.String("table", u.table.Name), zap.String("phase", u.phase), zap.Error(err))
}

// batches splits a unit's operations into transactions: bounded batches for
// the incremental strategy, one batch otherwise.
func (e *executor) batches(ops []Operation) [][]Operation {
	if len(ops) == 0 {
		return nil
	}
	if e.opts.Strategy != StrategyIncremental {
		return [][]Operation{ops}
	}
	var out [][]Operation
	for start := 0; start < len(ops); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(ops))
		out = append(out, ops[start:end])
	}
	return out
}

// applyUnit applies one table phase batch by batch.
func (e *executor) applyUnit(ctx context.Context, u *unit) error {
	log := e.logger.With(zap.String("table", u.table.Name), zap.String("phase", u.phase))
	batches := e.batches(u.ops)
	var committed []int

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return e.stopped(u, committed, i, len(batches), err)
		}

		err := e.withRetry(ctx, u.table.Name, func(txCtx context.Context) error {
			tx, err := e.spec.Store.Begin(txCtx)
			if err != nil {
				return err
			}
			if err := e.execOps(txCtx, tx, u.table, batch); err != nil {
				_ = tx.Rollback()
				return err
			}
			return tx.Commit()
		})
		if err != nil {
			return e.stopped(u, committed, i, len(batches), err)
		}

		committed = append(committed, i+1)
		u.report.Committed = append(u.report.Committed, i+1)
		e.count(u.report, batch)
		log.Debug("Batch committed", zap.Int("batch", i+1), zap.Int("rows", len(batch)))
	}
	return nil
}

// stopped records why a unit stopped at batch index i.
func (e *executor) stopped(u *unit, committed []int, i, total int, err error) error {
	u.report.failed = true
	pending := make([]int, 0, total-i)
	for b := i + 1; b <= total; b++ {
		pending = append(pending, b)
	}
	if len(committed) > 0 {
		err = &PartialApplyError{Table: u.table.Name, Committed: committed, Pending: pending, Err: err}
	} else {
		err = fmt.Errorf("table %s %s: %w", u.table.Name, u.phase, err)
	}
	u.report.addError(err)
	e.logger.Error("Table apply failed", zap.String("table", u.table.Name), zap.String("phase", u.phase), zap.Error(err))
	return err
}

// applyWhole applies every unit inside one transaction.
func (e *executor) applyWhole(ctx context.Context, upserts, deletes []*unit) error {
	var active []*unit
	for _, u := range append(append([]*unit(nil), upserts...), deletes...) {
		if u.plan.Failed {
			continue
		}
		active = append(active, u)
	}

	err := e.withRetry(ctx, "plan", func(txCtx context.Context) error {
		tx, err := e.spec.Store.Begin(txCtx)
		if err != nil {
			return err
		}
		for _, u := range active {
			if err := ctx.Err(); err != nil {
				_ = tx.Rollback()
				return err
			}
			if err := e.execOps(txCtx, tx, u.table, u.ops); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("table %s %s: %w", u.table.Name, u.phase, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		for _, u := range active {
			u.report.failed = true
		}
		if len(active) > 0 {
			active[0].report.addError(err)
		}
		e.logger.Error("Plan transaction rolled back", zap.Error(err))
		return err
	}

	for _, u := range active {
		e.count(u.report, u.ops)
	}
	return nil
}

func (e *executor) count(tr *TableReport, ops []Operation) {
	for _, op := range ops {
		tr.applied++
		switch {
		case op.Deferred:
		case op.Kind == OpInsert:
			tr.Inserted++
		case op.Kind == OpUpdate:
			tr.Updated++
		case op.Kind == OpDelete:
			tr.Deleted++
		}
	}
}

// execOps runs operations inside a transaction, in order. Consecutive
// inserts with the same column set use BatchInserter when the transaction
// supports it.
func (e *executor) execOps(ctx context.Context, tx Tx, table *schema.Table, ops []Operation) error {
	batcher, canBatch := tx.(BatchInserter)

	for i := 0; i < len(ops); {
		op := ops[i]
		if canBatch && op.Kind == OpInsert {
			cols := op.Values.Columns()
			j := i + 1
			for j < len(ops) && j-i < e.opts.BatchSize && ops[j].Kind == OpInsert && sameColumns(cols, ops[j].Values) {
				j++
			}
			if j-i > 1 {
				rows := make([]record.Row, 0, j-i)
				for _, o := range ops[i:j] {
					rows = append(rows, o.Values)
				}
				if err := batcher.InsertBatch(ctx, table, cols, rows); err != nil {
					return fmt.Errorf("failed to insert %d rows starting at %s: %w", len(rows), op.Provenance, err)
				}
				i = j
				continue
			}
		}

		var err error
		switch op.Kind {
		case OpInsert:
			err = tx.Insert(ctx, table, op.Values)
		case OpUpdate:
			err = tx.Update(ctx, table, op.Identity, op.Values)
		case OpDelete:
			err = tx.Delete(ctx, table, op.Identity)
		}
		if err != nil {
			return fmt.Errorf("%s %s %s: %w", op.Kind, table.Name, op.Identity, err)
		}
		i++
	}
	return nil
}

func sameColumns(cols []string, row record.Row) bool {
	if len(cols) != len(row) {
		return false
	}
	for _, c := range cols {
		if !row.Has(c) {
			return false
		}
	}
	return true
}

// withRetry runs fn in a fresh transaction context, retrying lock timeouts
// with exponential backoff. The transaction context is detached from ctx's
// cancellation so a started transaction is never interrupted half way; it
// carries the per-operation deadline instead.
func (e *executor) withRetry(ctx context.Context, unitName string, fn func(txCtx context.Context) error) error {
	backoff := e.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		txCtx, cancel := context.WithoutCancel(ctx), context.CancelFunc(func() {})
		if e.opts.OpTimeout > 0 {
			txCtx, cancel = context.WithTimeout(txCtx, e.opts.OpTimeout)
		}
		err := fn(txCtx)
		cancel()

		if err == nil || !IsLockTimeout(err) || attempt >= e.opts.MaxRetries {
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				e.logger.Warn("Transaction deadline exceeded", zap.String("table", unitName))
			}
			return err
		}

		e.logger.Warn("Lock timeout, retrying",
			zap.String("table", unitName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
