package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pgmerge/core/convert"
	"pgmerge/core/identity"
	"pgmerge/core/record"
	"pgmerge/core/schema"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Plan computes the ImportPlan for a set of jobs. It does NOT apply anything;
// use Apply for that.
//
// Tables are planned concurrently (up to opts.Concurrency at once). Each
// table task owns its identity lookup exclusively. Schema-level problems
// (cycles, unknown tables) fail the whole call; row-level problems are
// collected in the table plans.
func Plan(ctx context.Context, spec *Spec, jobs []Job, opts Options) (*ImportPlan, error) {
	opts = opts.withDefaults()
	log := spec.logger()
	reg := spec.registry()

	for _, job := range jobs {
		if job.Source != nil {
			defer job.Source.Close()
		}
	}

	// Expand mixed jobs into one job per table
	var expanded []Job
	for _, job := range jobs {
		if _, ok := spec.Graph.Table(job.Table); !ok {
			return nil, &schema.SchemaError{Table: job.Table, Reason: "no such table in the run"}
		}
		if job.Source == nil {
			return nil, fmt.Errorf("job for table %s has no row source", job.Table)
		}
		if job.Columns != ColumnsMixed {
			expanded = append(expanded, job)
			continue
		}
		subJobs, err := expandMixed(ctx, spec.Graph, job)
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, subJobs...)
	}

	byTable := make(map[schema.TableID]Job, len(expanded))
	for _, job := range expanded {
		t, _ := spec.Graph.Table(job.Table)
		if _, dup := byTable[t.ID]; dup {
			return nil, &schema.SchemaError{Table: job.Table, Reason: "more than one job targets the table"}
		}
		byTable[t.ID] = job
	}

	order, err := spec.Graph.Order()
	if err != nil {
		return nil, err
	}

	plan := &ImportPlan{
		RunID:    uuid.NewString(),
		Warnings: append([]string(nil), spec.Graph.Warnings...),
	}
	for _, id := range order {
		if _, ok := byTable[id]; ok {
			plan.Tables = append(plan.Tables, &TablePlan{Table: spec.Graph.Tables[id].Name, ID: id})
		}
	}

	log.Info("Planning merge",
		zap.String("run_id", plan.RunID),
		zap.Int("tables", len(plan.Tables)),
		zap.String("lookup", string(opts.Lookup)),
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, tp := range plan.Tables {
		g.Go(func() error {
			p := &planner{
				spec:   spec,
				reg:    reg,
				table:  spec.Graph.Tables[tp.ID],
				job:    byTable[tp.ID],
				opts:   opts,
				logger: log.With(zap.String("run_id", plan.RunID), zap.String("table", tp.Table)),
				out:    tp,
			}
			return p.run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := plan.Summary()
	log.Info("Plan ready",
		zap.String("run_id", plan.RunID),
		zap.Int("inserts", summary.Inserts),
		zap.Int("updates", summary.Updates),
		zap.Int("deletes", summary.Deletes),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Duration("took", time.Since(start)),
	)
	return plan, nil
}

// planner computes the plan of one table.
type planner struct {
	spec   *Spec
	reg    *convert.Registry
	table  *schema.Table
	job    Job
	opts   Options
	logger *zap.Logger
	out    *TablePlan
}

// run fills p.out. Only infrastructure failures (reading input, querying
// the database) are returned; everything else ends up in the table plan.
func (p *planner) run(ctx context.Context) error {
	err := p.plan(ctx)
	if err == nil {
		if len(p.out.Errors) > 0 && !p.opts.ContinueOnError {
			p.fail(fmt.Errorf("%d rows could not be planned", len(p.out.Errors)))
		}
		return nil
	}

	var (
		schemaErr    *schema.SchemaError
		rowCycleErr  *schema.RowCycleError
		transformErr *convert.TransformError
	)
	if errors.As(err, &schemaErr) || errors.As(err, &rowCycleErr) || errors.As(err, &transformErr) {
		p.fail(err)
		return nil
	}
	return fmt.Errorf("planning %s: %w", p.table.Name, err)
}

func (p *planner) fail(err error) {
	p.out.Err = err
	p.out.Failed = true
	p.out.Ops = nil
	p.logger.Warn("Table plan failed", zap.Error(err))
}

func (p *planner) warn(msg string) {
	p.out.Warnings = append(p.out.Warnings, msg)
	p.logger.Warn(msg)
}

func (p *planner) plan(ctx context.Context) error {
	shape, warnings, err := newShaper(p.table, p.job.Columns, p.job.Source.Columns(), p.job.Transforms)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		p.warn(w)
	}
	if p.job.Rows == RowsExact {
		if kept := shape.unsupplied(); len(kept) > 0 {
			p.warn(fmt.Sprintf("table %s: exact rows keep the existing values of columns the input does not supply: %s",
				p.table.Name, strings.Join(kept, ",")))
		}
	}

	lookup, index, err := p.lookup(ctx)
	if err != nil {
		return err
	}
	resolver := identity.NewResolver(p.table, lookup, p.logger)
	resolver.AllowKeyChange = p.opts.AllowKeyChange

	var upserts, deletes []Operation
	var deleted []record.Row

	for {
		src, err := p.job.Source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		op, existing, err := p.diffRow(ctx, resolver, shape, src)
		if err != nil {
			var transformErr *convert.TransformError
			if errors.As(err, &transformErr) || isRowError(err) {
				p.out.Errors = append(p.out.Errors, newRowError(src.Provenance, err))
				continue
			}
			return err
		}
		switch {
		case op == nil:
			p.out.Skipped++
		case op.Kind == OpDelete:
			deletes = append(deletes, *op)
			deleted = append(deleted, existing)
		default:
			upserts = append(upserts, *op)
		}
	}

	if p.job.Rows == RowsExact {
		if len(p.out.Errors) > 0 {
			p.warn(fmt.Sprintf("table %s: not planning deletes because %d input rows failed", p.table.Name, len(p.out.Errors)))
		} else {
			extra, rows, err := p.unmatched(ctx, resolver, index)
			if err != nil {
				return err
			}
			deletes = append(deletes, extra...)
			deleted = append(deleted, rows...)
		}
	}

	ordered, deferred, err := orderRows(p.table, upserts, p.opts.RowCycles)
	if err != nil {
		return err
	}
	for _, op := range deferred {
		p.logger.Debug("Deferring self reference", zap.String("row", op.Provenance.String()))
	}
	deletes, warning := orderDeletes(p.table, deletes, deleted)
	if warning != "" {
		p.warn(warning)
	}

	p.out.Ops = append(append(ordered, deferred...), deletes...)
	return nil
}

// lookup builds the identity lookup selected by the options. The index is
// nil for cursor lookups.
func (p *planner) lookup(ctx context.Context) (identity.Lookup, *identity.Index, error) {
	if p.opts.Lookup == LookupCursor {
		return identity.NewCursorLookup(p.table, p.reg, p.spec.Store), nil, nil
	}
	index, err := identity.BuildIndex(ctx, p.table, p.reg, p.spec.Store)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range index.Warnings {
		p.warn(w)
	}
	return index, index, nil
}

// diffRow plans one source row. It returns a nil operation when the row
// needs no change, and for deletes the existing row being deleted.
func (p *planner) diffRow(ctx context.Context, resolver *identity.Resolver, shape *shaper, src record.SourceRow) (*Operation, record.Row, error) {
	raw, err := shape.shape(src.Values)
	if err != nil {
		return nil, nil, err
	}
	row, err := convertRow(p.reg, p.table, raw)
	if err != nil {
		return nil, nil, err
	}

	res, err := resolver.Resolve(ctx, row, src.Provenance, p.job.Rows == RowsRemoval)
	if err != nil {
		return nil, nil, err
	}

	if p.job.Rows == RowsRemoval {
		op := &Operation{
			Kind:       OpDelete,
			Table:      p.table.Name,
			Identity:   p.rowIdentity(res.Match.Row, res),
			Provenance: src.Provenance,
		}
		return op, res.Match.Row, nil
	}

	if res.New() {
		op := &Operation{
			Kind:       OpInsert,
			Table:      p.table.Name,
			Values:     row,
			Provenance: src.Provenance,
		}
		if pk, ok := identity.SetValues(p.table.Primary(), row); ok {
			op.Identity = Identity{Columns: p.table.Primary().Columns, Values: pk}
		}
		return op, nil, nil
	}

	// Value-level diff over the supplied columns outside the matched set
	matched := make(map[string]bool, len(res.Columns))
	for _, c := range res.Columns {
		matched[c] = true
	}
	changed := make(record.Row)
	for name, v := range row {
		if matched[name] {
			continue
		}
		if !convert.Equal(v, res.Match.Row[name]) {
			changed[name] = v
		}
	}
	if len(changed) == 0 {
		return nil, nil, nil
	}
	return &Operation{
		Kind:       OpUpdate,
		Table:      p.table.Name,
		Identity:   p.rowIdentity(res.Match.Row, res),
		Values:     changed,
		Provenance: src.Provenance,
	}, nil, nil
}

// rowIdentity picks how the operation addresses the matched row: by the set
// that matched, unless that set is conditional, in which case the primary
// set values of the existing row are used.
func (p *planner) rowIdentity(existing record.Row, res identity.Resolution) Identity {
	set := p.table.Identities[res.Set]
	if set.Condition == nil {
		return Identity{Columns: res.Columns, Values: res.Values}
	}
	if pk, ok := identity.SetValues(p.table.Primary(), existing); ok {
		return Identity{Columns: p.table.Primary().Columns, Values: pk}
	}
	return Identity{Columns: res.Columns, Values: res.Values}
}

// unmatched plans deletes for existing rows no input row matched.
func (p *planner) unmatched(ctx context.Context, resolver *identity.Resolver, index *identity.Index) ([]Operation, []record.Row, error) {
	var (
		ops  []Operation
		rows []record.Row
	)
	primary := p.table.Primary()
	visit := func(row record.Row) {
		if resolver.Claimed(row) {
			return
		}
		pk, ok := identity.SetValues(primary, row)
		if !ok {
			p.warn(fmt.Sprintf("table %s: cannot delete an unmatched row whose primary identity is NULL", p.table.Name))
			return
		}
		ops = append(ops, Operation{
			Kind:     OpDelete,
			Table:    p.table.Name,
			Identity: Identity{Columns: primary.Columns, Values: pk},
		})
		rows = append(rows, row)
	}

	if index != nil {
		for pos := 0; pos < index.Len(); pos++ {
			visit(index.Row(pos))
		}
		return ops, rows, nil
	}

	err := p.spec.Store.ScanRows(ctx, p.table, func(raw record.Row) error {
		visit(identity.Normalize(p.reg, p.table, raw))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan existing rows of %s: %w", p.table.Name, err)
	}
	return ops, rows, nil
}

// isRowError reports whether err is a per-row planning error.
func isRowError(err error) bool {
	var (
		conflict     *identity.IdentityConflictError
		unresolvable *identity.UnresolvableRowError
		ambiguous    *identity.AmbiguousMatchError
		conversion   *convert.ConversionError
	)
	return errors.As(err, &conflict) ||
		errors.As(err, &unresolvable) ||
		errors.As(err, &ambiguous) ||
		errors.As(err, &conversion)
}
