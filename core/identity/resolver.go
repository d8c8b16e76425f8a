package identity

import (
	"context"
	"fmt"
	"strings"

	"pgmerge/core/convert"
	"pgmerge/core/record"
	"pgmerge/core/schema"

	"go.uber.org/zap"
)

// Resolution is the outcome of resolving one incoming row.
type Resolution struct {
	// Match is the existing row, or nil for a new row.
	Match *Match
	// Set is the index of the identity set that matched, -1 for a new row.
	Set int
	// Columns and Values identify the matched row by Set.
	Columns []string
	Values  []any
}

// New reports whether the row has no existing counterpart.
func (r Resolution) New() bool {
	return r.Match == nil
}

// Resolver applies the matching rules for one table. It is owned by a single
// table task and is not safe for concurrent use.
//
// The primary set is authoritative. When it matches, any alternate set that
// matches a different row is a conflict, and an alternate that matches
// nothing is ambiguous unless AllowKeyChange is set. When the primary set is
// evaluable but finds nothing while an alternate finds a row, the match is
// ambiguous. When the primary set cannot be evaluated, all evaluable
// alternates must agree.
type Resolver struct {
	table  *schema.Table
	lookup Lookup
	logger *zap.Logger

	// AllowKeyChange accepts a row that matches under one evaluable set but
	// not another, treating it as a change of the unmatched key.
	AllowKeyChange bool

	claimed map[string]record.Provenance
}

// NewResolver returns a resolver for table backed by lookup.
func NewResolver(table *schema.Table, lookup Lookup, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		table:   table,
		lookup:  lookup,
		logger:  logger,
		claimed: make(map[string]record.Provenance),
	}
}

// Claimed reports whether an existing row was matched by some incoming row.
// Rows are identified by their primary set values.
func (r *Resolver) Claimed(existing record.Row) bool {
	values, ok := SetValues(r.table.Primary(), existing)
	if !ok {
		return false
	}
	_, claimed := r.claimed["m:"+convert.Key(values)]
	return claimed
}

type candidate struct {
	set     int
	values  []any
	matches []Match
}

// Resolve matches a converted incoming row against the existing table.
// mustMatch is set for Removal semantics, where a new row is an error.
func (r *Resolver) Resolve(ctx context.Context, row record.Row, prov record.Provenance, mustMatch bool) (Resolution, error) {
	var evaluable []candidate
	for s, set := range r.table.Identities {
		values, ok := SetValues(set, row)
		if !ok {
			continue
		}
		matches, err := r.lookup.Find(ctx, s, values)
		if err != nil {
			return Resolution{}, err
		}
		if len(matches) > 1 {
			return Resolution{}, &AmbiguousMatchError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     fmt.Sprintf("%d existing rows share %s", len(matches), r.describe(s)),
			}
		}
		evaluable = append(evaluable, candidate{set: s, values: values, matches: matches})
	}

	if len(evaluable) == 0 {
		if mustMatch {
			return Resolution{}, &UnresolvableRowError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     "no identity set is fully supplied with non-NULL values",
			}
		}
		return r.claimNew(prov, nil)
	}

	var chosen *candidate
	for i := range evaluable {
		c := &evaluable[i]
		if len(c.matches) == 0 {
			continue
		}
		if chosen == nil {
			chosen = c
			continue
		}
		if !r.sameRow(chosen.matches[0].Row, c.matches[0].Row) {
			return Resolution{}, &IdentityConflictError{
				Table:      r.table.Name,
				Provenance: prov,
				Sets:       []string{r.describe(chosen.set), r.describe(c.set)},
			}
		}
	}

	if chosen == nil {
		if mustMatch {
			return Resolution{}, &UnresolvableRowError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     "no existing row matches " + r.describe(evaluable[0].set),
			}
		}
		return r.claimNew(prov, evaluable)
	}

	primaryEvaluable := evaluable[0].set == 0
	for _, c := range evaluable {
		if len(c.matches) > 0 {
			continue
		}
		if primaryEvaluable && c.set == 0 {
			return Resolution{}, &AmbiguousMatchError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     fmt.Sprintf("matches under %s but not under %s", r.describe(chosen.set), r.describe(0)),
			}
		}
		if !r.AllowKeyChange {
			return Resolution{}, &AmbiguousMatchError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     fmt.Sprintf("matches under %s but not under %s", r.describe(chosen.set), r.describe(c.set)),
			}
		}
		r.logger.Debug("Alternate identity value changes",
			zap.String("table", r.table.Name),
			zap.String("row", prov.String()),
			zap.String("set", r.describe(c.set)),
		)
	}

	match := chosen.matches[0]
	key := r.rowKey(match.Row)
	if prev, dup := r.claimed[key]; dup {
		return Resolution{}, &AmbiguousMatchError{
			Table:      r.table.Name,
			Provenance: prov,
			Reason:     "existing row already matched by " + prev.String(),
		}
	}
	r.claimed[key] = prov

	set := r.table.Identities[chosen.set]
	return Resolution{
		Match:   &match,
		Set:     chosen.set,
		Columns: set.Columns,
		Values:  chosen.values,
	}, nil
}

// claimNew records the identity keys of a new row so that a second incoming
// row with the same key is refused instead of producing a duplicate insert.
func (r *Resolver) claimNew(prov record.Provenance, evaluable []candidate) (Resolution, error) {
	keys := make([]string, 0, len(evaluable))
	for _, c := range evaluable {
		k := fmt.Sprintf("n:%d:%s", c.set, convert.Key(c.values))
		if prev, dup := r.claimed[k]; dup {
			return Resolution{}, &AmbiguousMatchError{
				Table:      r.table.Name,
				Provenance: prov,
				Reason:     fmt.Sprintf("%s duplicates the new row at %s", r.describe(c.set), prev),
			}
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		r.claimed[k] = prov
	}
	return Resolution{Set: -1}, nil
}

func (r *Resolver) rowKey(existing record.Row) string {
	values, ok := SetValues(r.table.Primary(), existing)
	if !ok {
		// Fall back to the full row for tables whose primary set is nullable.
		cols := existing.Columns()
		values = make([]any, len(cols))
		for i, c := range cols {
			values[i] = existing[c]
		}
	}
	return "m:" + convert.Key(values)
}

func (r *Resolver) sameRow(a, b record.Row) bool {
	return r.rowKey(a) == r.rowKey(b)
}

func (r *Resolver) describe(set int) string {
	return "(" + strings.Join(r.table.Identities[set].Columns, ",") + ")"
}
