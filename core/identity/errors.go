package identity

import (
	"fmt"
	"strings"

	"pgmerge/core/record"
)

// IdentityConflictError reports a row that matches different existing rows
// under different identity sets.
type IdentityConflictError struct {
	Table      string
	Provenance record.Provenance
	// Sets names the identity sets that disagree, e.g. "(id)" and "(email)".
	Sets []string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("%s: %s matches different existing rows under %s",
		e.Provenance, e.Table, strings.Join(e.Sets, " and "))
}

// UnresolvableRowError reports a row that must be matched (Removal) but cannot be.
type UnresolvableRowError struct {
	Table      string
	Provenance record.Provenance
	Reason     string
}

func (e *UnresolvableRowError) Error() string {
	return fmt.Sprintf("%s: cannot resolve row of %s: %s", e.Provenance, e.Table, e.Reason)
}

// AmbiguousMatchError reports a row whose match cannot be decided safely.
type AmbiguousMatchError struct {
	Table      string
	Provenance record.Provenance
	Reason     string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%s: ambiguous match in %s: %s", e.Provenance, e.Table, e.Reason)
}
