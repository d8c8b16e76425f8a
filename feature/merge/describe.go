package merge

import (
	"pgmerge/core/schema"
)

// TableInfo describes one table of the graph.
type TableInfo struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	Identity []string `json:"identity"`
	// IdentitySets lists every identity set as "kind:columns".
	IdentitySets []string `json:"identity_sets"`
	// DependsOn lists the tables referenced by foreign keys, excluding the
	// table itself.
	DependsOn     []string `json:"depends_on,omitempty"`
	SelfReference bool     `json:"self_reference,omitempty"`
}

// Edge is one foreign key of the graph.
type Edge struct {
	Name string   `json:"name"`
	From string   `json:"from"`
	To   string   `json:"to"`
	On   []string `json:"on"`
}

// SchemaInfo is the inspection result of a graph.
type SchemaInfo struct {
	Schema   string      `json:"schema"`
	Tables   []TableInfo `json:"tables"`
	Edges    []Edge      `json:"edges"`
	Order    []string    `json:"order"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Describe summarises the graph. When tables are named, the result is
// restricted to them and every table they depend on.
func Describe(g *schema.Graph, tables ...string) (*SchemaInfo, error) {
	keep := make(map[string]bool)
	if len(tables) > 0 {
		closure, err := g.DependencyClosure(tables...)
		if err != nil {
			return nil, err
		}
		for _, n := range closure {
			keep[n] = true
		}
	}
	selected := func(name string) bool {
		return len(keep) == 0 || keep[name]
	}

	order, err := g.OrderNames()
	if err != nil {
		return nil, err
	}

	info := &SchemaInfo{Schema: g.Schema, Warnings: g.Warnings}
	for _, name := range order {
		if selected(name) {
			info.Order = append(info.Order, name)
		}
	}
	for _, t := range g.Tables {
		if !selected(t.Name) {
			continue
		}
		ti := TableInfo{
			Name:          t.Name,
			Columns:       t.ColumnNames(),
			Identity:      t.Primary().Columns,
			SelfReference: len(t.SelfReferences()) > 0,
		}
		for _, set := range t.Identities {
			ti.IdentitySets = append(ti.IdentitySets, set.Kind.String()+":"+set.Key())
		}
		for _, dep := range g.Dependencies(t.ID) {
			ti.DependsOn = append(ti.DependsOn, g.Tables[dep].Name)
		}
		info.Tables = append(info.Tables, ti)

		for _, e := range t.Outgoing {
			info.Edges = append(info.Edges, Edge{
				Name: e.Name,
				From: t.Name,
				To:   g.Tables[e.To].Name,
				On:   e.FromColumns,
			})
		}
	}
	return info, nil
}
