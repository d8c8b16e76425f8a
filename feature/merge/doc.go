// Package merge wires the database, the job file and CSV inputs into merge
// runs. It is shared by the command line and the HTTP API.
//
// A Session introspects the database into a schema graph, opens the inputs
// as row sources and pairs each with its job configuration:
//
//	s := merge.NewSession(db, cfg.Database.SchemaName(), jobFile, logger)
//	graph, err := s.Graph(ctx)
//	jobs, err := s.Jobs(ctx, graph, inputs)
//	plan, err := reconcile.Plan(ctx, s.Spec(graph), jobs, opts)
//
// Describe summarises a graph for inspection.
package merge
