package merge

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"pgmerge/core/config"
	"pgmerge/core/convert"
	"pgmerge/core/database"
	"pgmerge/core/reconcile"
	"pgmerge/core/schema"
	"pgmerge/feature/csvsource"
	"pgmerge/feature/sqlstore"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Session holds everything a merge run needs apart from its inputs: the
// database, the job file and the CSV settings.
type Session struct {
	DB *gorm.DB
	// Schema is the database schema to introspect.
	Schema string
	// JobFile configures tables, jobs and asserted identities. May be nil.
	JobFile *config.JobFile
	// SkipUnidentified drops tables without a usable identity.
	SkipUnidentified bool
	// CSV configures input parsing.
	CSV    csvsource.Options
	Logger *zap.Logger

	store    *sqlstore.Store
	registry *convert.Registry
}

// NewSession creates a session. A nil job file means defaults only.
func NewSession(db *gorm.DB, schemaName string, jobs *config.JobFile, logger *zap.Logger) *Session {
	if jobs == nil {
		jobs = &config.JobFile{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		DB:      db,
		Schema:  schemaName,
		JobFile: jobs,
		Logger:  logger,
		store:    sqlstore.New(db, logger),
		registry: convert.NewRegistry(),
	}
}

// Store returns the row store over the session's database.
func (s *Session) Store() *sqlstore.Store {
	return s.store
}

// Graph introspects the database and builds the dependency graph of the
// tables the job file selects.
func (s *Session) Graph(ctx context.Context) (*schema.Graph, error) {
	cat, err := database.Introspect(ctx, s.DB, s.Schema)
	if err != nil {
		return nil, err
	}
	jf := s.JobFile
	graph, err := schema.Build(cat.Filter(jf.Include, jf.Exclude),
		schema.WithAssertedUnique(jf.Asserted()),
		schema.WithSkipUnidentified(s.SkipUnidentified),
		s.registry.Literals(),
	)
	if err != nil {
		return nil, err
	}
	for _, w := range graph.Warnings {
		s.Logger.Warn("Schema warning", zap.String("warning", w))
	}
	s.Logger.Debug("Schema graph built",
		zap.String("schema", s.Schema),
		zap.Int("tables", len(graph.Tables)),
	)
	return graph, nil
}

// Spec returns the engine specification for a run against graph.
func (s *Session) Spec(graph *schema.Graph) *reconcile.Spec {
	return &reconcile.Spec{
		Graph:    graph,
		Registry: s.registry,
		Store:    s.store,
		Logger:   s.Logger,
	}
}

// Jobs opens the inputs and pairs them with their job configuration.
//
// A job file entry claims the input named by its file; every other input
// becomes a default job for the table it is named after. Inputs naming no
// table of the graph are skipped with a warning. On error every source
// opened so far is closed.
func (s *Session) Jobs(ctx context.Context, graph *schema.Graph, inputs []csvsource.Input) (jobs []reconcile.Job, err error) {
	defer func() {
		if err != nil {
			for _, j := range jobs {
				_ = j.Source.Close()
			}
			jobs = nil
		}
	}()

	claimed := make(map[string]bool, len(inputs))
	tables := make(map[string]bool, len(inputs))
	for _, jc := range s.JobFile.Jobs {
		in, ok := csvsource.Find(inputs, path.Base(filepath.ToSlash(jc.FileName())))
		if !ok {
			s.Logger.Warn("No input for job", zap.String("table", jc.Table), zap.String("file", jc.FileName()))
			continue
		}
		src, err := in.Open(ctx, s.CSV)
		if err != nil {
			return jobs, err
		}
		job, err := jc.Build(src)
		if err != nil {
			_ = src.Close()
			return jobs, fmt.Errorf("job %s: %w", jc.Table, err)
		}
		jobs = append(jobs, job)
		claimed[in.Name] = true
		tables[jc.Table] = true
	}

	for _, in := range inputs {
		if claimed[in.Name] {
			continue
		}
		if _, ok := graph.Table(in.Table); !ok {
			s.Logger.Warn("Skipping input without a table", zap.String("input", in.Name))
			continue
		}
		if tables[in.Table] {
			s.Logger.Warn("Skipping input for a table that already has a job",
				zap.String("input", in.Name),
				zap.String("table", in.Table),
			)
			continue
		}
		src, err := in.Open(ctx, s.CSV)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, reconcile.Job{Table: in.Table, Source: src})
		tables[in.Table] = true
	}
	return jobs, nil
}
